// Package account models the individual and group accounts licenses are
// granted to.
package account

import (
	"slices"
	"strings"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

type Account struct {
	types.Entity
	ID       id.AccountID      `json:"id"`
	AppID    string            `json:"app_id" validate:"required"`
	Name     string            `json:"name"`
	Kind     Kind              `json:"kind" validate:"required,oneof=individual group"`
	Members  []string          `json:"members,omitempty"`
	Codes    []string          `json:"codes,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the account is a group account.
func (a *Account) IsGroup() bool { return a.Kind == KindGroup }

// HasMember reports whether userID belongs to the account.
func (a *Account) HasMember(userID string) bool {
	return userID != "" && slices.Contains(a.Members, userID)
}

// AddMember adds userID and reports whether it was new.
func (a *Account) AddMember(userID string) bool {
	if userID == "" || a.HasMember(userID) {
		return false
	}
	a.Members = append(a.Members, userID)
	return true
}

// HasAnyCode reports whether the account carries any of codes, compared
// case-insensitively.
func (a *Account) HasAnyCode(codes ...string) bool {
	for _, c := range codes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, own := range a.Codes {
			if strings.ToLower(strings.TrimSpace(own)) == c {
				return true
			}
		}
	}
	return false
}

// Validate checks struct tags.
func (a *Account) Validate() error {
	return types.Validate(a)
}

// ParseCodes splits a comma-delimited code list, dropping blanks.
func ParseCodes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if c := strings.ToLower(strings.TrimSpace(part)); c != "" {
			out = append(out, c)
		}
	}
	return out
}
