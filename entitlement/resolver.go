// Package entitlement answers access questions: which content an account
// covers and whether a user of that account may open a given item.
//
// The Resolver is pure with respect to licenses: callers pass the
// account's licenses in and the Resolver never mutates them. Catalog
// reads for the same tenant are coalesced.
package entitlement

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/tags"
)

// Resolver computes access decisions over a content catalog.
type Resolver struct {
	catalog       content.Catalog
	defaults      *policy.Terms
	grace         period.GraceFunc
	visibleStates []string
	freeAccess    FreeAccessPolicy

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaults sets the system-default terms tier.
func WithDefaults(defaults *policy.Terms) Option {
	return func(r *Resolver) { r.defaults = defaults }
}

// WithGrace sets the grace hook applied after a period ends.
func WithGrace(grace period.GraceFunc) Option {
	return func(r *Resolver) { r.grace = grace }
}

// WithVisibleStates sets the workflow states license holders can see.
func WithVisibleStates(states ...string) Option {
	return func(r *Resolver) { r.visibleStates = states }
}

// WithFreeAccess sets the free-access policy.
func WithFreeAccess(p FreeAccessPolicy) Option {
	return func(r *Resolver) { r.freeAccess = p }
}

// NewResolver returns a Resolver reading from catalog.
func NewResolver(catalog content.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:       catalog,
		grace:         period.NoGrace,
		visibleStates: content.DefaultVisibleStates,
		freeAccess:    ItemFlag,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VisibleStates returns the workflow states the Resolver lists.
func (r *Resolver) VisibleStates() []string { return slices.Clone(r.visibleStates) }

// grant is a license that currently grants access, with its resolved
// tag pattern.
type grant struct {
	lic     *license.License
	pattern tags.Pattern
}

// grants returns the licenses selected by keep, ordered by the
// tie-break: earliest period start, then ascending id.
func (r *Resolver) grants(licenses []*license.License, keep func(*license.License, policy.Effective) bool) []grant {
	var out []grant
	for _, l := range licenses {
		if l == nil {
			continue
		}
		eff := l.Effective(r.defaults)
		if !keep(l, eff) {
			continue
		}
		out = append(out, grant{lic: l, pattern: eff.Tags})
	}
	slices.SortFunc(out, func(a, b grant) int {
		if c := a.lic.PeriodStart.Compare(b.lic.PeriodStart); c != 0 {
			return c
		}
		return cmp.Compare(a.lic.ID.String(), b.lic.ID.String())
	})
	return out
}

func (r *Resolver) active(now time.Time) func(*license.License, policy.Effective) bool {
	return func(l *license.License, eff policy.Effective) bool {
		return l.IsEffectivelyActive(now, eff, r.grace)
	}
}

// reportable keeps effectively active licenses plus suspended ones whose
// window still holds.
func (r *Resolver) reportable(now time.Time) func(*license.License, policy.Effective) bool {
	return func(l *license.License, eff policy.Effective) bool {
		if l.IsEffectivelyActive(now, eff, r.grace) {
			return true
		}
		return l.State == license.StateSuspended && l.Activated && l.Window().Contains(now, r.grace)
	}
}

// allow grants access through g, valid until its window closes.
func (r *Resolver) allow(g grant) Decision {
	return Decision{
		Allowed:         true,
		GrantingLicense: g.lic.ID,
		Reason:          ReasonLicense,
		ValidUntil:      g.lic.Window().AccessEnd(r.grace),
	}
}

// index lists the tenant's visible content once per concurrent burst of
// callers.
func (r *Resolver) index(ctx context.Context, appID string) (*content.Index, error) {
	v, err, _ := r.group.Do(appID, func() (any, error) {
		items, err := r.catalog.ListContent(ctx, appID, r.visibleStates)
		if err != nil {
			return nil, fmt.Errorf("entitlement: list content for %s: %w", appID, err)
		}
		return content.NewIndex(items), nil
	})
	if err != nil {
		return nil, err
	}
	idx, _ := v.(*content.Index)
	return idx, nil
}

// CoveredContent returns every visible item the account's effectively
// active licenses cover, sorted by id.
func (r *Resolver) CoveredContent(ctx context.Context, acct *account.Account, licenses []*license.License, now time.Time) ([]content.Item, error) {
	return r.covered(ctx, acct, r.grants(licenses, r.active(now)))
}

// CoveredContentForReporting is CoveredContent with suspended licenses
// counted as well. It never feeds access decisions.
func (r *Resolver) CoveredContentForReporting(ctx context.Context, acct *account.Account, licenses []*license.License, now time.Time) ([]content.Item, error) {
	return r.covered(ctx, acct, r.grants(licenses, r.reportable(now)))
}

func (r *Resolver) covered(ctx context.Context, acct *account.Account, gs []grant) ([]content.Item, error) {
	if len(gs) == 0 {
		return nil, nil
	}
	idx, err := r.index(ctx, acct.AppID)
	if err != nil {
		return nil, err
	}
	for _, g := range gs {
		if g.pattern.IncludesAll {
			return idx.Items(), nil
		}
	}
	return idx.Closure(func(it content.Item) bool {
		for _, g := range gs {
			if g.pattern.Match(it.Tag) {
				return true
			}
		}
		return false
	}), nil
}

// CanAccess decides whether userID of acct may open item. When several
// licenses cover the item, the one with the earliest period start wins,
// then the lowest id.
func (r *Resolver) CanAccess(ctx context.Context, acct *account.Account, userID string, item content.Item, licenses []*license.License, now time.Time) (Decision, error) {
	if r.freeAccess != nil && r.freeAccess(item) {
		return Decision{Allowed: true, Reason: ReasonFreeAccess}, nil
	}
	if !item.InStates(r.visibleStates) {
		return Decision{Reason: ReasonNotVisible}, nil
	}

	all := r.grants(licenses, r.active(now))
	if len(all) == 0 {
		return Decision{Reason: ReasonNoLicense}, nil
	}
	group := acct.IsGroup()
	gs := slices.DeleteFunc(all, func(g grant) bool { return !g.lic.Covers(userID, group) })
	if len(gs) == 0 {
		return Decision{Reason: ReasonUserMissing}, nil
	}

	var idx *content.Index
	for _, g := range gs {
		if g.pattern.IncludesAll || g.pattern.Match(item.Tag) {
			return r.allow(g), nil
		}
		if len(item.Parents) == 0 {
			continue
		}
		if idx == nil {
			var err error
			if idx, err = r.index(ctx, acct.AppID); err != nil {
				return Decision{}, err
			}
		}
		pattern := g.pattern
		if idx.Covers(item, func(it content.Item) bool { return pattern.Match(it.Tag) }) {
			return r.allow(g), nil
		}
	}
	return Decision{Reason: ReasonNotCovered}, nil
}
