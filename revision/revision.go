// Package revision keeps monotonic change counters per account and per
// license. Collaborators compare counters to decide whether cached access
// decisions are stale.
package revision

import (
	"context"
	"sync"

	"github.com/xraph/entitle/id"
)

// Counter stores revision counters.
type Counter interface {
	// Bump increments every key by one.
	Bump(ctx context.Context, keys ...string) error
	// Get returns the current revision of key, zero if never bumped.
	Get(ctx context.Context, key string) (int64, error)
}

// Bump is a published counter change.
type Bump struct {
	Key      string `json:"key"`
	Revision int64  `json:"revision"`
}

// AccountKey is the counter key of an account.
func AccountKey(accountID id.AccountID) string { return "account:" + accountID.String() }

// LicenseKey is the counter key of a license.
func LicenseKey(licenseID id.LicenseID) string { return "license:" + licenseID.String() }

// Memory is an in-process Counter.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewMemory returns an empty in-process Counter.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]int64)}
}

// Bump implements Counter.
func (m *Memory) Bump(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		m.counters[k]++
	}
	return nil
}

// Get implements Counter.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.counters[key], nil
}

var _ Counter = (*Memory)(nil)
