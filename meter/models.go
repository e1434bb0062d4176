package meter

import (
	"time"

	"github.com/xraph/entitle/id"
)

// UsageEvent is the raw record of one applied usage increment. Events are
// buffered by the engine and flushed in batches for reconciliation; the
// authoritative counters live on the license ledger.
type UsageEvent struct {
	ID        id.UsageEventID   `json:"id"`
	LicenseID id.LicenseID      `json:"license_id"`
	AccountID id.AccountID      `json:"account_id"`
	AppID     string            `json:"app_id"`
	Kind      Kind              `json:"kind"`
	Amount    int64             `json:"amount"`
	EventID   string            `json:"event_id"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
