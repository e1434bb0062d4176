// Package meter tracks per-period usage of a license against its quotas
// and computes pay-as-you-go overage.
package meter

import (
	"slices"
	"time"

	"github.com/xraph/entitle/types"
)

// Kind is a metered dimension.
type Kind string

const (
	KindPoints  Kind = "points"
	KindUsers   Kind = "users"
	KindMinutes Kind = "minutes"
)

// Kinds lists every metered dimension in a stable order.
var Kinds = []Kind{KindPoints, KindUsers, KindMinutes}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// scale converts a quota unit into recorded units. Minutes are recorded
// in seconds.
func (k Kind) scale() int64 {
	if k == KindMinutes {
		return 60
	}
	return 1
}

// Unlimited is the Limit of a quota with no cap.
const Unlimited int64 = -1

// PayGo prices usage beyond the base quota: every started Increment
// costs Price.
type PayGo struct {
	Increment int64       `json:"increment"`
	Price     types.Money `json:"price"`
}

// Quota is the effective allowance of one kind for one period.
type Quota struct {
	Limit int64  `json:"limit"`
	PayGo *PayGo `json:"paygo,omitempty"`
}

// IsUnlimited reports whether the quota has no cap.
func (q Quota) IsUnlimited() bool { return q.Limit < 0 }

// Quotas maps kinds to their effective quota. A kind that is absent is
// unlimited.
type Quotas map[Kind]Quota

// Get returns the quota for kind.
func (qs Quotas) Get(kind Kind) Quota {
	if q, ok := qs[kind]; ok {
		return q
	}
	return Quota{Limit: Unlimited}
}

// DedupWindow caps how many event ids a period remembers. When a period
// records more events, the oldest ids are dropped first.
const DedupWindow = 4096

// Ledger holds the usage counters of one license period. It is stored on
// the license and mutated only through Record, RecordUser and Reset.
type Ledger struct {
	PeriodStart time.Time      `json:"period_start" bson:"period_start"`
	Used        map[Kind]int64 `json:"used" bson:"used"`
	Users       []string       `json:"users,omitempty" bson:"users,omitempty"`
	Seen        []string       `json:"seen,omitempty" bson:"seen,omitempty"`
	PrevSeen    []string       `json:"prev_seen,omitempty" bson:"prev_seen,omitempty"`
	Resets      int            `json:"resets" bson:"resets"`

	index *seenIndex
}

// seenIndex is the lookup set over Seen and PrevSeen. It belongs to one
// Ledger value; a copied Ledger rebuilds its own.
type seenIndex struct {
	owner *Ledger
	ids   map[string]struct{}
}

// NewLedger returns an empty ledger for a period starting at start.
func NewLedger(start time.Time) Ledger {
	return Ledger{PeriodStart: start, Used: map[Kind]int64{}}
}

// Record adds amount to kind. It returns false without changing anything
// when eventID was already applied in this period or the one before.
// Minutes are recorded in seconds. An empty eventID is never deduplicated.
func (l *Ledger) Record(kind Kind, amount int64, eventID string) (bool, error) {
	if !kind.Valid() {
		return false, types.ValidationError{Field: "kind", Message: "unknown usage kind " + string(kind)}
	}
	if amount < 0 {
		return false, types.ValidationError{Field: "amount", Message: "usage amount must not be negative"}
	}
	if l.seen(eventID) {
		return false, nil
	}
	l.markSeen(eventID)
	if l.Used == nil {
		l.Used = map[Kind]int64{}
	}
	l.Used[kind] += amount
	return true, nil
}

// RecordUser counts userID once per period against the users quota.
// It returns false when the user was already counted or eventID was
// already applied.
func (l *Ledger) RecordUser(userID, eventID string) (bool, error) {
	if userID == "" {
		return false, types.ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if l.seen(eventID) {
		return false, nil
	}
	l.markSeen(eventID)
	if slices.Contains(l.Users, userID) {
		return false, nil
	}
	l.Users = append(l.Users, userID)
	if l.Used == nil {
		l.Used = map[Kind]int64{}
	}
	l.Used[KindUsers]++
	return true, nil
}

// Reset starts a new period. Event ids of the closing period are kept so
// that late duplicates are still absorbed.
func (l *Ledger) Reset(periodStart time.Time) {
	l.PrevSeen = l.Seen
	l.Seen = nil
	l.index = nil
	l.Users = nil
	l.Used = map[Kind]int64{}
	l.PeriodStart = periodStart
	l.Resets++
}

// UsedOf returns the recorded amount of kind, in recorded units.
func (l *Ledger) UsedOf(kind Kind) int64 {
	return l.Used[kind]
}

// RemainingBase is the part of the base quota not yet used, in recorded
// units, or Unlimited.
func (l *Ledger) RemainingBase(kind Kind, q Quota) int64 {
	if q.IsUnlimited() {
		return Unlimited
	}
	return max(0, q.Limit*kind.scale()-l.UsedOf(kind))
}

// OverageUnits is the number of started PayGo increments beyond the
// quota. It is zero unless both an increment and a price are configured.
func (l *Ledger) OverageUnits(kind Kind, q Quota) int64 {
	if q.IsUnlimited() || q.PayGo == nil || q.PayGo.Increment <= 0 {
		return 0
	}
	over := l.UsedOf(kind) - q.Limit*kind.scale()
	if over <= 0 {
		return 0
	}
	step := q.PayGo.Increment * kind.scale()
	return (over + step - 1) / step
}

// ChargeableOverage is OverageUnits priced at the PayGo price.
func (l *Ledger) ChargeableOverage(kind Kind, q Quota) types.Money {
	units := l.OverageUnits(kind, q)
	if units == 0 {
		if q.PayGo != nil {
			return types.Zero(q.PayGo.Price.Currency)
		}
		return types.Money{}
	}
	return q.PayGo.Price.Multiply(units)
}

// IsExhausted reports whether kind has used its whole quota with no PayGo
// price to fall back on.
func (l *Ledger) IsExhausted(kind Kind, q Quota) bool {
	if q.IsUnlimited() || q.PayGo != nil {
		return false
	}
	return l.UsedOf(kind) >= q.Limit*kind.scale()
}

// AnyExhausted reports whether any kind is exhausted.
func (l *Ledger) AnyExhausted(qs Quotas) bool {
	for _, kind := range Kinds {
		if l.IsExhausted(kind, qs.Get(kind)) {
			return true
		}
	}
	return false
}

// Status is a read-only summary of one kind.
type Status struct {
	Kind         Kind        `json:"kind"`
	Used         int64       `json:"used"`
	Limit        int64       `json:"limit"`
	Remaining    int64       `json:"remaining"`
	OverageUnits int64       `json:"overage_units"`
	Overage      types.Money `json:"overage"`
	Exhausted    bool        `json:"exhausted"`
}

// Summary reports the status of every kind.
func (l *Ledger) Summary(qs Quotas) []Status {
	out := make([]Status, 0, len(Kinds))
	for _, kind := range Kinds {
		q := qs.Get(kind)
		out = append(out, Status{
			Kind:         kind,
			Used:         l.UsedOf(kind),
			Limit:        q.Limit,
			Remaining:    l.RemainingBase(kind, q),
			OverageUnits: l.OverageUnits(kind, q),
			Overage:      l.ChargeableOverage(kind, q),
			Exhausted:    l.IsExhausted(kind, q),
		})
	}
	return out
}

func (l *Ledger) seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	_, ok := l.seenIDs()[eventID]
	return ok
}

func (l *Ledger) markSeen(eventID string) {
	if eventID == "" {
		return
	}
	ids := l.seenIDs()
	l.Seen = append(l.Seen, eventID)
	ids[eventID] = struct{}{}

	if over := len(l.Seen) - DedupWindow; over > 0 {
		for _, old := range l.Seen[:over] {
			delete(ids, old)
		}
		n := copy(l.Seen, l.Seen[over:])
		clear(l.Seen[n:])
		l.Seen = l.Seen[:n]
	}
}

func (l *Ledger) seenIDs() map[string]struct{} {
	if l.index == nil || l.index.owner != l {
		ids := make(map[string]struct{}, len(l.Seen)+len(l.PrevSeen))
		for _, s := range l.PrevSeen {
			ids[s] = struct{}{}
		}
		for _, s := range l.Seen {
			ids[s] = struct{}{}
		}
		l.index = &seenIndex{owner: l, ids: ids}
	}
	return l.index.ids
}
