// Package policy groups the overridable license terms and resolves them
// through the instance, coupon, template and default tiers.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/types"
)

// Field names an overridable term.
type Field string

const (
	FieldPrice       Field = "price"
	FieldPeriod      Field = "period"
	FieldTags        Field = "tags"
	FieldAccessEnd   Field = "access_end"
	FieldAutoRenew   Field = "auto_renew"
	FieldMaxRenewals Field = "max_renewals"
)

const (
	quotaPrefix          = "quota."
	payGoIncrementPrefix = "paygo_increment."
	payGoPricePrefix     = "paygo_price."
)

// QuotaField names the base quota of kind.
func QuotaField(kind meter.Kind) Field { return Field(quotaPrefix + string(kind)) }

// PayGoIncrementField names the PayGo increment of kind.
func PayGoIncrementField(kind meter.Kind) Field { return Field(payGoIncrementPrefix + string(kind)) }

// PayGoPriceField names the PayGo price of kind.
func PayGoPriceField(kind meter.Kind) Field { return Field(payGoPricePrefix + string(kind)) }

// Fields lists every overridable field in a stable order.
func Fields() []Field {
	out := []Field{FieldPrice, FieldPeriod, FieldTags, FieldAccessEnd, FieldAutoRenew, FieldMaxRenewals}
	for _, kind := range meter.Kinds {
		out = append(out, QuotaField(kind), PayGoIncrementField(kind), PayGoPriceField(kind))
	}
	return out
}

// QuotaTerms are the metering terms of one kind.
type QuotaTerms struct {
	Limit     override.Value[int64]       `json:"limit" bson:"limit"`
	Increment override.Value[int64]       `json:"paygo_increment" bson:"paygo_increment"`
	Price     override.Value[types.Money] `json:"paygo_price" bson:"paygo_price"`
}

// Terms holds one tier of overridable values. Every field may be blank,
// in which case the next tier decides.
type Terms struct {
	Price       override.Value[types.Money] `json:"price" bson:"price"`
	Period      override.Value[string]      `json:"period" bson:"period"`
	TagPattern  override.Value[string]      `json:"tags" bson:"tags"`
	AccessEnd   override.Value[time.Time]   `json:"access_end" bson:"access_end"`
	AutoRenew   override.Value[bool]        `json:"auto_renew" bson:"auto_renew"`
	MaxRenewals override.Value[int]         `json:"max_renewals" bson:"max_renewals"`
	Points      QuotaTerms                  `json:"points" bson:"points"`
	Users       QuotaTerms                  `json:"users" bson:"users"`
	Minutes     QuotaTerms                  `json:"minutes" bson:"minutes"`
}

// Quota returns the quota terms of kind, or nil for an unknown kind.
func (t *Terms) Quota(kind meter.Kind) *QuotaTerms {
	switch kind {
	case meter.KindPoints:
		return &t.Points
	case meter.KindUsers:
		return &t.Users
	case meter.KindMinutes:
		return &t.Minutes
	default:
		return nil
	}
}

// IsEmpty reports whether every field is blank.
func (t *Terms) IsEmpty() bool {
	if t == nil {
		return true
	}
	for _, f := range Fields() {
		if _, ok := t.Get(f); ok {
			return false
		}
	}
	return true
}

// Get returns the value of field and whether it is set.
func (t *Terms) Get(field Field) (any, bool) {
	if t == nil {
		return nil, false
	}
	switch field {
	case FieldPrice:
		return unwrap(t.Price)
	case FieldPeriod:
		return unwrap(t.Period)
	case FieldTags:
		return unwrap(t.TagPattern)
	case FieldAccessEnd:
		return unwrap(t.AccessEnd)
	case FieldAutoRenew:
		return unwrap(t.AutoRenew)
	case FieldMaxRenewals:
		return unwrap(t.MaxRenewals)
	}
	q, sub, ok := t.quotaField(field)
	if !ok {
		return nil, false
	}
	switch sub {
	case quotaPrefix:
		return unwrap(q.Limit)
	case payGoIncrementPrefix:
		return unwrap(q.Increment)
	default:
		return unwrap(q.Price)
	}
}

// Set assigns field. A nil value clears the field back to blank. The
// value type is checked against the field; a mismatch is a
// types.ValidationError and leaves t unchanged.
func (t *Terms) Set(field Field, value any) error {
	if p, ok := value.(*time.Time); ok && p == nil {
		value = nil
	}

	switch field {
	case FieldPrice:
		return assign(&t.Price, field, value, toMoney)
	case FieldPeriod:
		return assign(&t.Period, field, value, toPeriod)
	case FieldTags:
		return assign(&t.TagPattern, field, value, toString)
	case FieldAccessEnd:
		return assign(&t.AccessEnd, field, value, toTime)
	case FieldAutoRenew:
		return assign(&t.AutoRenew, field, value, toBool)
	case FieldMaxRenewals:
		return assign(&t.MaxRenewals, field, value, func(v any) (int, error) {
			n, err := toInt64(v)
			if err != nil {
				return 0, err
			}
			if n < 0 {
				return 0, fmt.Errorf("must not be negative")
			}
			return int(n), nil
		})
	}

	q, sub, ok := t.quotaField(field)
	if !ok {
		return types.ValidationError{Field: string(field), Message: "unknown field"}
	}
	switch sub {
	case quotaPrefix:
		return assign(&q.Limit, field, value, func(v any) (int64, error) {
			n, err := toInt64(v)
			if err != nil {
				return 0, err
			}
			if n < meter.Unlimited {
				return 0, fmt.Errorf("must be %d (unlimited) or more", meter.Unlimited)
			}
			return n, nil
		})
	case payGoIncrementPrefix:
		return assign(&q.Increment, field, value, func(v any) (int64, error) {
			n, err := toInt64(v)
			if err != nil {
				return 0, err
			}
			if n < 0 {
				return 0, fmt.Errorf("must not be negative")
			}
			return n, nil
		})
	default:
		return assign(&q.Price, field, value, toMoney)
	}
}

func (t *Terms) quotaField(field Field) (*QuotaTerms, string, bool) {
	s := string(field)
	for _, prefix := range []string{quotaPrefix, payGoIncrementPrefix, payGoPricePrefix} {
		if kind, ok := strings.CutPrefix(s, prefix); ok {
			q := t.Quota(meter.Kind(kind))
			return q, prefix, q != nil
		}
	}
	return nil, "", false
}

func unwrap[T any](v override.Value[T]) (any, bool) {
	x, ok := v.Get()
	if !ok {
		return nil, false
	}
	return x, true
}

func assign[T any](dst *override.Value[T], field Field, value any, conv func(any) (T, error)) error {
	if value == nil {
		*dst = override.Blank[T]()
		return nil
	}
	if v, ok := value.(override.Value[T]); ok {
		*dst = v
		return nil
	}
	v, err := conv(value)
	if err != nil {
		return types.ValidationError{Field: string(field), Message: err.Error()}
	}
	*dst = override.Of(v)
	return nil
}

func toMoney(v any) (types.Money, error) {
	switch x := v.(type) {
	case types.Money:
		if x.IsNegative() {
			return types.Money{}, fmt.Errorf("must not be negative")
		}
		return x, nil
	case decimal.Decimal:
		if x.IsNegative() {
			return types.Money{}, fmt.Errorf("must not be negative")
		}
		return types.FromDecimal(x, types.DefaultCurrency), nil
	case string:
		m, err := types.ParseMoney(x, types.DefaultCurrency)
		if err != nil {
			return types.Money{}, fmt.Errorf("not a price: %q", x)
		}
		if m.IsNegative() {
			return types.Money{}, fmt.Errorf("must not be negative")
		}
		return m, nil
	default:
		return types.Money{}, fmt.Errorf("expected a price, got %T", v)
	}
}

func toPeriod(v any) (string, error) {
	switch x := v.(type) {
	case period.Spec:
		return x.String(), nil
	case string:
		return x, nil
	default:
		return "", fmt.Errorf("expected a period, got %T", v)
	}
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected text, got %T", v)
	}
	return s, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		return *x, nil
	default:
		return time.Time{}, fmt.Errorf("expected a time, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected true or false, got %T", v)
	}
	return b, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		// Numbers decoded from JSON arrive as float64.
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("expected a whole number, got %v", x)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("expected a whole number, got %T", v)
	}
}
