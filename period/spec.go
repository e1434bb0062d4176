// Package period parses access-period specs and computes license period
// windows.
package period

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/entitle/types"
)

// Unit is a calendar unit of an access period. The empty unit is
// perpetual.
type Unit string

const (
	UnitNone   Unit = ""
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitYear   Unit = "year"
)

type unitName struct {
	unit   Unit
	single string
	plural string
}

var unitInfo = []unitName{
	{UnitNone, "perpetual", "perpetual"},
	{UnitMinute, "minute", "minutes"},
	{UnitHour, "hourly", "hours"},
	{UnitDay, "daily", "days"},
	{UnitWeek, "weekly", "weeks"},
	{UnitMonth, "monthly", "months"},
	{UnitYear, "yearly", "years"},
}

// unitWords lists every accepted unit spelling.
var unitWords = map[string]Unit{
	"p": UnitNone, "perpetual": UnitNone,
	"min": UnitMinute, "mins": UnitMinute, "minute": UnitMinute, "minutes": UnitMinute,
	"hour": UnitHour, "hours": UnitHour, "hourly": UnitHour,
	"day": UnitDay, "days": UnitDay, "daily": UnitDay,
	"week": UnitWeek, "weeks": UnitWeek, "weekly": UnitWeek,
	"month": UnitMonth, "months": UnitMonth, "monthly": UnitMonth,
	"year": UnitYear, "years": UnitYear, "yearly": UnitYear,
}

var (
	errUnknownUnit = errors.New("unknown period unit")
	errBadCount    = errors.New("period count is not a number")
	errTooMany     = errors.New("period spec has too many words")
)

// Spec is a parsed access period such as "2 weeks" or "monthly".
// The zero Spec is Perpetual.
type Spec struct {
	Unit  Unit `json:"unit"`
	Count int  `json:"count"`
}

// Perpetual never ends on its own.
var Perpetual = Spec{}

// IsPerpetual reports whether the spec has no length.
func (s Spec) IsPerpetual() bool {
	return s.Unit == UnitNone || s.Count <= 0
}

// Parse interprets free text such as "3 months", "monthly", "90" (minutes)
// or "perpetual". Blank text is Perpetual. Text that cannot be interpreted
// returns Perpetual together with a *types.ConfigurationError.
func Parse(text string) (Spec, error) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(text), `"'`))
	words := strings.Fields(cleaned)

	var (
		count   int
		unitStr string
	)
	switch len(words) {
	case 0:
		return Perpetual, nil
	case 1:
		if n, err := strconv.Atoi(words[0]); err == nil {
			count, unitStr = abs(n), "min"
		} else {
			count, unitStr = 1, words[0]
		}
	case 2:
		n, err := strconv.Atoi(words[0])
		if err != nil {
			return Perpetual, configErr(text, errBadCount)
		}
		count, unitStr = abs(n), words[1]
	default:
		return Perpetual, configErr(text, errTooMany)
	}

	unit, ok := unitWords[unitStr]
	if !ok {
		return Perpetual, configErr(text, errUnknownUnit)
	}
	if unit == UnitNone || count == 0 {
		return Perpetual, nil
	}
	return Spec{Unit: unit, Count: count}, nil
}

// MustParse is like Parse but panics on error. Use for literals.
func MustParse(text string) Spec {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseOrPerpetual parses text and logs a warning instead of failing.
func ParseOrPerpetual(logger *slog.Logger, text string) Spec {
	s, err := Parse(text)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("access period not understood, treating as perpetual",
			"period", text,
			"error", err,
		)
	}
	return s
}

// String renders the canonical form, which Parse reads back to the same
// Spec.
func (s Spec) String() string {
	if s.IsPerpetual() {
		return "perpetual"
	}
	if s.Count == 1 {
		if s.Unit == UnitMinute {
			return "1 minute"
		}
		return s.info().single
	}
	return fmt.Sprintf("%d %s", s.Count, s.info().plural)
}

// Describe renders the spec for display, e.g. "every 2 weeks".
func (s Spec) Describe() string {
	switch {
	case s.IsPerpetual():
		return "perpetual"
	case s.Count == 1 && s.Unit == UnitMinute:
		return "every minute"
	case s.Count == 1:
		return s.info().single
	default:
		return "every " + s.String()
	}
}

// AddTo returns t advanced by the spec using calendar arithmetic.
// Month and year steps clamp to the last day of a shorter month.
func (s Spec) AddTo(t time.Time) time.Time {
	switch s.Unit {
	case UnitMinute:
		return t.Add(time.Duration(s.Count) * time.Minute)
	case UnitHour:
		return t.Add(time.Duration(s.Count) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, s.Count)
	case UnitWeek:
		return t.AddDate(0, 0, 7*s.Count)
	case UnitMonth:
		return addMonths(t, s.Count)
	case UnitYear:
		return addMonths(t, 12*s.Count)
	default:
		return t
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Spec) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Spec) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Spec) info() unitName {
	for _, info := range unitInfo {
		if info.unit == s.Unit {
			return info
		}
	}
	return unitInfo[0]
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func configErr(text string, err error) error {
	return &types.ConfigurationError{Field: "period", Value: text, Err: err}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
