// Package validate holds the per-field format rules used by the entity
// constructors. Every rule returns a mo.Result carrying either the normalized
// value or a *FieldError that unwraps to ErrInvalidArgument.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// ErrInvalidArgument is the root of every validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// MaxAddressLength is counted in runes, so CJK and ASCII characters weigh the same.
	MaxAddressLength = 20

	MaxWorkNameLength        = 50
	MaxWorkDescriptionLength = 500

	MinWorkID = 1
	MaxWorkID = 9999

	TradingTimeLayout = "2006-01-02 15:04"
	OrderTimeLayout   = "2006-01-02 15:04:05"
)

var (
	buyerNamePattern   = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}a-zA-Z0-9]{1,5}$`)
	phonePattern       = regexp.MustCompile(`^[0-9]{11}$`)
	orderIDPattern     = regexp.MustCompile(`^[A-Za-z]{2}[0-9]{5}$`)
	orderPrefixPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// Work statuses accepted by the listing rules.
var WorkStatuses = []string{"available", "reserved", "sold"}

// FieldError describes one violated rule.
type FieldError struct {
	Field    string
	Expected string
	Value    any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid value %q, expected %s", e.Field, fmt.Sprint(e.Value), e.Expected)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidArgument
}

func fail[T any](field, expected string, value any) mo.Result[T] {
	return mo.Err[T](&FieldError{Field: field, Expected: expected, Value: value})
}

// BuyerName accepts 1-5 characters made of CJK ideographs, ASCII letters and digits.
func BuyerName(v string) mo.Result[string] {
	return lo.Ternary(buyerNamePattern.MatchString(v),
		mo.Ok(v),
		fail[string]("buyer_name", "1-5 characters of Chinese, letters or digits", v))
}

// Phone accepts exactly eleven ASCII digits.
func Phone(v string) mo.Result[string] {
	return lo.Ternary(phonePattern.MatchString(v),
		mo.Ok(v),
		fail[string]("buyer_phonenumber", "exactly 11 digits", v))
}

// Address accepts at most MaxAddressLength runes. An empty address is allowed.
func Address(v string) mo.Result[string] {
	return lo.Ternary(utf8.RuneCountInString(v) <= MaxAddressLength,
		mo.Ok(v),
		fail[string]("trading_address", fmt.Sprintf("at most %d characters", MaxAddressLength), v))
}

// TradingTime parses YYYY-MM-DD HH:MM without rolling impossible dates over.
func TradingTime(v string) mo.Result[string] {
	return strictTime("trading_time", TradingTimeLayout, "YYYY-MM-DD HH:MM (e.g. 2024-05-20 14:30)", v)
}

// OrderTime parses YYYY-MM-DD HH:MM:SS without rolling impossible dates over.
func OrderTime(v string) mo.Result[string] {
	return strictTime("order_time", OrderTimeLayout, "YYYY-MM-DD HH:MM:SS (e.g. 2024-05-20 14:30:00)", v)
}

func strictTime(field, layout, expected, v string) mo.Result[string] {
	t, err := time.Parse(layout, v)
	if err != nil {
		return fail[string](field, expected, v)
	}
	return mo.Ok(t.Format(layout))
}

// NormalizeDateTimeLocal turns an HTML datetime-local value (2024-12-31T16:00)
// into the trading time layout. Other values pass through untouched.
func NormalizeDateTimeLocal(v string) string {
	v = strings.TrimSpace(v)
	if len(v) == len("2006-01-02T15:04") && v[10] == 'T' {
		return v[:10] + " " + v[11:]
	}
	return v
}

// OrderID accepts two letters followed by five digits, e.g. DD00001.
func OrderID(v string) mo.Result[string] {
	return lo.Ternary(orderIDPattern.MatchString(v),
		mo.Ok(v),
		fail[string]("order_id", "2 letters followed by 5 digits (e.g. DD00001)", v))
}

// OrderPrefix accepts the two-letter prefix of generated order ids.
func OrderPrefix(v string) mo.Result[string] {
	return lo.Ternary(orderPrefixPattern.MatchString(v),
		mo.Ok(v),
		fail[string]("order_prefix", "exactly 2 letters", v))
}

// WorkID accepts an id in [1, 9999].
func WorkID(v int) mo.Result[int] {
	return lo.Ternary(v >= MinWorkID && v <= MaxWorkID,
		mo.Ok(v),
		fail[int]("work_id", fmt.Sprintf("a number between %04d and %04d", MinWorkID, MaxWorkID), v))
}

// WorkStatus accepts one of WorkStatuses.
func WorkStatus(v string) mo.Result[string] {
	return lo.Ternary(lo.Contains(WorkStatuses, v),
		mo.Ok(v),
		fail[string]("work_status", "one of "+strings.Join(WorkStatuses, ", "), v))
}

func WorkName(v string) mo.Result[string] {
	v = strings.TrimSpace(v)
	n := utf8.RuneCountInString(v)
	return lo.Ternary(n >= 1 && n <= MaxWorkNameLength,
		mo.Ok(v),
		fail[string]("work_name", fmt.Sprintf("1-%d characters", MaxWorkNameLength), v))
}

func WorkDescription(v string) mo.Result[string] {
	return lo.Ternary(utf8.RuneCountInString(v) <= MaxWorkDescriptionLength,
		mo.Ok(v),
		fail[string]("work_description", fmt.Sprintf("at most %d characters", MaxWorkDescriptionLength), v))
}

// Price parses a non-negative amount with at most two decimal places,
// matching the decimal(10,2) column.
func Price(v string) mo.Result[decimal.Decimal] {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil || d.IsNegative() || !d.Equal(d.Truncate(2)) {
		return fail[decimal.Decimal]("work_price", "a non-negative amount with at most 2 decimals (e.g. 99.99)", v)
	}
	return mo.Ok(d)
}
