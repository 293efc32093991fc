// Package quantity validates and formats the decimal quantities carried by
// ledger commands and events.
package quantity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxScale is the number of fractional digits a quantity may carry.
const MaxScale = 6

// Unit names the physical or monetary unit of a quantity.
type Unit string

const (
	Tonnes    Unit = "t"
	Units     Unit = "units"
	Kilograms Unit = "kg"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Currency returns the unit for an ISO 4217 currency code.
func Currency(code string) Unit {
	return Unit(strings.ToUpper(strings.TrimSpace(code)))
}

// IsCurrency reports whether u is a currency unit.
func (u Unit) IsCurrency() bool {
	return currencyPattern.MatchString(string(u))
}

// ParseUnit validates a unit label.
func ParseUnit(raw string) (Unit, error) {
	trimmed := strings.TrimSpace(raw)
	switch Unit(strings.ToLower(trimmed)) {
	case Tonnes, Units, Kilograms:
		return Unit(strings.ToLower(trimmed)), nil
	}
	if u := Currency(trimmed); u.IsCurrency() {
		return u, nil
	}
	return "", &FieldError{Field: "unit", Reason: fmt.Sprintf("unknown unit %q", raw)}
}

// FieldError reports an invalid quantity field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// Parse reads a finite decimal quantity. NaN and infinities are not
// representable and fail to parse.
func Parse(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &FieldError{Field: field, Reason: fmt.Sprintf("%q is not a finite number", raw)}
	}
	if err := checkScale(field, value); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// RequirePositive checks value is finite and strictly greater than zero.
func RequirePositive(field string, value decimal.Decimal) error {
	if err := checkScale(field, value); err != nil {
		return err
	}
	if !value.IsPositive() {
		return &FieldError{Field: field, Reason: "must be greater than zero"}
	}
	return nil
}

// RequireNonNegative checks value is finite and zero or greater.
func RequireNonNegative(field string, value decimal.Decimal) error {
	if err := checkScale(field, value); err != nil {
		return err
	}
	if value.IsNegative() {
		return &FieldError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

// Format renders a quantity without trailing zeros.
func Format(value decimal.Decimal) string {
	return value.String()
}

// FormatWithUnit renders a quantity followed by its unit.
func FormatWithUnit(value decimal.Decimal, unit Unit) string {
	if unit == "" {
		return Format(value)
	}
	return Format(value) + " " + string(unit)
}

func checkScale(field string, value decimal.Decimal) error {
	if -value.Exponent() > MaxScale && !value.Equal(value.Truncate(MaxScale)) {
		return &FieldError{Field: field, Reason: fmt.Sprintf("supports at most %d decimal places", MaxScale)}
	}
	return nil
}
