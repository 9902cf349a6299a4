// Package units converts between the LETH display unit and wei, the smallest
// integer unit of the network. Conversions are exact: a display string with up
// to Decimals fractional digits maps to exactly one wei value and back.
package units

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/network"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Decimals is the fixed precision of LETH.
const Decimals = network.Decimals

// ErrParse matches every amount parsing failure through errors.Is.
var ErrParse = xerrors.New(xerrors.CodeParse, "")

// ParseError describes why an amount could not be converted.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("units: invalid amount %q: %s", e.Input, e.Reason)
}

// Unwrap exposes ErrParse so callers can match on the category.
func (e *ParseError) Unwrap() error { return ErrParse }

// ToSmallestUnit converts a LETH quantity to wei. Strings, integer and float
// kinds and fmt.Stringer values are accepted.
func ToSmallestUnit(amount any) (*big.Int, error) {
	text, err := decimalText(amount)
	if err != nil {
		return nil, err
	}
	return ParseUnits(text, Decimals)
}

// ToDisplayUnit converts wei to its LETH decimal string, e.g. "1.5" or "1.0".
func ToDisplayUnit(amount any) (string, error) {
	value, err := integerValue(amount)
	if err != nil {
		return "", err
	}
	return FormatUnits(value, Decimals), nil
}

// FormatDisplay renders a wei amount with the network currency symbol.
func FormatDisplay(amount any) (string, error) {
	text, err := ToDisplayUnit(amount)
	if err != nil {
		return "", err
	}
	return text + " " + network.Default().Currency.Symbol, nil
}

// MustFormatDisplay is FormatDisplay for values already known to be valid.
func MustFormatDisplay(amount *big.Int) string {
	return FormatUnits(amount, Decimals) + " " + network.Default().Currency.Symbol
}

var fiatPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatFiat formats a plain number as US dollars with two fractional digits
// and thousands separators: 1234.5 becomes "$1,234.50".
func FormatFiat(amount float64) string {
	switch {
	case math.IsNaN(amount):
		return "$NaN"
	case math.IsInf(amount, 1):
		return "$∞"
	case math.IsInf(amount, -1):
		return "-$∞"
	}
	formatted := fiatPrinter.Sprintf("%.2f", math.Abs(amount))
	if amount < 0 && formatted != "0.00" {
		return "-$" + formatted
	}
	return "$" + formatted
}

// ParseUnits converts a non-negative decimal string into an integer scaled by
// 10^decimals. More fractional digits than decimals is an error, never a
// rounding.
func ParseUnits(text string, decimals int) (*big.Int, error) {
	raw := text
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ParseError{Input: raw, Reason: "empty value"}
	}
	if strings.HasPrefix(text, "-") {
		return nil, &ParseError{Input: raw, Reason: "negative values are not allowed"}
	}

	whole, frac, _ := strings.Cut(text, ".")
	if whole == "" && frac == "" {
		return nil, &ParseError{Input: raw, Reason: "no digits"}
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, &ParseError{Input: raw, Reason: "not a decimal number"}
	}
	if len(frac) > decimals {
		return nil, &ParseError{Input: raw, Reason: fmt.Sprintf("more than %d fractional digits", decimals)}
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, &ParseError{Input: raw, Reason: "not a decimal number"}
	}
	return value, nil
}

// FormatUnits renders value / 10^decimals with trailing fractional zeros
// trimmed but at least one fractional digit kept.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	cut := len(digits) - decimals
	whole, frac := digits[:cut], strings.TrimRight(digits[cut:], "0")
	if frac == "" {
		frac = "0"
	}
	out := whole + "." + frac
	if negative {
		return "-" + out
	}
	return out
}

func decimalText(amount any) (string, error) {
	switch v := amount.(type) {
	case nil:
		return "", &ParseError{Input: "<nil>", Reason: "empty value"}
	case string:
		return v, nil
	case float64:
		return floatText(v, 64)
	case float32:
		return floatText(float64(v), 32)
	case *big.Int:
		if v == nil {
			return "", &ParseError{Input: "<nil>", Reason: "empty value"}
		}
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	rv := reflect.ValueOf(amount)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", &ParseError{Input: fmt.Sprint(amount), Reason: fmt.Sprintf("unsupported type %T", amount)}
}

func floatText(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", &ParseError{Input: strconv.FormatFloat(f, 'g', -1, bits), Reason: "not a finite number"}
	}
	return strconv.FormatFloat(f, 'f', -1, bits), nil
}

func integerValue(amount any) (*big.Int, error) {
	switch v := amount.(type) {
	case nil:
		return nil, &ParseError{Input: "<nil>", Reason: "empty value"}
	case *big.Int:
		if v == nil {
			return nil, &ParseError{Input: "<nil>", Reason: "empty value"}
		}
		return v, nil
	case big.Int:
		return &v, nil
	case string:
		return parseInteger(v)
	}
	rv := reflect.ValueOf(amount)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, &ParseError{Input: fmt.Sprint(amount), Reason: fmt.Sprintf("unsupported type %T", amount)}
}

func parseInteger(text string) (*big.Int, error) {
	raw := text
	text = strings.TrimSpace(text)
	negative := strings.HasPrefix(text, "-")
	text = strings.TrimPrefix(text, "-")

	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		base, text = 16, text[2:]
	}
	if text == "" {
		return nil, &ParseError{Input: raw, Reason: "empty value"}
	}
	if base == 10 && !isDigits(text) {
		return nil, &ParseError{Input: raw, Reason: "not an integer"}
	}
	value, ok := new(big.Int).SetString(text, base)
	if !ok {
		return nil, &ParseError{Input: raw, Reason: "not an integer"}
	}
	if negative {
		value.Neg(value)
	}
	return value, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
