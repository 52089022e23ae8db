// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between cents and decimal representations.
package core

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

type Money struct {
	Cents int64
}

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("negative amount")
)

// Amounts above this are rejected as implausible and to keep cents in int64.
var maxAmount = decimal.New(1, 15)

// Bounds on a parsed decimal's exponent and integer digits. They are
// checked before any arithmetic so a value like 1e999999999 is rejected
// without being expanded.
const (
	maxFractionDigits = 20
	maxIntegerDigits  = 16
)

// DecimalMark says how a lone separator followed by exactly three digits
// is read. Amounts with both separators, or with a repeated one, are not
// affected.
type DecimalMark int

const (
	// MarkUnknown reads the lone separator as decimal and reports the
	// amount as ambiguous.
	MarkUnknown DecimalMark = iota
	// MarkComma is for locales writing 1.234,56.
	MarkComma
	// MarkDot is for locales writing 1,234.56.
	MarkDot
)

// Languages whose decimal mark is the comma.
var commaDecimalLanguages = map[string]bool{
	"pt": true, "es": true, "fr": true, "de": true, "it": true, "nl": true,
	"ru": true, "tr": true, "id": true, "da": true, "sv": true, "nb": true,
	"no": true, "fi": true, "pl": true, "cs": true, "ro": true, "el": true,
	"hu": true, "uk": true, "vi": true,
}

// DecimalMarkFor returns the decimal mark of a BCP 47 locale, or
// MarkUnknown when the locale is empty or unparsable.
func DecimalMarkFor(locale string) DecimalMark {
	if strings.TrimSpace(locale) == "" {
		return MarkUnknown
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return MarkUnknown
	}
	base, _ := tag.Base()
	if commaDecimalLanguages[base.String()] {
		return MarkComma
	}
	return MarkDot
}

// ParseAmount converts a human or OCR formatted amount into exact cents.
//
// Currency symbols, ISO currency codes and surrounding spaces are ignored;
// any other letter makes the amount invalid. When both '.' and ',' appear,
// the last one is the decimal separator and the other one groups
// thousands. A separator repeated more than once is a thousands separator.
// A single separator is decimal, so "1.005" means one and a half cent
// rounded up; use ParseAmountMark when the locale is known. Rounding is
// half-up on the third decimal. Zero is accepted; negative values are not.
//
// Examples:
//
//	ParseAmount("1234.56")     -> 123456
//	ParseAmount("1.234,56")    -> 123456
//	ParseAmount("1,234.56")    -> 123456
//	ParseAmount("R$ 1.234,56") -> 123456
//	ParseAmount("12,345")      -> 1235
func ParseAmount(s string) (Money, error) {
	m, _, err := ParseAmountMark(s, MarkUnknown)
	return m, err
}

// ParseAmountMark is ParseAmount with a known decimal mark. ambiguous is
// true when mark is MarkUnknown and a lone separator was followed by
// exactly three digits, as in "1.500".
func ParseAmountMark(s string, mark DecimalMark) (m Money, ambiguous bool, err error) {
	s, ok := stripCurrency(s)
	if !ok {
		return Money{}, false, ErrInvalidAmount
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return Money{}, false, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return Money{}, false, ErrNegativeAmount
	}
	s = strings.TrimPrefix(s, "+")

	normalized, ambiguous, ok := normalizeSeparators(s, mark)
	if !ok {
		return Money{}, false, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return Money{}, false, ErrInvalidAmount
	}
	m, err = FromDecimal(d)
	return m, ambiguous, err
}

// Letters allowed in front of a currency symbol, as in R$ or US$.
var symbolPrefixes = map[string]bool{
	"R": true, "US": true, "C": true, "CA": true, "A": true, "AU": true,
	"NZ": true, "HK": true, "S": true, "NT": true, "MX": true,
}

// stripCurrency removes a leading and a trailing currency marker. A
// marker is any mix of spaces and currency symbols, optionally with an ISO
// 4217 code or a symbol prefix such as the R of R$. Any other letters
// make the amount invalid.
func stripCurrency(s string) (string, bool) {
	isAffix := func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.Is(unicode.Sc, r)
	}
	start := strings.IndexFunc(s, func(r rune) bool { return !isAffix(r) })
	if start < 0 {
		return "", validCurrencyAffix(s)
	}
	end := strings.LastIndexFunc(s, func(r rune) bool { return !isAffix(r) })
	_, size := utf8.DecodeRuneInString(s[end:])
	prefix, body, suffix := s[:start], s[start:end+size], s[end+size:]
	if !validCurrencyAffix(prefix) || !validCurrencyAffix(suffix) {
		return "", false
	}
	return body, true
}

func validCurrencyAffix(affix string) bool {
	var letters strings.Builder
	hasSymbol := false
	for _, r := range affix {
		switch {
		case unicode.Is(unicode.Sc, r):
			hasSymbol = true
		case unicode.IsLetter(r):
			letters.WriteRune(unicode.ToUpper(r))
		}
	}
	code := letters.String()
	if code == "" {
		return true
	}
	if hasSymbol && symbolPrefixes[code] {
		return true
	}
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// FromDecimal rounds d half-up to cents.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	exp := int(d.Exponent())
	if exp < -maxFractionDigits || d.NumDigits()+exp > maxIntegerDigits {
		return Money{}, ErrInvalidAmount
	}
	if d.GreaterThan(maxAmount) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Round(2).Shift(2).IntPart()}, nil
}

func normalizeSeparators(s string, mark DecimalMark) (out string, ambiguous, ok bool) {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return "", false, false
		}
	}
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	var decimalSep, groupSep string
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			decimalSep, groupSep = ".", ","
		} else {
			decimalSep, groupSep = ",", "."
		}
		if strings.Count(s, decimalSep) != 1 {
			return "", false, false
		}
	case dots > 1:
		groupSep = "."
	case commas > 1:
		groupSep = ","
	case dots == 1 || commas == 1:
		sep := "."
		if commas == 1 {
			sep = ","
		}
		decimalSep = sep
		if looksGrouped(s, sep) {
			switch {
			case mark == MarkUnknown:
				ambiguous = true
			case mark == MarkComma && sep == ".", mark == MarkDot && sep == ",":
				decimalSep, groupSep = "", sep
			}
		}
	}

	intPart, fracPart := s, ""
	if decimalSep != "" {
		i := strings.LastIndex(s, decimalSep)
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" && intPart == "" {
			return "", false, false
		}
	}
	if groupSep != "" && !validGrouping(intPart, groupSep) {
		return "", false, false
	}
	intPart = strings.ReplaceAll(intPart, groupSep, "")
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart, ambiguous, true
	}
	return intPart + "." + fracPart, ambiguous, true
}

// looksGrouped reports whether the lone sep in s could be a thousands
// separator: one to three leading digits and exactly three after it.
func looksGrouped(s, sep string) bool {
	i := strings.Index(s, sep)
	return i >= 1 && i <= 3 && len(s)-i-1 == 3
}

// validGrouping checks that thousands groups have exactly three digits.
func validGrouping(intPart, sep string) bool {
	if !strings.Contains(intPart, sep) {
		return true
	}
	groups := strings.Split(intPart, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the exact decimal value of the amount.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or number.
func (m *Money) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	var (
		parsed Money
		err    error
	)
	switch v := raw.(type) {
	case string:
		parsed, err = ParseAmount(v)
	case json.Number:
		// JSON numbers always use a dot; FromDecimal bounds the exponent.
		var d decimal.Decimal
		if d, err = decimal.NewFromString(v.String()); err != nil {
			return ErrInvalidAmount
		}
		parsed, err = FromDecimal(d)
	default:
		return ErrInvalidAmount
	}
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
