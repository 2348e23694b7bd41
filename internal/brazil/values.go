// Package brazil normalizes Brazilian business values: tax ids, postal codes,
// phone numbers, dates and locale-formatted amounts.
package brazil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Locale selects thousands/decimal separator conventions.
type Locale string

const (
	// LocalePTBR uses "." for thousands and "," for decimals.
	LocalePTBR Locale = "pt-BR"
	// LocaleENUS uses "," for thousands and "." for decimals.
	LocaleENUS Locale = "en-US"
)

// UFs lists the Brazilian state codes.
var UFs = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA", "MT", "MS", "MG", "PA",
	"PB", "PR", "PE", "PI", "RJ", "RN", "RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

var (
	isoDateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dmyDateRe      = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})$`)
	ymdDateRe      = regexp.MustCompile(`^(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})$`)
	currencyMarkRe = regexp.MustCompile(`(?i)[R$US€£¥\s]`)
	digitRe        = regexp.MustCompile(`\d`)
)

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CNPJ returns the 14 digits of a CNPJ, or "" when s does not hold exactly 14 digits.
func CNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return ""
	}
	return d
}

// CEP returns the 8 digits of a postal code, or "".
func CEP(s string) string {
	d := Digits(s)
	if len(d) != 8 {
		return ""
	}
	return d
}

// Phone keeps digits and "+"; numbers shorter than 10 characters are rejected.
func Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 10 {
		return ""
	}
	return b.String()
}

// ValidDate reports whether year-month-day is a real calendar date.
func ValidDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day
}

// ISODate formats a validated date, or returns "" for impossible dates.
func ISODate(year, month, day int) string {
	if !ValidDate(year, month, day) {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// Date normalizes D/M/Y and Y/M/D strings (any of "/", ".", "-") to ISO-8601.
// Strings already in ISO form are returned unchanged. Unparseable or
// impossible dates yield "".
func Date(s string) string {
	if s == "" {
		return ""
	}
	if isoDateRe.MatchString(s) {
		return s
	}
	s = strings.TrimSpace(s)
	if m := dmyDateRe.FindStringSubmatch(s); m != nil {
		if iso := ISODate(atoi(m[3]), atoi(m[2]), atoi(m[1])); iso != "" {
			return iso
		}
	}
	if m := ymdDateRe.FindStringSubmatch(s); m != nil {
		return ISODate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	return ""
}

// Money parses an amount written in the given locale after stripping currency marks.
func Money(s string, locale Locale) (float64, bool) {
	if s == "" {
		return 0, false
	}
	cleaned := currencyMarkRe.ReplaceAllString(s, "")
	if locale == LocalePTBR {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// GuessLocale treats any comma as the pt-BR decimal mark.
func GuessLocale(s string) Locale {
	if strings.Contains(s, ",") {
		return LocalePTBR
	}
	return LocaleENUS
}

// Decimal parses a free-form numeric string, inferring the locale from its separators.
func Decimal(s string) (float64, bool) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" || !digitRe.MatchString(cleaned) {
		return 0, false
	}
	return Money(cleaned, GuessLocale(cleaned))
}

// Round6 rounds to six decimal places.
func Round6(f float64) float64 {
	return decimal.NewFromFloat(f).Round(6).InexactFloat64()
}

// Mul multiplies two amounts and rounds the product to six decimal places.
func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(6).InexactFloat64()
}

// FormatNumber renders a float without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// InferCurrency guesses an ISO currency code from free text.
func InferCurrency(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "r$"), strings.Contains(lower, "real"), strings.Contains(lower, "brl"):
		return "BRL"
	case strings.Contains(lower, "us$"), strings.Contains(lower, "usd"),
		strings.Contains(lower, "dolar"), strings.Contains(lower, "dólar"):
		return "USD"
	case strings.Contains(lower, "eur"), strings.Contains(text, "€"):
		return "EUR"
	}
	return ""
}

// FoldAccents removes diacritics ("março" -> "marco").
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
