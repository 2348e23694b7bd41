package company

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Guess is a best-effort customer name read from document text.
type Guess struct {
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Snippet    string  `json:"snippet,omitempty"`
}

var labelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)raz[aã]o\s+social\s*[:\-]\s*(.+)`),
	regexp.MustCompile(`(?i)cliente\s*[:\-]\s*(.+)`),
	regexp.MustCompile(`(?i)comprador\s*[:\-]\s*(.+)`),
	regexp.MustCompile(`(?i)destinat[aá]rio\s*[:\-]\s*(.+)`),
	regexp.MustCompile(`(?i)nome\s+fantasia\s*[:\-]\s*(.+)`),
}

var (
	legalSuffixRe = regexp.MustCompile(`\b(ltda|s\.a\.|sa|eireli|me)\b`)
	taxPrefixRe   = regexp.MustCompile(`(?i)^(cnpj|cpf)\s*[:\-]?`)
	spacesRe      = regexp.MustCompile(`\s+`)
	slugRe        = regexp.MustCompile(`[^a-z0-9]+`)
)

// GuessName tries labelled fields, then an uppercase header line carrying a
// legal suffix, then the line right above a CNPJ. The result only feeds logs
// and model-name suggestions.
func GuessName(text string) Guess {
	if text == "" {
		return Guess{}
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	for _, re := range labelPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if name := cleanName(m[1]); name != "" {
			return Guess{Name: name, Confidence: 0.75, Snippet: truncate(m[0], 120)}
		}
	}

	for i, l := range lines {
		if i >= 10 {
			break
		}
		if len([]rune(l)) > 5 && isUpper(l) && legalSuffixRe.MatchString(strings.ToLower(l)) {
			return Guess{Name: cleanName(l), Confidence: 0.5, Snippet: l}
		}
	}

	for i, l := range lines {
		if i == 0 || !strings.Contains(strings.ToLower(l), "cnpj") {
			continue
		}
		if name := cleanName(lines[i-1]); name != "" {
			return Guess{Name: name, Confidence: 0.4, Snippet: lines[i-1]}
		}
	}
	return Guess{}
}

// SuggestModelName slugs name for use as a model id, falling back to a
// timestamped "custom-" id.
func SuggestModelName(name string, now time.Time) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug != "" {
		if len(slug) > 40 {
			slug = slug[:40]
		}
		return slug
	}
	return fmt.Sprintf("custom-%s", now.UTC().Format("20060102150405"))
}

func cleanName(s string) string {
	s = strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
	s = strings.TrimSpace(taxPrefixRe.ReplaceAllString(s, ""))
	if len([]rune(s)) < 3 {
		return ""
	}
	return s
}

// isUpper mirrors "has cased letters and all of them are upper case".
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
