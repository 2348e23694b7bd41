// Package detect picks the parsing model that best matches a document.
package detect

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/model"
)

// Signal weights. A category adds its weight once however many of its rules
// match, except required fields which add one point each.
const (
	weightKeyword       = 2
	weightName          = 2
	weightCNPJ          = 3
	weightHeader        = 2
	weightRequiredField = 1

	headerLines = 20
)

// UnknownModelID is returned when there are no models at all.
const UnknownModelID = "unknown"

// Detector chooses a model for a parse context.
type Detector interface {
	Detect(pc *model.ParseContext, models []model.Definition) model.Detection
}

// RuleDetector scores models on keywords, customer names, customer CNPJs,
// header regexes and required-field tokens.
type RuleDetector struct{}

// NewRuleDetector returns a rule-based detector.
func NewRuleDetector() *RuleDetector { return &RuleDetector{} }

// Detect scores every usable model and returns the one with the strictly
// highest confidence, the first one on ties. When nothing scores it returns
// the fallback model with confidence 0.
func (d *RuleDetector) Detect(pc *model.ParseContext, models []model.Definition) model.Detection {
	text := strings.ToLower(pc.RawText)
	header := strings.ToLower(headerOf(pc.RawText, headerLines))
	found := foundCNPJs(pc)

	var best *model.Detection
	fallbackID := ""

	for i := range models {
		m := &models[i]
		if !m.Usable() {
			continue
		}
		// The last fallback-flagged model wins.
		if m.IsFallback() {
			fallbackID = m.ID
		}

		det, score := scoreModel(m, text, header, found)
		zap.L().Debug("detect: scored model",
			zap.String("model", m.ID),
			zap.Int("score", score),
			zap.Float64("confidence", det.Confidence),
		)
		if score <= 0 {
			continue
		}
		if best == nil || det.Confidence > best.Confidence {
			best = &det
		}
	}

	if best != nil {
		return *best
	}

	if fallbackID == "" {
		fallbackID = UnknownModelID
		if len(models) > 0 {
			fallbackID = models[0].ID
		}
	}
	return model.Detection{
		ModelID:    fallbackID,
		Confidence: 0,
		Reasons:    []string{"no_match"},
		Evidence:   []model.Evidence{{Type: "fallback", Value: fallbackID, Score: 0}},
	}
}

func scoreModel(m *model.Definition, text, header string, found map[string]struct{}) (model.Detection, int) {
	rules := m.Detection
	keywords := lowerAll(rules.Keywords)
	names := lowerAll(rules.CustomerNames)
	cnpjs := nonEmpty(rules.CustomerCNPJs)
	headers := nonEmpty(rules.HeaderRegex)
	required := lowerAll(rules.RequiredFields)

	maxScore := len(required) * weightRequiredField
	if len(keywords) > 0 {
		maxScore += weightKeyword
	}
	if len(names) > 0 {
		maxScore += weightName
	}
	if len(cnpjs) > 0 {
		maxScore += weightCNPJ
	}
	if len(headers) > 0 {
		maxScore += weightHeader
	}

	det := model.Detection{ModelID: m.ID}
	score := 0
	add := func(kind, value string, weight int) {
		det.Reasons = append(det.Reasons, fmt.Sprintf("%s:%s", kind, value))
		det.Evidence = append(det.Evidence, model.Evidence{Type: kind, Value: value, Score: float64(weight)})
	}

	if hits := matchSubstrings(keywords, text); len(hits) > 0 {
		score += weightKeyword
		for _, k := range hits {
			add("keyword", k, weightKeyword)
		}
	}

	if hits := matchSubstrings(names, text); len(hits) > 0 {
		score += weightName
		for _, n := range hits {
			add("name", n, weightName)
		}
	}

	var cnpjHits []string
	for _, c := range cnpjs {
		if _, ok := found[c]; ok {
			cnpjHits = append(cnpjHits, c)
		}
	}
	if len(cnpjHits) > 0 {
		score += weightCNPJ
		for _, c := range cnpjHits {
			add("cnpj", c, weightCNPJ)
		}
	}

	if hits := matchHeader(headers, header, m.ID); len(hits) > 0 {
		score += weightHeader
		for _, r := range hits {
			add("header_regex", r, weightHeader)
		}
	}

	for _, f := range matchSubstrings(required, text) {
		score += weightRequiredField
		add("required_field", f, weightRequiredField)
	}

	if maxScore < 1 {
		maxScore = 1
	}
	det.Confidence = clamp(float64(score) / float64(maxScore))
	return det, score
}

// matchSubstrings returns the needles contained in text, in rule order.
func matchSubstrings(needles []string, text string) []string {
	var matched []string
	for _, n := range needles {
		if strings.Contains(text, n) {
			matched = append(matched, n)
		}
	}
	return matched
}

// matchHeader runs each pattern case-insensitively against the header.
// Patterns that do not compile are skipped.
func matchHeader(patterns []string, header, modelID string) []string {
	var matched []string
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			zap.L().Debug("detect: skipping invalid header regex",
				zap.String("model", modelID),
				zap.String("regex", p),
				zap.Error(err),
			)
			continue
		}
		if re.MatchString(header) {
			matched = append(matched, p)
		}
	}
	return matched
}

func foundCNPJs(pc *model.ParseContext) map[string]struct{} {
	set := make(map[string]struct{})
	if pc.Data == nil {
		return set
	}
	for _, c := range pc.Data.CustomerCNPJs {
		set[c] = struct{}{}
	}
	for _, c := range pc.Data.CNPJs {
		set[c] = struct{}{}
	}
	return set
}

func headerOf(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func lowerAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

var _ Detector = (*RuleDetector)(nil)
