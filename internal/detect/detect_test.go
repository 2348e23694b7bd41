package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/model"
)

func textContext(text string, data *extract.Result) *model.ParseContext {
	if data == nil {
		data = &extract.Result{}
	}
	return &model.ParseContext{
		Input:   model.ParseInput{InputType: model.InputText, Raw: []byte(text)},
		RawText: text,
		Data:    data,
	}
}

func def(id string, rules model.DetectionRules) model.Definition {
	return model.Definition{
		ID:        id,
		Label:     id,
		ParserKey: "dummy",
		Status:    model.ModelActive,
		Enabled:   true,
		Detection: rules,
	}
}

func generic() model.Definition {
	return def(model.GenericModelID, model.DetectionRules{Fallback: true})
}

func evidenceTypes(d model.Detection) []string {
	var out []string
	for _, e := range d.Evidence {
		out = append(out, e.Type)
	}
	return out
}

func TestDetect_HeaderRegexAndRequiredFields(t *testing.T) {
	text := "Pedido de compra\nCNPJ: 12.345.678/0001-90\nPedido: 123"
	models := []model.Definition{
		def("lar", model.DetectionRules{
			HeaderRegex:    []string{`^\s*pedido de compra`},
			RequiredFields: []string{"cnpj", "pedido"},
		}),
		generic(),
	}

	det := NewRuleDetector().Detect(textContext(text, extract.Extract(text)), models)

	assert.Equal(t, "lar", det.ModelID)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	assert.False(t, det.Overridden)
	assert.Equal(t, []string{"header_regex", "required_field", "required_field"}, evidenceTypes(det))
	assert.Equal(t, []string{
		`header_regex:^\s*pedido de compra`,
		"required_field:cnpj",
		"required_field:pedido",
	}, det.Reasons)
}

func TestDetect_CustomerCNPJ(t *testing.T) {
	models := []model.Definition{
		def("lar", model.DetectionRules{CustomerCNPJs: []string{"12345678000190"}}),
		generic(),
	}
	pc := textContext("text", &extract.Result{CNPJs: []string{"12345678000190"}})

	det := NewRuleDetector().Detect(pc, models)

	assert.Equal(t, "lar", det.ModelID)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	assert.Contains(t, det.Reasons, "cnpj:12345678000190")
	require.Len(t, det.Evidence, 1)
	assert.Equal(t, model.Evidence{Type: "cnpj", Value: "12345678000190", Score: 3}, det.Evidence[0])
}

func TestDetect_CustomerCNPJsFromMarkedCustomers(t *testing.T) {
	models := []model.Definition{
		def("brf", model.DetectionRules{CustomerCNPJs: []string{"01838723000127"}}),
	}
	pc := textContext("text", &extract.Result{CustomerCNPJs: []string{"01838723000127"}})

	det := NewRuleDetector().Detect(pc, models)
	assert.Equal(t, "brf", det.ModelID)
}

func TestDetect_FallbackWhenNothingMatches(t *testing.T) {
	models := []model.Definition{
		def("lar", model.DetectionRules{Keywords: []string{"cooperativa lar"}}),
		generic(),
	}

	det := NewRuleDetector().Detect(textContext("text", nil), models)

	assert.Equal(t, model.GenericModelID, det.ModelID)
	assert.Zero(t, det.Confidence)
	assert.Equal(t, []string{"no_match"}, det.Reasons)
	require.Len(t, det.Evidence, 1)
	assert.Equal(t, model.Evidence{Type: "fallback", Value: model.GenericModelID, Score: 0}, det.Evidence[0])
}

func TestDetect_FallbackOrder(t *testing.T) {
	pc := textContext("nothing relevant", nil)
	d := NewRuleDetector()

	flagged := def("catchall", model.DetectionRules{Fallback: true})
	assert.Equal(t, "catchall", d.Detect(pc, []model.Definition{def("a", model.DetectionRules{}), flagged}).ModelID)
	assert.Equal(t, "catchall", d.Detect(pc, []model.Definition{generic(), flagged}).ModelID)
	assert.Equal(t, model.GenericModelID, d.Detect(pc, []model.Definition{flagged, generic()}).ModelID)

	assert.Equal(t, "a", d.Detect(pc, []model.Definition{def("a", model.DetectionRules{}), def("b", model.DetectionRules{})}).ModelID)

	det := d.Detect(pc, nil)
	assert.Equal(t, UnknownModelID, det.ModelID)
	assert.Zero(t, det.Confidence)

	det = d.Detect(pc, []model.Definition{})
	assert.Equal(t, UnknownModelID, det.ModelID)
}

func TestDetect_SkipsUnusableModels(t *testing.T) {
	inactive := def("old", model.DetectionRules{Keywords: []string{"pedido"}})
	inactive.Status = model.ModelInactive
	disabled := def("off", model.DetectionRules{Keywords: []string{"pedido"}})
	disabled.Enabled = false

	det := NewRuleDetector().Detect(textContext("pedido 1", nil), []model.Definition{inactive, disabled, generic()})
	assert.Equal(t, model.GenericModelID, det.ModelID)
	assert.Equal(t, []string{"no_match"}, det.Reasons)
}

func TestDetect_TieKeepsFirst(t *testing.T) {
	models := []model.Definition{
		def("first", model.DetectionRules{Keywords: []string{"acme"}}),
		def("second", model.DetectionRules{Keywords: []string{"acme"}}),
	}
	det := NewRuleDetector().Detect(textContext("ACME pedido", nil), models)
	assert.Equal(t, "first", det.ModelID)
}

func TestDetect_HigherConfidenceWins(t *testing.T) {
	models := []model.Definition{
		def("partial", model.DetectionRules{Keywords: []string{"acme"}, CustomerNames: []string{"other"}}),
		def("full", model.DetectionRules{Keywords: []string{"acme"}}),
	}
	det := NewRuleDetector().Detect(textContext("acme", nil), models)
	assert.Equal(t, "full", det.ModelID)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
}

func TestDetect_KeywordFiresOnce(t *testing.T) {
	models := []model.Definition{
		def("kw", model.DetectionRules{
			Keywords:       []string{"Alpha", "beta"},
			RequiredFields: []string{"missing"},
		}),
	}
	det := NewRuleDetector().Detect(textContext("alpha BETA", nil), models)

	assert.Equal(t, "kw", det.ModelID)
	assert.InDelta(t, 2.0/3.0, det.Confidence, 1e-9)
	assert.Equal(t, []string{"keyword:alpha", "keyword:beta"}, det.Reasons)
}

func TestDetect_MalformedRegexSkipped(t *testing.T) {
	models := []model.Definition{
		def("lar", model.DetectionRules{HeaderRegex: []string{"(", "^pedido"}}),
	}
	det := NewRuleDetector().Detect(textContext("PEDIDO 55", nil), models)

	assert.Equal(t, "lar", det.ModelID)
	assert.Equal(t, []string{"header_regex:^pedido"}, det.Reasons)
}

func TestDetect_HeaderLimitedToFirstLines(t *testing.T) {
	text := ""
	for i := 0; i < 25; i++ {
		text += "linha\n"
	}
	text += "pedido de compra"
	models := []model.Definition{
		def("lar", model.DetectionRules{HeaderRegex: []string{"pedido de compra"}}),
		generic(),
	}
	det := NewRuleDetector().Detect(textContext(text, nil), models)
	assert.Equal(t, model.GenericModelID, det.ModelID)
}

func TestDetect_Deterministic(t *testing.T) {
	text := "Pedido de compra\nCooperativa LAR\nCNPJ 12.345.678/0001-90"
	pc := textContext(text, extract.Extract(text))
	models := []model.Definition{
		def("lar", model.DetectionRules{
			Keywords:      []string{"cooperativa lar"},
			CustomerCNPJs: []string{"12345678000190"},
		}),
		def("brf", model.DetectionRules{Keywords: []string{"brf"}}),
		generic(),
	}

	d := NewRuleDetector()
	first := d.Detect(pc, models)
	for i := 0; i < 10; i++ {
		again := d.Detect(pc, models)
		assert.Equal(t, first.ModelID, again.ModelID)
		assert.Equal(t, first.Confidence, again.Confidence)
		assert.Equal(t, first.Reasons, again.Reasons)
	}
}

func TestDetect_AddingMatchingSignalNeverLowersConfidence(t *testing.T) {
	text := "Pedido de compra ACME\nCNPJ 12.345.678/0001-90"
	pc := textContext(text, extract.Extract(text))

	steps := []model.DetectionRules{
		{Keywords: []string{"acme"}, RequiredFields: []string{"not-there"}},
		{Keywords: []string{"acme"}, RequiredFields: []string{"not-there"}, CustomerCNPJs: []string{"12345678000190"}},
		{Keywords: []string{"acme"}, RequiredFields: []string{"not-there"}, CustomerCNPJs: []string{"12345678000190"}, HeaderRegex: []string{"^pedido"}},
		{Keywords: []string{"acme", "compra"}, RequiredFields: []string{"not-there"}, CustomerCNPJs: []string{"12345678000190"}, HeaderRegex: []string{"^pedido"}},
	}

	d := NewRuleDetector()
	prev := -1.0
	for i, rules := range steps {
		det := d.Detect(pc, []model.Definition{def("m", rules)})
		require.Equal(t, "m", det.ModelID, "step %d", i)
		assert.GreaterOrEqual(t, det.Confidence, prev, "step %d", i)
		prev = det.Confidence
	}
}
