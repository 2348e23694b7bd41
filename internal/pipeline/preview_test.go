package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/parser"
)

func TestRunner_Detect(t *testing.T) {
	r := newTestRunner([]model.Definition{
		larModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}, runnerOpts{})

	res, err := r.Detect(context.Background(), textInput(larText))
	require.NoError(t, err)
	assert.Equal(t, "lar", res.ModelName)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Equal(t, []string{"keyword:lar cooperativa"}, res.Reasons)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "keyword", res.Evidence[0].Type)

	res, err = r.Detect(context.Background(), textInput("nada aqui"))
	require.NoError(t, err)
	assert.Equal(t, model.GenericModelID, res.ModelName)
	assert.Zero(t, res.Confidence)
}

func TestRunner_Detect_EmptyRegistry(t *testing.T) {
	r := newTestRunner(nil, runnerOpts{})
	res, err := r.Detect(context.Background(), textInput(larText))
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.ModelName)
	assert.Equal(t, []string{"no_match"}, res.Reasons)
}

func TestRunner_Preview(t *testing.T) {
	r := newTestRunner([]model.Definition{
		weakLarModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}, runnerOpts{})
	r.parsers.Register(model.ParserLegacyWorkflow, func(parser.Deps) parser.Parser { return draftParser() })

	p, err := r.Preview(context.Background(), textInput(larText))
	require.NoError(t, err)

	assert.Equal(t, "lar", p.Detected.ModelName)
	assert.InDelta(t, 0.5, p.Detected.Confidence, 1e-9)
	assert.True(t, p.NeedsConfiguration)
	assert.Equal(t, "LAR COOPERATIVA AGROINDUSTRIAL", p.SuggestedDisplayName)
	assert.Equal(t, "lar-cooperativa-agroindustrial", p.SuggestedModelName)
	assert.InDelta(t, 0.4, p.SuggestedConfidence, 1e-9)
	require.NotNil(t, p.Preview)
	assert.Equal(t, "1885367", p.Preview.Order.OrderNumber)
	assert.InDelta(t, 0.6, r.Threshold(), 1e-9)
}

func TestRunner_Preview_ParserError(t *testing.T) {
	r := newTestRunner([]model.Definition{genericModel(model.NormalizerCanonicalV1)}, runnerOpts{})
	r.parsers.Register(model.ParserLegacyWorkflow, func(parser.Deps) parser.Parser {
		return failingParser(errors.New("timeout"))
	})

	_, err := r.Preview(context.Background(), textInput("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preview parse")
}

func TestRunner_Preview_UnnamedCustomer(t *testing.T) {
	r := newTestRunner([]model.Definition{genericModel(model.NormalizerCanonicalV1)}, runnerOpts{})
	r.parsers.Register(model.ParserLegacyWorkflow, func(parser.Deps) parser.Parser { return draftParser() })

	p, err := r.Preview(context.Background(), textInput("itens diversos"))
	require.NoError(t, err)
	assert.Equal(t, "custom-20260120120000", p.SuggestedModelName)
	assert.Empty(t, p.SuggestedDisplayName)
}
