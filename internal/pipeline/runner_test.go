package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/store"
)

func textInput(text string) model.ParseInput {
	return model.ParseInput{InputType: model.InputText, Raw: []byte(text), SourceName: "pedido.txt"}
}

func TestRunner_Run_DetectsAndRecords(t *testing.T) {
	ctx := context.Background()
	in := textInput(larText)

	recs := &mockRecords{}
	var created *model.ProcessingLog
	recs.On("CreateLog", mock.Anything, mock.AnythingOfType("*model.ProcessingLog")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*model.ProcessingLog) }).
		Return(nil).Once()
	recs.On("FindDocumentByHash", mock.Anything, in.Hash()).Return(nil, nil).Once()
	var saved *model.ParsedDocument
	recs.On("UpsertDocument", mock.Anything, mock.AnythingOfType("*model.ParsedDocument")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.ParsedDocument) }).
		Return(nil).Once()
	var upd model.LogUpdate
	recs.On("UpdateLog", mock.Anything, "id-3", mock.AnythingOfType("model.LogUpdate")).
		Run(func(args mock.Arguments) { upd = args.Get(2).(model.LogUpdate) }).
		Return(nil).Once()

	audit := &MemoryAudit{}
	p := draftParser()
	r := newTestRunner([]model.Definition{
		larModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}, runnerOpts{parser: p, records: recs, audit: audit})

	out, err := r.Run(ctx, in)
	require.NoError(t, err)
	recs.AssertExpectations(t)
	assert.Equal(t, int32(1), p.calls.Load())

	assert.Equal(t, "lar", out.ModelID)
	require.NotNil(t, out.Canonical)
	doc := out.Canonical
	assert.Equal(t, "id-1", doc.Document.ID)
	assert.Equal(t, "lar", doc.Document.Model.Name)
	assert.Equal(t, model.DetectedByRule, doc.Document.Model.DetectedBy)
	assert.InDelta(t, 1.0, doc.Document.Model.Confidence, 1e-9)
	assert.Equal(t, model.StatusSuccess, doc.Parsing.Status)
	assert.Equal(t, "legacy", doc.Parsing.ParserVersion)
	assert.Empty(t, out.Warnings)

	require.NotNil(t, created)
	assert.Equal(t, "id-3", created.ID)
	assert.Equal(t, "id-1", created.DocumentID)
	assert.Equal(t, "id-2", created.CorrelationID)
	assert.Equal(t, model.LogStatusPartial, created.Status)
	assert.Equal(t, "LAR COOPERATIVA AGROINDUSTRIAL", created.CompanyName)
	assert.Equal(t, "pedido.txt", created.Filename)
	assert.Equal(t, []string{"keyword:lar cooperativa"}, created.RawMetadata["detector_reasons"])

	require.NotNil(t, saved)
	assert.Equal(t, "id-1", saved.DocumentID)
	assert.Equal(t, in.Hash(), saved.HashSHA256)
	assert.Equal(t, model.SchemaVersion, saved.SchemaVersion)
	assert.Equal(t, string(model.StatusSuccess), saved.Status)
	assert.Contains(t, string(saved.Canonical), `"order_number":"1885367"`)

	require.NotNil(t, upd.Status)
	assert.Equal(t, model.LogStatusSuccess, *upd.Status)
	assert.Equal(t, 0, *upd.WarningsCount)
	assert.Equal(t, 0, *upd.ErrorsCount)
	assert.Equal(t, "lar", *upd.ModelName)
	assert.Positive(t, *upd.DurationMS)
	assert.Equal(t, "v2", upd.RawMetadata["model_version"])
	assert.NotContains(t, upd.RawMetadata, "previous_document_id")

	recs2 := audit.Records()
	require.Len(t, recs2, 1)
	assert.Equal(t, "lar", recs2[0].ModelID)
	assert.Equal(t, "purchase_order", recs2[0].DocumentType)
	assert.Equal(t, "text", recs2[0].InputType)
	assert.Equal(t, "stub", recs2[0].Metadata["parser_key"])
	assert.Equal(t, model.NormalizerCanonicalV1, recs2[0].Metadata["normalizer_key"])
	assert.Equal(t, "id-2", recs2[0].Metadata["correlation_id"])
}

func TestRunner_Run_LowConfidenceFallsBack(t *testing.T) {
	r := newTestRunner([]model.Definition{
		weakLarModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}, runnerOpts{parser: draftParser()})

	out, err := r.Run(context.Background(), textInput(larText))
	require.NoError(t, err)

	assert.Equal(t, model.GenericModelID, out.ModelID)
	doc := out.Canonical
	require.NotNil(t, doc)
	assert.Equal(t, model.GenericModelID, doc.Document.Model.Name)
	assert.InDelta(t, 0.5, doc.Document.Model.Confidence, 1e-9)
	assert.Equal(t, model.StatusPartial, doc.Parsing.Status)
	assert.Equal(t, []string{WarnLowConfidence}, out.Warnings)
	assert.Equal(t, out.Warnings, doc.Parsing.Warnings)
}

func TestRunner_Run_LowConfidenceLegacyOutput(t *testing.T) {
	r := newTestRunner([]model.Definition{
		weakLarModel(model.NormalizerPassthrough),
		genericModel(model.NormalizerPassthrough),
	}, runnerOpts{parser: draftParser()})

	out, err := r.Run(context.Background(), textInput(larText))
	require.NoError(t, err)

	assert.Nil(t, out.Canonical)
	require.NotNil(t, out.Legacy)
	assert.Equal(t, "1885367", out.Legacy.Order.CustomerOrderNumber)
	assert.Equal(t, model.GenericModelID, out.ModelID)
	assert.Equal(t, []string{WarnLowConfidence}, out.Warnings)
}

func TestRunner_Run_NoMatchUsesFallbackWithoutWarning(t *testing.T) {
	r := newTestRunner([]model.Definition{
		larModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}, runnerOpts{parser: draftParser()})

	out, err := r.Run(context.Background(), textInput("pedido sem marcas conhecidas"))
	require.NoError(t, err)
	assert.Equal(t, model.GenericModelID, out.ModelID)
	assert.NotContains(t, out.Warnings, WarnLowConfidence)
	assert.Zero(t, out.Canonical.Document.Model.Confidence)
}

func TestRunner_Run_Override(t *testing.T) {
	models := []model.Definition{
		larModel(model.NormalizerCanonicalV1),
		genericModel(model.NormalizerCanonicalV1),
	}

	t.Run("known model", func(t *testing.T) {
		r := newTestRunner(models, runnerOpts{parser: draftParser()})
		in := textInput(larText)
		in.ModelOverride = model.GenericModelID

		out, err := r.Run(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, model.GenericModelID, out.ModelID)
		assert.Equal(t, model.DetectedByManual, out.Canonical.Document.Model.DetectedBy)
		assert.InDelta(t, 1.0, out.Canonical.Document.Model.Confidence, 1e-9)
	})

	t.Run("disabled model is still honoured", func(t *testing.T) {
		disabled := larModel(model.NormalizerCanonicalV1)
		disabled.ID = "cargill"
		disabled.Enabled = false
		r := newTestRunner(append(models, disabled), runnerOpts{parser: draftParser()})
		in := textInput(larText)
		in.ModelOverride = "cargill"

		out, err := r.Run(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "cargill", out.ModelID)
	})

	t.Run("unknown model detects", func(t *testing.T) {
		r := newTestRunner(models, runnerOpts{parser: draftParser()})
		in := textInput(larText)
		in.ModelOverride = "nope"

		out, err := r.Run(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "lar", out.ModelID)
		assert.Equal(t, model.DetectedByRule, out.Canonical.Document.Model.DetectedBy)
	})
}

func TestRunner_Run_ParserFailure(t *testing.T) {
	ctx := context.Background()
	in := textInput(larText)

	recs := &mockRecords{}
	recs.On("CreateLog", mock.Anything, mock.Anything).Return(nil).Once()
	var saved *model.ParsedDocument
	recs.On("UpsertDocument", mock.Anything, mock.AnythingOfType("*model.ParsedDocument")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.ParsedDocument) }).
		Return(nil).Once()
	var upd model.LogUpdate
	recs.On("UpdateLog", mock.Anything, "id-3", mock.AnythingOfType("model.LogUpdate")).
		Run(func(args mock.Arguments) { upd = args.Get(2).(model.LogUpdate) }).
		Return(nil).Once()

	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: failingParser(errors.New("layout changed")), records: recs})

	out, err := r.Run(ctx, in)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "layout changed")
	recs.AssertExpectations(t)
	recs.AssertNotCalled(t, "FindDocumentByHash", mock.Anything, mock.Anything)

	require.NotNil(t, saved)
	assert.Equal(t, string(model.StatusFailed), saved.Status)
	assert.Equal(t, "id-1", saved.DocumentID)
	require.Len(t, saved.Warnings, 1)
	assert.Contains(t, saved.Warnings[0], "layout changed")

	assert.Equal(t, model.LogStatusFailed, *upd.Status)
	assert.Equal(t, 1, *upd.ErrorsCount)
	assert.Contains(t, *upd.ErrorSummary, "layout changed")
	assert.LessOrEqual(t, len(*upd.ErrorSummary), maxErrorSummary)
	trace, ok := upd.RawMetadata["trace"].(string)
	require.True(t, ok)
	assert.Contains(t, trace, "layout changed")
}

func TestRunner_Run_ParserPanic(t *testing.T) {
	recs := &mockRecords{}
	recs.On("CreateLog", mock.Anything, mock.Anything).Return(nil).Once()
	var saved *model.ParsedDocument
	recs.On("UpsertDocument", mock.Anything, mock.AnythingOfType("*model.ParsedDocument")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.ParsedDocument) }).
		Return(nil).Once()
	var upd model.LogUpdate
	recs.On("UpdateLog", mock.Anything, "id-3", mock.AnythingOfType("model.LogUpdate")).
		Run(func(args mock.Arguments) { upd = args.Get(2).(model.LogUpdate) }).
		Return(nil).Once()

	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: panickingParser("slice bounds out of range"), records: recs})

	var (
		out *model.Output
		err error
	)
	require.NotPanics(t, func() { out, err = r.Run(context.Background(), textInput(larText)) })
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "slice bounds out of range")
	recs.AssertExpectations(t)

	require.NotNil(t, saved)
	assert.Equal(t, string(model.StatusFailed), saved.Status)
	assert.Equal(t, model.LogStatusFailed, *upd.Status)
	assert.Contains(t, *upd.ErrorSummary, "panic")
}

func TestRunner_Run_RecordsErrorsAreNotFatalAfterCreate(t *testing.T) {
	recs := &mockRecords{}
	recs.On("CreateLog", mock.Anything, mock.Anything).Return(nil).Once()
	recs.On("FindDocumentByHash", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
	recs.On("UpsertDocument", mock.Anything, mock.Anything).Return(nil).Once()
	recs.On("UpdateLog", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: draftParser(), records: recs})
	out, err := r.Run(context.Background(), textInput(larText))
	require.NoError(t, err)
	assert.Equal(t, "lar", out.ModelID)
	recs.AssertExpectations(t)
}

func TestRunner_Run_CreateLogFailure(t *testing.T) {
	recs := &mockRecords{}
	recs.On("CreateLog", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	p := draftParser()
	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: p, records: recs})
	_, err := r.Run(context.Background(), textInput(larText))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create processing log")
	assert.Zero(t, p.calls.Load())
}

func TestRunner_Run_PreviousDocument(t *testing.T) {
	in := textInput(larText)
	recs := &mockRecords{}
	recs.On("CreateLog", mock.Anything, mock.Anything).Return(nil).Once()
	recs.On("FindDocumentByHash", mock.Anything, in.Hash()).
		Return(&model.ParsedDocument{DocumentID: "older"}, nil).Once()
	recs.On("UpsertDocument", mock.Anything, mock.Anything).Return(nil).Once()
	var upd model.LogUpdate
	recs.On("UpdateLog", mock.Anything, mock.Anything, mock.AnythingOfType("model.LogUpdate")).
		Run(func(args mock.Arguments) { upd = args.Get(2).(model.LogUpdate) }).
		Return(nil).Once()

	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: draftParser(), records: recs})
	_, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "older", upd.RawMetadata["previous_document_id"])
}

func TestRunner_Run_KeepsCallerIDs(t *testing.T) {
	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: draftParser()})
	in := textInput(larText)
	in.DocumentID = "doc-42"
	in.CorrelationID = "corr-7"

	out, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "doc-42", out.Canonical.Document.ID)
}

func TestRunner_Run_PDFUsesTextExtractor(t *testing.T) {
	var seen string
	p := &stubParser{build: func(pc *model.ParseContext) (*model.ParseOutput, error) {
		seen = pc.RawText
		return &model.ParseOutput{Draft: larDraft(), DocumentType: "purchase_order"}, nil
	}}
	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: p, text: fakeText{text: larText}})

	out, err := r.Run(context.Background(), model.ParseInput{InputType: model.InputPDF, Raw: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, larText, seen)
	assert.Equal(t, "lar", out.ModelID)
}

func TestRunner_Run_NoModels(t *testing.T) {
	r := newTestRunner(nil, runnerOpts{parser: draftParser()})
	_, err := r.Run(context.Background(), textInput(larText))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models registered")
}

func TestRunner_Run_UnknownParserKey(t *testing.T) {
	m := larModel(model.NormalizerCanonicalV1)
	m.ParserKey = "missing"
	r := newTestRunner([]model.Definition{m}, runnerOpts{})
	_, err := r.Run(context.Background(), textInput(larText))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown parser key "missing"`)
}

func TestRunner_Run_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	r := newTestRunner([]model.Definition{larModel(model.NormalizerCanonicalV1)},
		runnerOpts{parser: draftParser(), records: st})
	in := textInput(larText)

	_, err = r.Run(ctx, in)
	require.NoError(t, err)

	l, err := st.GetLog(ctx, "id-3")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, model.LogStatusSuccess, l.Status)
	assert.Equal(t, "lar", l.ModelName)
	require.NotNil(t, l.FinishedAt)

	doc, err := st.GetDocument(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, in.Hash(), doc.HashSHA256)
	assert.True(t, strings.HasPrefix(string(doc.Canonical), "{"))

	// The same payload again points at the first document.
	_, err = r.Run(ctx, in)
	require.NoError(t, err)
	second, err := st.GetLog(ctx, "id-6")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "id-1", second.RawMetadata["previous_document_id"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "a", truncate("aç", 2), "never splits a rune")
}
