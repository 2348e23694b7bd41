package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/order-parser/internal/config"
	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/normalize"
	"github.com/sells-group/order-parser/internal/parser"
	"github.com/sells-group/order-parser/internal/registry"
)

// --- Records mock ---

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) CreateLog(ctx context.Context, l *model.ProcessingLog) error {
	return m.Called(ctx, l).Error(0)
}

func (m *mockRecords) UpdateLog(ctx context.Context, id string, upd model.LogUpdate) error {
	return m.Called(ctx, id, upd).Error(0)
}

func (m *mockRecords) UpsertDocument(ctx context.Context, doc *model.ParsedDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockRecords) FindDocumentByHash(ctx context.Context, hash string) (*model.ParsedDocument, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ParsedDocument), args.Error(1)
}

// --- Parser stub ---

type stubParser struct {
	calls atomic.Int32
	build func(pc *model.ParseContext) (*model.ParseOutput, error)
}

func (s *stubParser) Parse(_ context.Context, pc *model.ParseContext) (*model.ParseOutput, error) {
	s.calls.Add(1)
	return s.build(pc)
}

type fakeText struct {
	text string
}

func (f fakeText) Text(context.Context, []byte) string { return f.text }

const larText = `LAR COOPERATIVA AGROINDUSTRIAL
CNPJ: 77.595.395/0001-50
Nr.Ordem de Compra: 1885367
Data Emissao: 14/01/2026`

func larDraft() *model.Draft {
	return &model.Draft{
		Order: model.DraftOrder{
			CustomerOrderNumber: "1885367",
			OrderDate:           "2026-01-14",
			SellTo:              model.Party{Name: "LAR COOPERATIVA AGROINDUSTRIAL", CNPJ: "77595395000150"},
		},
		Lines: []model.DraftLine{{Description: "FARELO DE SOJA", Quantity: "10", UnitPrice: "2,50"}},
	}
}

func draftParser() *stubParser {
	return &stubParser{build: func(pc *model.ParseContext) (*model.ParseOutput, error) {
		return &model.ParseOutput{
			Draft:        larDraft(),
			Warnings:     []string{},
			DocumentType: "purchase_order",
			Metadata: model.ParseMetadata{
				InputType:  pc.Input.InputType,
				SourceName: pc.Input.SourceName,
				HashSHA256: pc.Input.Hash(),
			},
		}, nil
	}}
}

func failingParser(err error) *stubParser {
	return &stubParser{build: func(*model.ParseContext) (*model.ParseOutput, error) { return nil, err }}
}

func panickingParser(v any) *stubParser {
	return &stubParser{build: func(*model.ParseContext) (*model.ParseOutput, error) { panic(v) }}
}

func larModel(normalizer string) model.Definition {
	return model.Definition{
		ID:            "lar",
		Label:         "LAR Cooperativa",
		ParserKey:     "stub",
		NormalizerKey: normalizer,
		Version:       "v2",
		Status:        model.ModelActive,
		Enabled:       true,
		Detection:     model.DetectionRules{Keywords: []string{"lar cooperativa"}},
	}
}

// weakLarModel only half matches larText, which lands below the threshold.
func weakLarModel(normalizer string) model.Definition {
	m := larModel(normalizer)
	m.Detection.CustomerNames = []string{"lar agroindustrial ltda"}
	return m
}

func genericModel(normalizer string) model.Definition {
	return model.Definition{
		ID:            model.GenericModelID,
		ParserKey:     "stub",
		NormalizerKey: normalizer,
		Version:       "v1",
		Status:        model.ModelActive,
		Enabled:       true,
		Detection:     model.DetectionRules{Fallback: true},
	}
}

func testClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC).Add(time.Duration(n.Add(1)) * 10 * time.Millisecond)
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

type runnerOpts struct {
	parser  *stubParser
	records Records
	audit   AuditLogger
	text    TextExtractor
}

func newTestRunner(models []model.Definition, o runnerOpts) *Runner {
	parsers := parser.NewRegistry(parser.Deps{})
	if o.parser != nil {
		p := o.parser
		parsers.Register("stub", func(parser.Deps) parser.Parser { return p })
	}
	return New(Deps{
		Models:      registry.NewStatic(models...),
		Parsers:     parsers,
		Normalizers: normalize.NewRegistry(normalize.Deps{}),
		Records:     o.records,
		Audit:       o.audit,
		Text:        o.text,
		Config:      config.PipelineConfig{ConfidenceThreshold: 0.6},
		Now:         testClock(),
		NewID:       sequentialIDs(),
	})
}
