package parser

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/llm"
	"github.com/sells-group/order-parser/internal/model"
)

// Document types reported by the classifier.
const (
	DocEmail         = "email"
	DocPurchaseOrder = "purchase_order"
	DocQuote         = "quote"
	DocInvoice       = "invoice"
	DocUnknown       = "unknown"
)

// Warnings emitted by the parsers.
const (
	WarnMinimalPDFText = "PDF text extraction yielded minimal content. Consider enabling OCR."
	WarnNoCNPJ         = "Customer CNPJ not found in document"
	WarnNoLines        = "No order line items detected"
	WarnEmptyResult    = "Using empty result due to extraction failure"
)

const minPDFChars = 50

// Generic is the best-effort workflow: classify, ask the LLM, then merge
// and normalize with the deterministic evidence.
type Generic struct {
	deps Deps
}

// NewGeneric creates the generic workflow parser.
func NewGeneric(deps Deps) *Generic {
	return &Generic{deps: deps.withDefaults()}
}

// Parse implements Parser. Extraction failures become warnings, never errors.
func (g *Generic) Parse(ctx context.Context, pc *model.ParseContext) (*model.ParseOutput, error) {
	if pc == nil {
		return nil, eris.New("parser: nil parse context")
	}
	out := &model.ParseOutput{
		Warnings:    []string{},
		SplitOrders: []model.SplitOrder{},
		Metadata:    baseMetadata(pc, versionOr(g.deps.Version, "legacy"), g.deps.Now()),
	}

	if pc.Input.InputType == model.InputPDF && len(strings.TrimSpace(pc.RawText)) < minPDFChars {
		out.AddWarning(WarnMinimalPDFText)
	}

	data := pc.Data
	if data == nil {
		data = extract.Extract(pc.RawText)
		data.MarkCustomers(g.deps.Identity)
	}

	out.DocumentType = Classify(pc.RawText)

	draft, err := g.extract(ctx, pc.RawText, data, out.DocumentType)
	if err != nil {
		zap.L().Error("parser: llm extraction failed", zap.String("source", pc.Input.SourceName), zap.Error(err))
		out.AddWarning("LLM extraction failed: " + err.Error())
		out.AddWarning(WarnEmptyResult)
		out.Draft = &model.Draft{Lines: []model.DraftLine{}}
		return out, nil
	}

	mergeEvidence(draft, data)
	normalizeDraft(draft)

	if draft.Order.SellTo.CNPJ == "" {
		out.AddWarning(WarnNoCNPJ)
	}
	if len(draft.Lines) == 0 {
		out.AddWarning(WarnNoLines)
	}
	out.Draft = draft

	zap.L().Info("parser: generic workflow done",
		zap.String("document_type", out.DocumentType),
		zap.Int("lines", len(draft.Lines)),
		zap.Int("warnings", len(out.Warnings)),
	)
	return out, nil
}

func (g *Generic) extract(ctx context.Context, text string, data *extract.Result, docType string) (*model.Draft, error) {
	if g.deps.LLM == nil {
		return nil, eris.New("no LLM extractor configured")
	}
	ext, err := g.deps.LLM.Extract(ctx, llm.Request{Text: text, Data: data, DocumentType: docType})
	if err != nil {
		return nil, err
	}
	return llm.ToDraft(ext, data, g.deps.Tables), nil
}

// Classify guesses the document type from keywords.
func Classify(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "outlook") || strings.Contains(t, "enviado:") ||
		(strings.Contains(t, "de:") && strings.Contains(t, "para:")):
		return DocEmail
	case strings.Contains(t, "pedido de compra") || strings.Contains(t, "purchase order") ||
		strings.Contains(t, "ordem de compra"):
		return DocPurchaseOrder
	case strings.Contains(t, "cotação") || strings.Contains(t, "quote") || strings.Contains(t, "orçamento"):
		return DocQuote
	case strings.Contains(t, "nf-e") || strings.Contains(t, "nota fiscal"):
		return DocInvoice
	}
	return DocUnknown
}

// mergeEvidence fills gaps in the LLM draft with deterministic matches.
func mergeEvidence(d *model.Draft, data *extract.Result) {
	if data == nil {
		return
	}
	p := &d.Order.SellTo
	if p.CNPJ == "" && len(data.CustomerCNPJs) > 0 {
		p.CNPJ = data.CustomerCNPJs[0]
		zap.L().Debug("parser: using deterministic customer cnpj")
	}
	if p.Email == "" && len(data.Emails) > 0 {
		p.Email = data.Emails[0]
	}
	if p.Phone == "" && len(data.Phones) > 0 {
		p.Phone = data.Phones[0]
	}
	if d.Order.CustomerOrderNumber == "" && len(data.OrderNumbers) > 0 {
		d.Order.CustomerOrderNumber = data.OrderNumbers[0]
	}
}

func normalizeDraft(d *model.Draft) {
	o := &d.Order
	if o.SellTo.CNPJ != "" {
		o.SellTo.CNPJ = brazil.CNPJ(o.SellTo.CNPJ)
	}
	for _, f := range []*string{&o.OrderDate, &o.RequestedDeliveryDate, &o.PromisedDeliveryDate, &o.BillingDate} {
		if *f != "" {
			*f = brazil.Date(*f)
		}
	}
	for _, a := range []*model.DraftAddress{&o.BillTo, &o.ShipTo} {
		if a.Zip != "" {
			a.Zip = brazil.CEP(a.Zip)
		}
	}
}
