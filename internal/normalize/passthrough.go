package normalize

import "github.com/sells-group/order-parser/internal/model"

// Passthrough hands the draft back without touching it. A missing draft
// renders as an empty result object.
type Passthrough struct{}

// Normalize implements Normalizer.
func (Passthrough) Normalize(parsed *model.ParseOutput) (*model.Output, error) {
	if parsed == nil {
		parsed = &model.ParseOutput{}
	}
	docType := parsed.DocumentType
	if docType == "" {
		docType = string(model.DocumentUnknown)
	}
	return &model.Output{
		Legacy:           parsed.Draft,
		Warnings:         nonNil(parsed.Warnings),
		DocumentType:     docType,
		SplitOrders:      nonNilSplits(parsed.SplitOrders),
		HasMultipleDates: parsed.HasMultipleDates,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilSplits(s []model.SplitOrder) []model.SplitOrder {
	if s == nil {
		return []model.SplitOrder{}
	}
	return s
}
