package parser

import (
	"context"
	"strings"

	"github.com/sells-group/order-parser/internal/model"
)

// BRF reads BRF orders through the generic workflow, then recovers line
// totals the extraction left empty from the item rows in the text.
type BRF struct {
	generic *Generic
}

// NewBRF creates the BRF parser.
func NewBRF(deps Deps) *BRF {
	return &BRF{generic: NewGeneric(deps)}
}

// Parse implements Parser.
func (p *BRF) Parse(ctx context.Context, pc *model.ParseContext) (*model.ParseOutput, error) {
	out, err := p.generic.Parse(ctx, pc)
	if err != nil {
		return nil, err
	}
	attribute(&out.Metadata, "brf")
	if out.Draft != nil {
		fillTotals(out.Draft.Lines, nonEmptyLines(pc.RawText))
	}
	return out, nil
}

// fillTotals looks for each line's row in the text and takes the last
// comma-bearing token among its final four tokens as the total. A
// decorative decimal number at the end of a row is taken as the total.
func fillTotals(items []model.DraftLine, lines []string) {
	for i := range items {
		if items[i].Total != "" {
			continue
		}
		row := sourceRow(items[i], lines)
		if row == "" {
			continue
		}
		tokens := strings.Fields(row)
		if len(tokens) > 4 {
			tokens = tokens[len(tokens)-4:]
		}
		for j := len(tokens) - 1; j >= 0; j-- {
			if strings.Contains(tokens[j], ",") {
				items[i].Total = tokens[j]
				break
			}
		}
	}
}

func sourceRow(item model.DraftLine, lines []string) string {
	for _, needle := range []string{item.ItemReferenceNo, item.Description} {
		if needle == "" {
			continue
		}
		for _, line := range lines {
			if strings.Contains(line, needle) {
				return line
			}
		}
	}
	return ""
}
