package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/resilience"
	"github.com/sells-group/order-parser/pkg/anthropic"
)

// ClaudeConfig configures the Claude extractor.
type ClaudeConfig struct {
	Model             string
	MaxTokens         int64
	RequestsPerSecond float64
	Retry             resilience.Policy
}

// Claude extracts orders through the Anthropic API.
type Claude struct {
	client   anthropic.Client
	cfg      ClaudeConfig
	identity *company.Identity
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
}

// NewClaude builds an extractor. identity tells the model which company is
// the supplier so it is not reported as the customer.
func NewClaude(client anthropic.Client, identity *company.Identity, cfg ClaudeConfig) *Claude {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.LogRetry("anthropic", "extract_order")
	}
	if identity == nil {
		identity = company.DefaultIdentity()
	}
	return &Claude{
		client:   client,
		cfg:      cfg,
		identity: identity,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  resilience.NewBreaker("anthropic", 5, 0),
	}
}

// Extract sends the document and the deterministic evidence to Claude and
// decodes the JSON reply.
func (c *Claude) Extract(ctx context.Context, req Request) (*Extraction, error) {
	msg := anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: c.userPrompt(req)}},
		Temperature: ptr(0.1),
	}

	resp, err := resilience.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limit wait")
		}
		var out *anthropic.MessageResponse
		err := c.breaker.Do(func() error {
			r, err := c.client.CreateMessage(ctx, msg)
			if err != nil {
				if code := anthropic.StatusCode(err); resilience.RetryableStatus(code) {
					return resilience.Transient(err, code)
				}
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: extract order")
	}

	text := cleanJSON(resp.Text())
	var ext Extraction
	if err := json.Unmarshal([]byte(text), &ext); err != nil {
		return nil, eris.Wrap(err, "llm: decode extraction")
	}

	zap.L().Info("llm: extracted order",
		zap.String("document_type", req.DocumentType),
		zap.Int("lines", len(ext.Lines)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return &ext, nil
}

const systemPrompt = `You read Brazilian purchase orders and return one JSON object, nothing else.

Shape:
{
  "order": {
    "customer_order_number", "order_date", "requested_delivery_date",
    "promised_delivery_date", "billing_date", "currency_code",
    "payment_terms", "payment_terms_days", "payment_days_of_month",
    "payment_method", "shipping_method", "notes",
    "customer_name", "customer_cnpj", "customer_ie", "customer_phone",
    "customer_email", "customer_contact",
    "bill_address", "bill_number", "bill_complement", "bill_district",
    "bill_city", "bill_state", "bill_zip", "bill_country",
    "ship_address", "ship_number", "ship_complement", "ship_district",
    "ship_city", "ship_state", "ship_zip", "ship_country"
  },
  "lines": [
    {"customer_order_item_no", "item_reference_no", "description",
     "quantity", "unit_of_measure", "unit_price_excl_vat"}
  ]
}

Rules:
- The customer is the company that issued the order. The supplier listed in the
  context is never the customer.
- Dates as DD/MM/YYYY exactly as printed.
- quantity and unit_price_excl_vat are numbers; payment_terms_days is a number of days.
- payment_days_of_month lists fixed days of the month separated by "-", e.g. "10-20".
- shipping_method is the freight code when present (CIF, FOB).
- Omit or null any field the document does not state. Never invent values.`

func (c *Claude) userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document type: %s\n\n", orNotSpecified(req.DocumentType))
	b.WriteString("SUPPLIER (our company, never the customer):\n")
	fmt.Fprintf(&b, "- CNPJs: %s\n", joinOr(c.identity.CNPJs))
	fmt.Fprintf(&b, "- Names: %s\n\n", joinOr(c.identity.Names))
	b.WriteString("PRE-EXTRACTED DATA (regex matches, reliable):\n")

	if d := req.Data; d != nil {
		listLine(&b, "CNPJs found", d.CNPJs)
		listLine(&b, "Emails found", d.Emails)
		listLine(&b, "Phones found", d.Phones)
		var dates []string
		for _, dt := range d.Dates {
			dates = append(dates, dt.ISO)
		}
		listLine(&b, "Dates found", dates)
		listLine(&b, "Order numbers found", d.OrderNumbers)

		pt := d.PaymentTerms
		if pt.Days != nil || len(pt.PaymentDays) > 0 {
			b.WriteString("\nPAYMENT TERMS FOUND:\n")
			if pt.Days != nil {
				fmt.Fprintf(&b, "- Days: %d\n", *pt.Days)
			}
			if len(pt.PaymentDays) > 0 {
				fmt.Fprintf(&b, "- Payment days of month: %v\n", pt.PaymentDays)
			}
			if pt.BankTransfer != nil {
				yes := "No"
				if *pt.BankTransfer {
					yes = "Yes"
				}
				fmt.Fprintf(&b, "- Bank transfer: %s\n", yes)
			}
			if pt.Interpretation != "" {
				fmt.Fprintf(&b, "- Interpretation: %s\n", pt.Interpretation)
			}
		}
	}

	b.WriteString("\n---\n\nDOCUMENT TEXT:\n\n")
	b.WriteString(req.Text)
	b.WriteString("\n\n---\n\nReturn the JSON object now. Use null for anything not in the document.")
	return b.String()
}

func listLine(b *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(values, ", "))
}

func joinOr(values []string) string {
	if len(values) == 0 {
		return "not specified"
	}
	return strings.Join(values, ", ")
}

func orNotSpecified(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func ptr[T any](v T) *T { return &v }

var _ Extractor = (*Claude)(nil)
