package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/model"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

var documentTypes = map[string]model.DocumentType{
	"purchase_order": model.DocumentOrder,
	"order":          model.DocumentOrder,
	"quote":          model.DocumentBudget,
	"budget":         model.DocumentBudget,
}

var currencies = map[string]model.CurrencyCode{
	"BRL": model.CurrencyBRL,
	"USD": model.CurrencyUSD,
	"EUR": model.CurrencyEUR,
}

// Canonical builds schema version 1.0 documents from drafts.
type Canonical struct {
	tables   *mapping.Tables
	now      func() time.Time
	validate bool
	newID    func() string
}

// NewCanonical creates the canonical_v1 normalizer.
func NewCanonical(d Deps) *Canonical {
	c := &Canonical{tables: d.Tables, now: d.Now, validate: d.Validate, newID: uuid.NewString}
	if c.tables == nil {
		c.tables = mapping.Defaults()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Normalize implements Normalizer. Output that already carries a canonical
// document is returned as is.
func (n *Canonical) Normalize(parsed *model.ParseOutput) (*model.Output, error) {
	if parsed == nil {
		parsed = &model.ParseOutput{}
	}
	if parsed.Canonical != nil && parsed.Canonical.SchemaVersion != "" {
		return n.envelope(parsed, parsed.Canonical), nil
	}

	doc, err := n.build(parsed)
	if err != nil {
		return nil, err
	}
	return n.envelope(parsed, doc), nil
}

func (n *Canonical) envelope(parsed *model.ParseOutput, doc *model.Canonical) *model.Output {
	return &model.Output{
		Canonical:        doc,
		Warnings:         doc.Parsing.Warnings,
		DocumentType:     string(doc.Document.Type),
		SplitOrders:      nonNilSplits(parsed.SplitOrders),
		HasMultipleDates: parsed.HasMultipleDates,
	}
}

func (n *Canonical) build(parsed *model.ParseOutput) (*model.Canonical, error) {
	md := parsed.Metadata
	draft := parsed.Draft
	if draft == nil {
		draft = &model.Draft{}
	}
	order := draft.Order

	rawType := parsed.DocumentType
	if rawType == "" {
		rawType = string(model.DocumentUnknown)
	}
	docType, ok := documentTypes[strings.ToLower(rawType)]
	if !ok {
		docType = model.DocumentUnknown
	}

	id := md.DocumentID
	if id == "" {
		id = n.newID()
	}
	ingestedAt := md.IngestedAt
	if ingestedAt == "" {
		ingestedAt = n.now().UTC().Format(timestampLayout)
	}
	modelName := md.ModelName
	if modelName == "" {
		modelName = "unknown"
	}
	var confidence float64
	if md.Confidence != nil {
		confidence = *md.Confidence
	}

	items := buildItems(draft.Lines)
	doc := &model.Canonical{
		SchemaVersion: model.SchemaVersion,
		Document: model.DocumentInfo{
			ID:      id,
			Type:    docType,
			Subtype: rawType,
			Source: model.DocumentSource{
				Filename:   md.SourceName,
				MimeType:   model.ParseInput{InputType: md.InputType}.MimeType(),
				FileType:   string(md.InputType),
				HashSHA256: md.HashSHA256,
				IngestedAt: ingestedAt,
			},
			Model: model.ModelInfo{
				Name:       modelName,
				DetectedBy: detectedBy(md.DetectedBy),
				Confidence: confidence,
			},
		},
		Customer: buildCustomer(order),
		Order: model.OrderInfo{
			OrderNumber:    order.CustomerOrderNumber,
			IssueDate:      brazil.Date(order.OrderDate),
			DeliveryDate:   brazil.Date(firstNonEmpty(order.RequestedDeliveryDate, order.PromisedDeliveryDate)),
			ValidUntil:     brazil.Date(order.ValidUntil),
			Currency:       n.currency(order.CurrencyCode),
			CurrencyRaw:    order.CurrencyCode,
			PaymentTerms:   order.PaymentTermsCode,
			PaymentMethod:  order.PaymentMethodCode,
			ShippingMethod: order.ShippingMethodCode,
			Notes:          order.Notes,
		},
		Addresses: model.Addresses{
			Billing:  buildAddress(order.BillTo),
			Shipping: buildAddress(order.ShipTo),
		},
		Items:       items,
		Totals:      buildTotals(items),
		Attachments: []model.Attachment{},
		Parsing: model.ParsingMetadata{
			Warnings:      append([]string{}, parsed.Warnings...),
			ParsedAt:      n.now().UTC().Format(timestampLayout),
			ParserVersion: md.ParserVersion,
			Confidence:    md.Confidence,
		},
	}

	if md.Mapping != nil && !md.Mapping.Empty() {
		src, err := json.Marshal(draft)
		if err != nil {
			return nil, eris.Wrap(err, "normalize: marshal draft")
		}
		applyMapping(doc, gjson.ParseBytes(src), md.Mapping)
	}

	doc.Parsing.MissingFields = missingFields(doc)
	doc.Parsing.Status = status(parsed.Draft != nil, doc.Parsing)

	if n.validate {
		violations, err := Violations(doc)
		if err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			zap.L().Warn("normalize: canonical document failed schema validation",
				zap.String("document_id", doc.Document.ID),
				zap.Strings("violations", violations),
			)
			doc.Parsing.Warnings = append(doc.Parsing.Warnings, violations...)
			doc.Parsing.Status = status(parsed.Draft != nil, doc.Parsing)
		}
	}
	return doc, nil
}

func (n *Canonical) currency(raw string) model.CurrencyCode {
	if raw == "" {
		return model.CurrencyUnknown
	}
	code := raw
	if mapped, ok := n.tables.Currency(raw); ok {
		code = mapped
	}
	if c, ok := currencies[strings.ToUpper(code)]; ok {
		return c
	}
	return model.CurrencyUnknown
}

func buildCustomer(o model.DraftOrder) model.CustomerInfo {
	contacts := []model.Contact{}
	if o.SellTo.Email != "" {
		contacts = append(contacts, model.Contact{Type: "email", Value: o.SellTo.Email})
	}
	if o.SellTo.Phone != "" {
		contacts = append(contacts, model.Contact{Type: "phone", Value: o.SellTo.Phone})
	}
	if o.SellTo.Contact != "" {
		contacts = append(contacts, model.Contact{Type: "person", Value: o.SellTo.Contact})
	}
	return model.CustomerInfo{
		Name:     o.SellTo.Name,
		TaxID:    brazil.CNPJ(o.SellTo.CNPJ),
		Code:     o.CustomerCode,
		Contacts: contacts,
	}
}

func buildAddress(a model.DraftAddress) model.Address {
	out := model.Address{
		Line1:      a.Address,
		Number:     a.Number,
		Complement: a.Complement,
		District:   a.District,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
	}
	if a.Zip != "" {
		out.Zip = brazil.CEP(a.Zip)
	}
	return out
}

func buildItems(lines []model.DraftLine) []model.Item {
	items := make([]model.Item, 0, len(lines))
	for i := range lines {
		line := lines[i]
		lineNumber := i + 1
		if no := strings.TrimSpace(line.CustomerOrderItemNo); no != "" && brazil.Digits(no) == no {
			if n, err := strconv.Atoi(no); err == nil && n > 0 {
				lineNumber = n
			}
		}
		it := model.Item{
			LineNumber:   lineNumber,
			SKU:          line.ItemReferenceNo,
			Description:  line.Description,
			Quantity:     decimalPtr(line.Quantity),
			Unit:         line.UnitOfMeasure,
			UnitPrice:    decimalPtr(line.UnitPrice),
			Discount:     decimalPtr(line.Discount),
			Tax:          decimalPtr(line.Tax),
			Total:        decimalPtr(line.Total),
			DeliveryDate: brazil.Date(line.DeliveryDate),
			Raw:          &line,
		}
		if it.Total == nil && it.Quantity != nil && it.UnitPrice != nil {
			total := brazil.Mul(*it.Quantity, *it.UnitPrice)
			it.Total = &total
		}
		items = append(items, it)
	}
	return items
}

// buildTotals sums the known item totals. Discounts, freight and taxes
// are not read from drafts.
func buildTotals(items []model.Item) model.Totals {
	var (
		sum   float64
		found bool
	)
	for _, it := range items {
		if it.Total != nil {
			sum += *it.Total
			found = true
		}
	}
	if !found {
		return model.Totals{}
	}
	subtotal := brazil.Round6(sum)
	total := subtotal
	return model.Totals{Subtotal: &subtotal, Total: &total}
}

func missingFields(doc *model.Canonical) []string {
	present := map[string]bool{
		"customer.name":      doc.Customer.Name != "",
		"customer.tax_id":    doc.Customer.TaxID != "",
		"order.order_number": doc.Order.OrderNumber != "",
		"order.issue_date":   doc.Order.IssueDate != "",
		"items":              len(doc.Items) > 0,
	}
	missing := []string{}
	for _, f := range model.RequiredFields {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func status(hasResult bool, p model.ParsingMetadata) model.ParsingStatus {
	switch {
	case !hasResult:
		return model.StatusFailed
	case len(p.Warnings) > 0 || len(p.MissingFields) > 0:
		return model.StatusPartial
	}
	return model.StatusSuccess
}

func detectedBy(s string) model.DetectedBy {
	switch v := model.DetectedBy(strings.ToLower(s)); v {
	case model.DetectedByRule, model.DetectedByManual, model.DetectedByConfigurator:
		return v
	}
	return model.DetectedByUnknown
}

func decimalPtr(s string) *float64 {
	f, ok := brazil.Decimal(s)
	if !ok {
		return nil
	}
	return &f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
