package model

import "encoding/json"

// SchemaVersion is the canonical schema version emitted by canonical_v1.
const SchemaVersion = "1.0"

// RequiredFields lists, in order, the canonical fields reported as missing.
var RequiredFields = []string{
	"customer.name",
	"customer.tax_id",
	"order.order_number",
	"order.issue_date",
	"items",
}

// DocumentType is the canonical document classification.
type DocumentType string

const (
	DocumentOrder   DocumentType = "order"
	DocumentBudget  DocumentType = "budget"
	DocumentUnknown DocumentType = "unknown"
)

// DetectedBy records how the model was chosen.
type DetectedBy string

const (
	DetectedByRule         DetectedBy = "rule"
	DetectedByManual       DetectedBy = "manual"
	DetectedByConfigurator DetectedBy = "configurator"
	DetectedByUnknown      DetectedBy = "unknown"
)

// CurrencyCode is the canonical currency enum.
type CurrencyCode string

const (
	CurrencyBRL     CurrencyCode = "BRL"
	CurrencyUSD     CurrencyCode = "USD"
	CurrencyEUR     CurrencyCode = "EUR"
	CurrencyUnknown CurrencyCode = "UNKNOWN"
)

// ParsingStatus is the overall parse outcome.
type ParsingStatus string

const (
	StatusSuccess ParsingStatus = "success"
	StatusPartial ParsingStatus = "partial"
	StatusFailed  ParsingStatus = "failed"
)

// Canonical is the versioned, partner-independent order document.
type Canonical struct {
	SchemaVersion string          `json:"schema_version"`
	Document      DocumentInfo    `json:"document"`
	Customer      CustomerInfo    `json:"customer"`
	Order         OrderInfo       `json:"order"`
	Addresses     Addresses       `json:"addresses"`
	Items         []Item          `json:"items"`
	Totals        Totals          `json:"totals"`
	Attachments   []Attachment    `json:"attachments"`
	Parsing       ParsingMetadata `json:"parsing"`
}

// DocumentInfo identifies the document and how it was routed.
type DocumentInfo struct {
	ID      string         `json:"id"`
	Type    DocumentType   `json:"type"`
	Subtype string         `json:"subtype,omitempty"`
	Source  DocumentSource `json:"source"`
	Model   ModelInfo      `json:"model"`
}

// DocumentSource describes the submitted payload.
type DocumentSource struct {
	Filename   string `json:"filename,omitempty"`
	MimeType   string `json:"mime_type"`
	FileType   string `json:"file_type"`
	HashSHA256 string `json:"hash_sha256,omitempty"`
	IngestedAt string `json:"ingested_at"`
}

// ModelInfo attributes the parse to a model.
type ModelInfo struct {
	Name       string     `json:"name"`
	DetectedBy DetectedBy `json:"detected_by"`
	Confidence float64    `json:"confidence"`
}

// CustomerInfo is the buying company.
type CustomerInfo struct {
	Name     string    `json:"name,omitempty"`
	TaxID    string    `json:"tax_id,omitempty"`
	Code     string    `json:"code,omitempty"`
	Contacts []Contact `json:"contacts"`
}

// Contact is one way of reaching the customer.
type Contact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// OrderInfo holds order-level fields.
type OrderInfo struct {
	OrderNumber    string       `json:"order_number,omitempty"`
	IssueDate      string       `json:"issue_date,omitempty"`
	DeliveryDate   string       `json:"delivery_date,omitempty"`
	ValidUntil     string       `json:"valid_until,omitempty"`
	Currency       CurrencyCode `json:"currency"`
	CurrencyRaw    string       `json:"currency_raw,omitempty"`
	PaymentTerms   string       `json:"payment_terms,omitempty"`
	PaymentMethod  string       `json:"payment_method,omitempty"`
	ShippingMethod string       `json:"shipping_method,omitempty"`
	Notes          string       `json:"notes,omitempty"`
}

// Addresses groups billing and shipping addresses.
type Addresses struct {
	Billing  Address `json:"billing"`
	Shipping Address `json:"shipping"`
}

// Address is a normalized postal address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Item is one canonical order line.
type Item struct {
	LineNumber   int        `json:"line_number"`
	SKU          string     `json:"sku,omitempty"`
	Description  string     `json:"description,omitempty"`
	Quantity     *float64   `json:"quantity"`
	Unit         string     `json:"unit,omitempty"`
	UnitPrice    *float64   `json:"unit_price"`
	Discount     *float64   `json:"discount"`
	Tax          *float64   `json:"tax"`
	Total        *float64   `json:"total"`
	DeliveryDate string     `json:"delivery_date,omitempty"`
	Raw          *DraftLine `json:"raw,omitempty"`
}

// Totals are order-level sums.
type Totals struct {
	Subtotal  *float64 `json:"subtotal"`
	Discounts *float64 `json:"discounts"`
	Freight   *float64 `json:"freight"`
	Taxes     *float64 `json:"taxes"`
	Total     *float64 `json:"total"`
}

// Attachment references a file shipped with the document.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
}

// ParsingMetadata reports parse quality.
type ParsingMetadata struct {
	Status        ParsingStatus `json:"status"`
	Warnings      []string      `json:"warnings"`
	MissingFields []string      `json:"missing_fields"`
	ParsedAt      string        `json:"parsed_at"`
	ParserVersion string        `json:"parser_version,omitempty"`
	Confidence    *float64      `json:"confidence"`
}

// Output is the pipeline result: a canonical document (canonical_v1) or the
// raw draft (legacy_passthrough), plus routing details.
type Output struct {
	Canonical        *Canonical   `json:"-"`
	Legacy           *Draft       `json:"-"`
	Warnings         []string     `json:"warnings"`
	DocumentType     string       `json:"document_type"`
	SplitOrders      []SplitOrder `json:"split_orders"`
	HasMultipleDates bool         `json:"has_multiple_dates"`
	ModelID          string       `json:"model_id,omitempty"`
}

// Result returns the payload exposed as "result".
func (o *Output) Result() any {
	switch {
	case o.Canonical != nil:
		return o.Canonical
	case o.Legacy != nil:
		return o.Legacy
	}
	return map[string]any{}
}

// MarshalJSON renders {result, warnings, document_type, split_orders, has_multiple_dates, model_id}.
func (o Output) MarshalJSON() ([]byte, error) {
	type alias Output
	return json.Marshal(struct {
		Result any `json:"result"`
		alias
	}{Result: o.Result(), alias: alias(o)})
}

// Status returns the canonical parsing status, or "" for legacy output.
func (o *Output) Status() ParsingStatus {
	if o.Canonical == nil {
		return ""
	}
	return o.Canonical.Parsing.Status
}
