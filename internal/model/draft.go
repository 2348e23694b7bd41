package model

// Draft is the parser-specific order before canonical normalization.
// Numeric line values keep the text the parser saw; the normalizer decides
// the locale. Empty strings mean "not found".
type Draft struct {
	Order DraftOrder  `json:"order"`
	Lines []DraftLine `json:"lines"`
}

// DraftOrder holds order-level fields.
type DraftOrder struct {
	CustomerOrderNumber    string       `json:"customer_order_number,omitempty"`
	OrderDate              string       `json:"order_date,omitempty"`
	RequestedDeliveryDate  string       `json:"requested_delivery_date,omitempty"`
	PromisedDeliveryDate   string       `json:"promised_delivery_date,omitempty"`
	BillingDate            string       `json:"billing_date,omitempty"`
	ValidUntil             string       `json:"valid_until,omitempty"`
	CurrencyCode           string       `json:"currency_code,omitempty"`
	PaymentTermsCode       string       `json:"payment_terms_code,omitempty"`
	PaymentMethodCode      string       `json:"payment_method_code,omitempty"`
	CompanyBankAccountCode string       `json:"company_bank_account_code,omitempty"`
	ShippingMethodCode     string       `json:"shipping_method_code,omitempty"`
	CustomerCode           string       `json:"customer_code,omitempty"`
	Notes                  string       `json:"notes,omitempty"`
	SellTo                 Party        `json:"sell_to"`
	BillTo                 DraftAddress `json:"bill_to"`
	ShipTo                 DraftAddress `json:"ship_to"`
}

// Party is the buying company as written on the document.
type Party struct {
	Name    string `json:"name,omitempty"`
	CNPJ    string `json:"cnpj,omitempty"`
	IE      string `json:"ie,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// DraftAddress is an address block as written on the document.
type DraftAddress struct {
	Address    string `json:"address,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
}

// DraftLine is one order line.
type DraftLine struct {
	CustomerOrderItemNo string `json:"customer_order_item_no,omitempty"`
	ItemReferenceNo     string `json:"item_reference_no,omitempty"`
	Description         string `json:"description,omitempty"`
	Quantity            string `json:"quantity,omitempty"`
	UnitOfMeasure       string `json:"unit_of_measure,omitempty"`
	UnitPrice           string `json:"unit_price_excl_vat,omitempty"`
	Discount            string `json:"discount,omitempty"`
	Tax                 string `json:"tax,omitempty"`
	Total               string `json:"total,omitempty"`
	DeliveryDate        string `json:"delivery_date,omitempty"`
}

// SplitOrder is the subset of lines sharing one delivery date.
type SplitOrder struct {
	DeliveryDate string      `json:"delivery_date"`
	Order        DraftOrder  `json:"order"`
	Lines        []DraftLine `json:"lines"`
}

// ParseMetadata travels from the parser to the normalizer.
type ParseMetadata struct {
	Engine        string         `json:"engine,omitempty"`
	InputType     InputType      `json:"input_type,omitempty"`
	SourceName    string         `json:"source_name,omitempty"`
	HashSHA256    string         `json:"hash_sha256,omitempty"`
	IngestedAt    string         `json:"ingested_at,omitempty"`
	ParserVersion string         `json:"parser_version,omitempty"`
	ModelName     string         `json:"model_name,omitempty"`
	DetectedBy    string         `json:"detected_by,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Mapping       *MappingConfig `json:"mapping_config,omitempty"`
	DocumentID    string         `json:"document_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TriggeredBy   string         `json:"triggered_by,omitempty"`
}

// ParseOutput is what a parser hands to its normalizer. A nil Draft means no
// result was produced. Canonical is set when the payload is already canonical.
type ParseOutput struct {
	Draft            *Draft        `json:"result,omitempty"`
	Warnings         []string      `json:"warnings"`
	DocumentType     string        `json:"document_type"`
	SplitOrders      []SplitOrder  `json:"split_orders"`
	HasMultipleDates bool          `json:"has_multiple_dates"`
	Metadata         ParseMetadata `json:"metadata"`
	Canonical        *Canonical    `json:"canonical,omitempty"`
}

// AddWarning appends a warning unless it is already present.
func (p *ParseOutput) AddWarning(w string) {
	for _, existing := range p.Warnings {
		if existing == w {
			return
		}
	}
	p.Warnings = append(p.Warnings, w)
}
