// Package llm asks Claude for a best-effort structured reading of an order
// and turns the reply into a draft. Callers treat it as a black box.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/extract"
)

// Extractor reads order fields and lines from document text.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Extraction, error)
}

// Request is the input of one extraction.
type Request struct {
	Text         string
	Data         *extract.Result
	DocumentType string
}

// Extraction is the model's reply. Every field is optional.
type Extraction struct {
	Order Order  `json:"order"`
	Lines []Line `json:"lines"`
}

// Order holds the order-level fields the model may return.
type Order struct {
	CustomerOrderNumber   string `json:"customer_order_number,omitempty"`
	OrderDate             string `json:"order_date,omitempty"`
	RequestedDeliveryDate string `json:"requested_delivery_date,omitempty"`
	PromisedDeliveryDate  string `json:"promised_delivery_date,omitempty"`
	BillingDate           string `json:"billing_date,omitempty"`
	CurrencyCode          string `json:"currency_code,omitempty"`
	PaymentTerms          string `json:"payment_terms,omitempty"`
	PaymentTermsDays      *Num   `json:"payment_terms_days,omitempty"`
	PaymentDaysOfMonth    string `json:"payment_days_of_month,omitempty"`
	PaymentMethod         string `json:"payment_method,omitempty"`
	ShippingMethod        string `json:"shipping_method,omitempty"`
	Notes                 string `json:"notes,omitempty"`

	CustomerName    string `json:"customer_name,omitempty"`
	CustomerCNPJ    string `json:"customer_cnpj,omitempty"`
	CustomerIE      string `json:"customer_ie,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	CustomerContact string `json:"customer_contact,omitempty"`

	BillAddress    string `json:"bill_address,omitempty"`
	BillNumber     string `json:"bill_number,omitempty"`
	BillComplement string `json:"bill_complement,omitempty"`
	BillDistrict   string `json:"bill_district,omitempty"`
	BillCity       string `json:"bill_city,omitempty"`
	BillState      string `json:"bill_state,omitempty"`
	BillZip        string `json:"bill_zip,omitempty"`
	BillCountry    string `json:"bill_country,omitempty"`

	ShipAddress    string `json:"ship_address,omitempty"`
	ShipNumber     string `json:"ship_number,omitempty"`
	ShipComplement string `json:"ship_complement,omitempty"`
	ShipDistrict   string `json:"ship_district,omitempty"`
	ShipCity       string `json:"ship_city,omitempty"`
	ShipState      string `json:"ship_state,omitempty"`
	ShipZip        string `json:"ship_zip,omitempty"`
	ShipCountry    string `json:"ship_country,omitempty"`
}

// Line is one order line as the model read it.
type Line struct {
	CustomerOrderItemNo string `json:"customer_order_item_no,omitempty"`
	ItemReferenceNo     string `json:"item_reference_no,omitempty"`
	Description         string `json:"description,omitempty"`
	Quantity            *Num   `json:"quantity,omitempty"`
	UnitOfMeasure       string `json:"unit_of_measure,omitempty"`
	UnitPriceExclVAT    *Num   `json:"unit_price_excl_vat,omitempty"`
}

// Num accepts a JSON number or a numeric string in either locale.
type Num float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if v, ok := brazil.Decimal(s); ok {
			*n = Num(v)
		}
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Num(v)
	return nil
}

// Float returns the value, or 0 for nil.
func (n *Num) Float() float64 {
	if n == nil {
		return 0
	}
	return float64(*n)
}

// cleanJSON strips markdown fences and surrounding prose around the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
