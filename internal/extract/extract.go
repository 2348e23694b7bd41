// Package extract pulls Brazilian business entities (CNPJ, IE, dates, amounts,
// quantities, order numbers, payment terms) out of raw document text with
// fixed regular expressions. Results are advisory evidence: duplicates are
// removed but false positives are expected.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/order-parser/internal/brazil"
)

// Result holds every entity kind found in a document.
type Result struct {
	CNPJs          []string     `json:"cnpjs"`
	IEs            []string     `json:"ies"`
	Emails         []string     `json:"emails"`
	Phones         []string     `json:"phones"`
	Dates          []Date       `json:"dates"`
	MonetaryValues []Money      `json:"monetary_values"`
	Quantities     []Quantity   `json:"quantities"`
	OrderNumbers   []string     `json:"order_numbers"`
	CEPs           []string     `json:"ceps"`
	UFs            []string     `json:"ufs"`
	PaymentTerms   PaymentTerms `json:"payment_terms"`
	CustomerCNPJs  []string     `json:"customer_cnpjs,omitempty"`
	RawText        string       `json:"raw_text,omitempty"`
}

// Date is a calendar-validated date occurrence.
type Date struct {
	Original string `json:"original"`
	ISO      string `json:"iso"`
}

// Money is an amount with its inferred currency ("" when unknown).
type Money struct {
	Original string  `json:"original"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// Quantity is a number with a normalized unit code.
type Quantity struct {
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Original string  `json:"original"`
}

// PaymentTerms captures the payment facts written in a document.
type PaymentTerms struct {
	Days           *int   `json:"days"`
	PaymentDays    []int  `json:"payment_days"`
	BankTransfer   *bool  `json:"bank_transfer"`
	Original       string `json:"original,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
}

// OwnCompany identifies the operator's own tax ids.
type OwnCompany interface {
	IsOwnCNPJ(cnpj string) bool
}

// Extract runs every extractor over text.
func Extract(text string) *Result {
	return &Result{
		CNPJs:          CNPJs(text),
		IEs:            IEs(text),
		Emails:         Emails(text),
		Phones:         Phones(text),
		Dates:          Dates(text),
		MonetaryValues: MonetaryValues(text),
		Quantities:     Quantities(text),
		OrderNumbers:   OrderNumbers(text),
		CEPs:           CEPs(text),
		UFs:            UFs(text),
		PaymentTerms:   ExtractPaymentTerms(text),
		RawText:        text,
	}
}

// MarkCustomers fills CustomerCNPJs with the CNPJs that are not the operator's own.
func (r *Result) MarkCustomers(own OwnCompany) {
	r.CustomerCNPJs = nil
	for _, c := range r.CNPJs {
		if own != nil && own.IsOwnCNPJ(c) {
			continue
		}
		r.CustomerCNPJs = append(r.CustomerCNPJs, c)
	}
}

// AllCNPJs returns customer CNPJs followed by every CNPJ, without repeats.
func (r *Result) AllCNPJs() []string {
	var d dedup
	for _, c := range r.CustomerCNPJs {
		d.add(c)
	}
	for _, c := range r.CNPJs {
		d.add(c)
	}
	return d.items
}

// CNPJs finds 14-digit company tax ids under any punctuation scheme.
func CNPJs(text string) []string {
	var d dedup
	for _, m := range cnpjRe.FindAllStringSubmatch(text, -1) {
		if digits := brazil.CNPJ(m[1]); digits != "" {
			d.add(digits)
		}
	}
	return d.items
}

// IEs finds state registrations with at least 8 digits.
func IEs(text string) []string {
	var d dedup
	for _, m := range ieRe.FindAllStringSubmatch(text, -1) {
		if digits := brazil.Digits(m[1]); len(digits) >= 8 {
			d.add(digits)
		}
	}
	return d.items
}

// Emails finds lowercased email addresses.
func Emails(text string) []string {
	var d dedup
	for _, m := range emailRe.FindAllStringSubmatch(text, -1) {
		d.add(strings.ToLower(m[1]))
	}
	return d.items
}

// Phones finds phone numbers with at least 10 digits.
func Phones(text string) []string {
	var d dedup
	for _, m := range phoneRe.FindAllString(text, -1) {
		if p := brazil.Phone(m); p != "" {
			d.add(p)
		}
	}
	return d.items
}

// Dates finds numeric and written Portuguese dates, deduplicated by ISO value.
func Dates(text string) []Date {
	var out []Date
	seen := make(map[string]bool)
	push := func(original, iso string) {
		if iso == "" || seen[iso] {
			return
		}
		seen[iso] = true
		out = append(out, Date{Original: original, ISO: iso})
	}

	for _, m := range dmyRe.FindAllStringSubmatch(text, -1) {
		push(m[1]+m[2]+m[3], brazil.ISODate(atoi(m[3]), atoi(m[2]), atoi(m[1])))
	}
	for _, m := range ymdRe.FindAllStringSubmatch(text, -1) {
		push(m[1]+m[2]+m[3], brazil.ISODate(atoi(m[1]), atoi(m[2]), atoi(m[3])))
	}
	for _, m := range writtenRe.FindAllStringSubmatch(text, -1) {
		month := monthNumbers[strings.ToLower(m[2])]
		if month == 0 {
			continue
		}
		push(m[1]+m[2]+m[3], brazil.ISODate(atoi(m[3]), month, atoi(m[1])))
	}
	return out
}

// MonetaryValues finds symbol-qualified and locale-shaped amounts.
func MonetaryValues(text string) []Money {
	var out []Money
	for _, p := range moneyPatterns {
		locale := brazil.LocaleENUS
		if p.ptBR {
			locale = brazil.LocalePTBR
		}
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			v, ok := brazil.Money(m[1], locale)
			if !ok {
				continue
			}
			out = append(out, Money{Original: m[1], Value: v, Currency: p.currency})
		}
	}
	return out
}

// Quantities finds number+unit pairs.
func Quantities(text string) []Quantity {
	var out []Quantity
	for _, m := range quantityRe.FindAllStringSubmatch(text, -1) {
		qty, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		unit, ok := unitCodes[strings.ToLower(m[2])]
		if !ok {
			unit = strings.ToUpper(m[2])
		}
		out = append(out, Quantity{Quantity: qty, Unit: unit, Original: m[1] + " " + m[2]})
	}
	return out
}

// OrderNumbers finds purchase order numbers after common labels.
func OrderNumbers(text string) []string {
	var d dedup
	for _, re := range orderNumberRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			d.add(m[1])
		}
	}
	return d.items
}

// CEPs finds 8-digit postal codes.
func CEPs(text string) []string {
	var d dedup
	for _, m := range cepRe.FindAllStringSubmatch(text, -1) {
		d.add(brazil.Digits(m[1]))
	}
	return d.items
}

// UFs finds uppercase state codes written as whole words.
func UFs(text string) []string {
	var d dedup
	for _, m := range ufRe.FindAllStringSubmatch(text, -1) {
		d.add(m[1])
	}
	return d.items
}

// ExtractPaymentTerms reads the payment term, payment days of month and the
// bank-transfer flag. Interpretation is only built when the term is known.
func ExtractPaymentTerms(text string) PaymentTerms {
	pt := PaymentTerms{PaymentDays: []int{}}

	for _, re := range paymentTermsRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		days := atoi(m[1])
		pt.Days = &days
		pt.Original = strings.TrimSpace(m[0])
		break
	}

	if m := paymentDaysRe.FindStringSubmatch(text); m != nil {
		pt.PaymentDays = append(pt.PaymentDays, atoi(m[1]))
		if d2 := atoi(m[2]); d2 != 0 {
			pt.PaymentDays = append(pt.PaymentDays, d2)
		}
	}

	if m := bankTransferRe.FindStringSubmatch(text); m != nil {
		yes := strings.ToUpper(m[1]) == "SIM"
		pt.BankTransfer = &yes
	}

	if pt.Days != nil && *pt.Days != 0 {
		parts := []string{fmt.Sprintf("%d dias após fatura", *pt.Days)}
		if len(pt.PaymentDays) > 0 {
			days := make([]string, len(pt.PaymentDays))
			for i, d := range pt.PaymentDays {
				days[i] = strconv.Itoa(d)
			}
			parts = append(parts, "pagamento nos dias "+strings.Join(days, " ou "))
		}
		if pt.BankTransfer != nil && *pt.BankTransfer {
			parts = append(parts, "via depósito bancário")
		}
		pt.Interpretation = strings.Join(parts, ", ")
	}

	return pt
}

type dedup struct {
	seen  map[string]bool
	items []string
}

func (d *dedup) add(s string) {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[s] {
		return
	}
	d.seen[s] = true
	d.items = append(d.items, s)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
