package llm

import (
	"fmt"
	"strings"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/model"
)

// PaymentMethodBankTransfer is the method code for bank deposits.
const PaymentMethodBankTransfer = "BANK_TRANSFER"

// ToDraft converts an extraction into the order draft, resolving payment,
// shipping and currency codes through the mapping tables. data may be nil.
func ToDraft(ext *Extraction, data *extract.Result, tables *mapping.Tables) *model.Draft {
	if ext == nil {
		ext = &Extraction{}
	}
	if tables == nil {
		tables = mapping.Defaults()
	}
	var terms extract.PaymentTerms
	if data != nil {
		terms = data.PaymentTerms
	}
	o := ext.Order

	draft := &model.Draft{
		Order: model.DraftOrder{
			CustomerOrderNumber:   o.CustomerOrderNumber,
			OrderDate:             o.OrderDate,
			RequestedDeliveryDate: o.RequestedDeliveryDate,
			PromisedDeliveryDate:  o.PromisedDeliveryDate,
			BillingDate:           o.BillingDate,
			CurrencyCode:          currencyCode(o.CurrencyCode, tables),
			PaymentTermsCode:      paymentTermsCode(o, terms, tables),
			PaymentMethodCode:     paymentMethodCode(o.PaymentMethod, terms),
			ShippingMethodCode:    shippingCode(o.ShippingMethod, tables),
			Notes:                 o.Notes,
			SellTo: model.Party{
				Name:    o.CustomerName,
				CNPJ:    o.CustomerCNPJ,
				IE:      o.CustomerIE,
				Phone:   o.CustomerPhone,
				Email:   o.CustomerEmail,
				Contact: o.CustomerContact,
			},
			BillTo: model.DraftAddress{
				Address:    o.BillAddress,
				Number:     o.BillNumber,
				Complement: o.BillComplement,
				District:   o.BillDistrict,
				City:       o.BillCity,
				State:      o.BillState,
				Zip:        o.BillZip,
				Country:    o.BillCountry,
			},
			ShipTo: model.DraftAddress{
				Address:    o.ShipAddress,
				Number:     o.ShipNumber,
				Complement: o.ShipComplement,
				District:   o.ShipDistrict,
				City:       o.ShipCity,
				State:      o.ShipState,
				Zip:        o.ShipZip,
				Country:    o.ShipCountry,
			},
		},
		Lines: make([]model.DraftLine, 0, len(ext.Lines)),
	}

	for _, l := range ext.Lines {
		draft.Lines = append(draft.Lines, model.DraftLine{
			CustomerOrderItemNo: l.CustomerOrderItemNo,
			ItemReferenceNo:     l.ItemReferenceNo,
			Description:         l.Description,
			Quantity:            numText(l.Quantity),
			UnitOfMeasure:       l.UnitOfMeasure,
			UnitPrice:           numText(l.UnitPriceExclVAT),
		})
	}
	return draft
}

func paymentTermsCode(o Order, terms extract.PaymentTerms, tables *mapping.Tables) string {
	var code string
	switch {
	case o.PaymentTermsDays.Float() != 0:
		code = fmt.Sprintf("%dD", int(o.PaymentTermsDays.Float()))
		if dom := strings.TrimSpace(o.PaymentDaysOfMonth); dom != "" {
			code += "-" + dom
		}
	case o.PaymentTerms != "":
		code, _ = tables.PaymentTerm(o.PaymentTerms)
	}
	if code == "" && terms.Days != nil && *terms.Days != 0 {
		code = DaysCode(*terms.Days, terms.PaymentDays)
	}
	return code
}

// DaysCode renders "<days>D" followed by "-DD" for each fixed payment day.
func DaysCode(days int, paymentDays []int) string {
	code := fmt.Sprintf("%dD", days)
	if len(paymentDays) > 0 {
		parts := make([]string, len(paymentDays))
		for i, d := range paymentDays {
			parts[i] = fmt.Sprintf("%02d", d)
		}
		code += "-" + strings.Join(parts, "-")
	}
	return code
}

func paymentMethodCode(method string, terms extract.PaymentTerms) string {
	switch {
	case strings.Contains(strings.ToLower(method), "bank"):
		return PaymentMethodBankTransfer
	case terms.BankTransfer != nil && *terms.BankTransfer:
		return PaymentMethodBankTransfer
	}
	return method
}

func shippingCode(method string, tables *mapping.Tables) string {
	if method == "" {
		return ""
	}
	if code, ok := tables.Shipping(method); ok {
		return code
	}
	return ""
}

func currencyCode(code string, tables *mapping.Tables) string {
	if code == "" {
		return ""
	}
	if mapped, ok := tables.Currency(code); ok {
		return mapped
	}
	return code
}

func numText(n *Num) string {
	if n == nil {
		return ""
	}
	return brazil.FormatNumber(float64(*n))
}
