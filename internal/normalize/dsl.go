package normalize

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/model"
)

// Source paths address the parser result: "order.sell_to.name" reads one
// value, "lines[].description" reads one value per line. A leading
// "result." is ignored.

func trimResult(path string) string {
	return strings.TrimPrefix(path, "result.")
}

// lookup reads a scalar path. A list path yields its first value.
func lookup(root gjson.Result, path string) any {
	path = trimResult(path)
	if path == "" {
		return nil
	}
	if strings.Contains(path, "[]") {
		if values := lookupList(root, path); len(values) > 0 {
			return values[0]
		}
		return nil
	}
	return valueOf(root.Get(path))
}

// lookupList reads one value per element of the list named before "[]",
// keeping positions; elements without the field contribute nil. A scalar
// path yields a one-element list, or none when the value is absent.
func lookupList(root gjson.Result, path string) []any {
	path = trimResult(path)
	if path == "" {
		return nil
	}
	if !strings.Contains(path, "[]") {
		if v := lookup(root, path); v != nil {
			return []any{v}
		}
		return nil
	}
	listPath, rest, _ := strings.Cut(path, "[]")
	listPath = strings.TrimSuffix(listPath, ".")
	rest = strings.TrimPrefix(rest, ".")

	collection := root
	if listPath != "" {
		collection = root.Get(listPath)
	}
	if !collection.IsArray() {
		return nil
	}
	elems := collection.Array()
	values := make([]any, 0, len(elems))
	for _, el := range elems {
		switch {
		case rest == "":
			values = append(values, valueOf(el))
		case el.IsObject():
			values = append(values, lookup(el, rest))
		default:
			values = append(values, nil)
		}
	}
	return values
}

func valueOf(r gjson.Result) any {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return r.Value()
}

// transform applies a named conversion. Unknown names and values of the
// wrong kind pass through.
func transform(v any, name string) any {
	if v == nil || name == "" {
		return v
	}
	s, isString := v.(string)
	switch strings.ToLower(name) {
	case "upper":
		if isString {
			return strings.ToUpper(s)
		}
	case "lower":
		if isString {
			return strings.ToLower(s)
		}
	case "date_iso", "date":
		if isString {
			if iso := brazil.Date(s); iso != "" {
				return iso
			}
			return nil
		}
	case "number", "decimal":
		if f, ok := toNumber(v); ok {
			return f
		}
		return nil
	}
	return v
}

// toNumber accepts numbers and numeric text in either locale.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		return brazil.Decimal(t)
	}
	return 0, false
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return brazil.FormatNumber(t), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// fillText sets *dst when it is empty and v renders as text.
func fillText(dst *string, v any) {
	if *dst != "" {
		return
	}
	if s, ok := toText(v); ok {
		*dst = s
	}
}

// fillNumber sets *dst when it is nil and v parses as a number.
func fillNumber(dst **float64, v any) {
	if *dst != nil {
		return
	}
	if f, ok := toNumber(v); ok {
		*dst = &f
	}
}

type docSetter func(c *model.Canonical, v any)

func textField(get func(c *model.Canonical) *string) docSetter {
	return func(c *model.Canonical, v any) { fillText(get(c), v) }
}

func numberField(get func(c *model.Canonical) **float64) docSetter {
	return func(c *model.Canonical, v any) { fillNumber(get(c), v) }
}

func addressFields(prefix string, get func(c *model.Canonical) *model.Address) map[string]docSetter {
	field := func(f func(a *model.Address) *string) docSetter {
		return textField(func(c *model.Canonical) *string { return f(get(c)) })
	}
	return map[string]docSetter{
		prefix + ".line1":      field(func(a *model.Address) *string { return &a.Line1 }),
		prefix + ".number":     field(func(a *model.Address) *string { return &a.Number }),
		prefix + ".complement": field(func(a *model.Address) *string { return &a.Complement }),
		prefix + ".district":   field(func(a *model.Address) *string { return &a.District }),
		prefix + ".city":       field(func(a *model.Address) *string { return &a.City }),
		prefix + ".state":      field(func(a *model.Address) *string { return &a.State }),
		prefix + ".zip":        field(func(a *model.Address) *string { return &a.Zip }),
		prefix + ".country":    field(func(a *model.Address) *string { return &a.Country }),
	}
}

// docSetters are the canonical targets a mapping may fill. Fields that are
// never empty after normalization (document id, currency, line numbers) are
// not listed.
var docSetters = func() map[string]docSetter {
	m := map[string]docSetter{
		"document.subtype":            textField(func(c *model.Canonical) *string { return &c.Document.Subtype }),
		"document.source.filename":    textField(func(c *model.Canonical) *string { return &c.Document.Source.Filename }),
		"document.source.hash_sha256": textField(func(c *model.Canonical) *string { return &c.Document.Source.HashSHA256 }),
		"customer.name":               textField(func(c *model.Canonical) *string { return &c.Customer.Name }),
		"customer.tax_id":             textField(func(c *model.Canonical) *string { return &c.Customer.TaxID }),
		"customer.code":               textField(func(c *model.Canonical) *string { return &c.Customer.Code }),
		"order.order_number":          textField(func(c *model.Canonical) *string { return &c.Order.OrderNumber }),
		"order.issue_date":            textField(func(c *model.Canonical) *string { return &c.Order.IssueDate }),
		"order.delivery_date":         textField(func(c *model.Canonical) *string { return &c.Order.DeliveryDate }),
		"order.valid_until":           textField(func(c *model.Canonical) *string { return &c.Order.ValidUntil }),
		"order.currency_raw":          textField(func(c *model.Canonical) *string { return &c.Order.CurrencyRaw }),
		"order.payment_terms":         textField(func(c *model.Canonical) *string { return &c.Order.PaymentTerms }),
		"order.payment_method":        textField(func(c *model.Canonical) *string { return &c.Order.PaymentMethod }),
		"order.shipping_method":       textField(func(c *model.Canonical) *string { return &c.Order.ShippingMethod }),
		"order.notes":                 textField(func(c *model.Canonical) *string { return &c.Order.Notes }),
		"totals.subtotal":             numberField(func(c *model.Canonical) **float64 { return &c.Totals.Subtotal }),
		"totals.discounts":            numberField(func(c *model.Canonical) **float64 { return &c.Totals.Discounts }),
		"totals.freight":              numberField(func(c *model.Canonical) **float64 { return &c.Totals.Freight }),
		"totals.taxes":                numberField(func(c *model.Canonical) **float64 { return &c.Totals.Taxes }),
		"totals.total":                numberField(func(c *model.Canonical) **float64 { return &c.Totals.Total }),
		"parsing.parser_version":      textField(func(c *model.Canonical) *string { return &c.Parsing.ParserVersion }),
		"parsing.confidence":          numberField(func(c *model.Canonical) **float64 { return &c.Parsing.Confidence }),
	}
	for k, v := range addressFields("addresses.billing", func(c *model.Canonical) *model.Address { return &c.Addresses.Billing }) {
		m[k] = v
	}
	for k, v := range addressFields("addresses.shipping", func(c *model.Canonical) *model.Address { return &c.Addresses.Shipping }) {
		m[k] = v
	}
	return m
}()

type itemSetter func(it *model.Item, v any)

var itemSetters = map[string]itemSetter{
	"sku":           func(it *model.Item, v any) { fillText(&it.SKU, v) },
	"description":   func(it *model.Item, v any) { fillText(&it.Description, v) },
	"unit":          func(it *model.Item, v any) { fillText(&it.Unit, v) },
	"delivery_date": func(it *model.Item, v any) { fillText(&it.DeliveryDate, v) },
	"quantity":      func(it *model.Item, v any) { fillNumber(&it.Quantity, v) },
	"unit_price":    func(it *model.Item, v any) { fillNumber(&it.UnitPrice, v) },
	"discount":      func(it *model.Item, v any) { fillNumber(&it.Discount, v) },
	"tax":           func(it *model.Item, v any) { fillNumber(&it.Tax, v) },
	"total":         func(it *model.Item, v any) { fillNumber(&it.Total, v) },
}

// applyMapping fills empty canonical fields from the configured sources.
// Values the parser already produced are never replaced.
func applyMapping(doc *model.Canonical, root gjson.Result, cfg *model.MappingConfig) {
	if cfg == nil {
		return
	}
	for _, fm := range cfg.Fields {
		if fm.Source == "" || fm.Target == "" {
			continue
		}
		set, ok := docSetters[strings.TrimPrefix(fm.Target, ".")]
		if !ok {
			zap.L().Debug("normalize: mapping target not settable", zap.String("target", fm.Target))
			continue
		}
		if v := transform(lookup(root, fm.Source), fm.Transform); v != nil {
			set(doc, v)
		}
	}

	for _, fm := range cfg.ItemFields {
		if fm.Source == "" || fm.Target == "" {
			continue
		}
		_, field, found := strings.Cut(fm.Target, "items[].")
		if !found {
			continue
		}
		set, ok := itemSetters[field]
		if !ok {
			zap.L().Debug("normalize: item mapping target not settable", zap.String("target", fm.Target))
			continue
		}
		values := lookupList(root, fm.Source)
		for i := range doc.Items {
			if i >= len(values) {
				break
			}
			if v := transform(values[i], fm.Transform); v != nil {
				set(&doc.Items[i], v)
			}
		}
	}
}
