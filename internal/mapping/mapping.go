// Package mapping translates free-text payment terms, shipping methods and
// currencies into the short codes used by downstream systems.
package mapping

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one key -> code row. Tables keep file order because payment-term
// lookup returns the first substring hit.
type Entry struct {
	Key  string
	Code string
}

// Table is an ordered lookup table.
type Table []Entry

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (t *Table) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return eris.Errorf("mapping: expected a map at line %d", n.Line)
	}
	out := make(Table, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, Entry{Key: n.Content[i].Value, Code: n.Content[i+1].Value})
	}
	*t = out
	return nil
}

func (t Table) exact(key string) (string, bool) {
	for _, e := range t {
		if e.Key == key {
			return e.Code, true
		}
	}
	return "", false
}

// Tables holds every code table.
type Tables struct {
	PaymentTerms    Table `yaml:"payment_terms"`
	ShippingMethods Table `yaml:"shipping_methods"`
	Currencies      Table `yaml:"currencies"`
}

// Defaults returns the built-in tables.
func Defaults() *Tables {
	return &Tables{
		PaymentTerms: Table{
			{"30 dias", "30D"},
			{"28 DDL", "28DDL"},
			{"30 DDL", "30DDL"},
			{"45 dias", "45D"},
			{"60 dias", "60D"},
			{"a vista", "AVISTA"},
			{"à vista", "AVISTA"},
			{"100% antecipado", "ANT"},
		},
		ShippingMethods: Table{
			{"CIF", "CIF"},
			{"FOB", "FOB"},
			{"cif", "CIF"},
			{"fob", "FOB"},
		},
		Currencies: Table{
			{"DOLAR", "USD"},
			{"DOLLAR", "USD"},
			{"DÓLAR", "USD"},
			{"USD", "USD"},
			{"US$", "USD"},
			{"$", "USD"},
			{"REAL", "BRL"},
			{"REAIS", "BRL"},
			{"BRL", "BRL"},
			{"R$", "BRL"},
			{"EURO", "EUR"},
			{"EUR", "EUR"},
			{"€", "EUR"},
		},
	}
}

// Load reads mappings.yaml, falling back to Defaults when the file is missing
// or unreadable.
func Load(path string) *Tables {
	t, err := Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("mapping: file not found, using defaults", zap.String("path", path))
		} else {
			zap.L().Error("mapping: load failed, using defaults", zap.String("path", path), zap.Error(err))
		}
		return Defaults()
	}
	zap.L().Info("mapping: loaded tables", zap.String("path", path),
		zap.Int("payment_terms", len(t.PaymentTerms)),
		zap.Int("shipping_methods", len(t.ShippingMethods)),
		zap.Int("currencies", len(t.Currencies)),
	)
	return t
}

// Read parses a mappings file strictly.
func Read(path string) (*Tables, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read %s", path)
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "mapping: parse %s", path)
	}
	return &t, nil
}

// PaymentTerm returns the code of the first key that contains, or is
// contained in, the given text (case-insensitive).
func (t *Tables) PaymentTerm(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, e := range t.PaymentTerms {
		key := strings.ToLower(e.Key)
		if strings.Contains(lower, key) || strings.Contains(key, lower) {
			return e.Code, true
		}
	}
	return "", false
}

// Shipping looks up the upper-cased method, then the lower-cased one.
func (t *Tables) Shipping(method string) (string, bool) {
	if method == "" {
		return "", false
	}
	if code, ok := t.ShippingMethods.exact(strings.ToUpper(strings.TrimSpace(method))); ok && code != "" {
		return code, true
	}
	code, ok := t.ShippingMethods.exact(strings.ToLower(method))
	return code, ok && code != ""
}

// Currency looks up the upper-cased text, then the text as given.
func (t *Tables) Currency(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if code, ok := t.Currencies.exact(strings.ToUpper(strings.TrimSpace(text))); ok && code != "" {
		return code, true
	}
	code, ok := t.Currencies.exact(text)
	return code, ok && code != ""
}
