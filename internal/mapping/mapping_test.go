package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_PaymentTerms(t *testing.T) {
	tables := Defaults()

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Pagamento em 30 dias", "30D", true},
		{"28 ddl", "28DDL", true},
		{"À VISTA", "AVISTA", true},
		{"a vista", "AVISTA", true},
		{"dias", "30D", true},
		{"boleto", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := tables.PaymentTerm(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaults_ShippingAndCurrency(t *testing.T) {
	tables := Defaults()

	code, ok := tables.Shipping("cif")
	assert.True(t, ok)
	assert.Equal(t, "CIF", code)

	_, ok = tables.Shipping("transportadora")
	assert.False(t, ok)

	code, ok = tables.Currency("reais")
	assert.True(t, ok)
	assert.Equal(t, "BRL", code)

	code, ok = tables.Currency("US$")
	assert.True(t, ok)
	assert.Equal(t, "USD", code)

	code, ok = tables.Currency("€")
	assert.True(t, ok)
	assert.Equal(t, "EUR", code)

	_, ok = tables.Currency("iene")
	assert.False(t, ok)
}

func TestLoad_KeepsFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
payment_terms:
  "30/60 dias": "30-60D"
  "30 dias": "30D"
shipping_methods:
  CIF: CIF-CODE
currencies:
  REAL: BRL
`), 0o600))

	tables := Load(path)
	require.Len(t, tables.PaymentTerms, 2)
	assert.Equal(t, Entry{Key: "30/60 dias", Code: "30-60D"}, tables.PaymentTerms[0])

	code, ok := tables.PaymentTerm("pagamento 30/60 dias")
	assert.True(t, ok)
	assert.Equal(t, "30-60D", code)

	code, _ = tables.Shipping("cif")
	assert.Equal(t, "CIF-CODE", code)

	_, ok = tables.Currency("USD")
	assert.False(t, ok)
}

func TestLoad_MissingOrInvalidFallsBack(t *testing.T) {
	dir := t.TempDir()
	tables := Load(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, Defaults(), tables)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("payment_terms: [1, 2]"), 0o600))
	_, err := Read(bad)
	require.Error(t, err)
	assert.Equal(t, Defaults(), Load(bad))
}
