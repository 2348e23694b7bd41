package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/order-parser/internal/model"
)

func f64(v float64) *float64 { return &v }

func testDoc() *model.Canonical {
	return &model.Canonical{
		SchemaVersion: model.SchemaVersion,
		Document:      model.DocumentInfo{ID: "doc-1"},
		Customer:      model.CustomerInfo{Name: "LAR COOPERATIVA", TaxID: "77595395000150"},
		Order:         model.OrderInfo{OrderNumber: "1885367", DeliveryDate: "2026-02-05"},
		Items: []model.Item{
			{LineNumber: 1, SKU: "10203", Description: "FARELO", Quantity: f64(10), Unit: "KG", UnitPrice: f64(2.5), Total: f64(25)},
			{LineNumber: 2, Description: "MILHO", DeliveryDate: "2026-02-10"},
		},
	}
}

func rows(t *testing.T, f *xlsx.File) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	var out [][]string
	for _, r := range sheet.Rows {
		var cells []string
		for _, c := range r.Cells {
			cells = append(cells, c.String())
		}
		out = append(out, cells)
	}
	return out
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testDoc(), nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	got := rows(t, f)
	require.Len(t, got, 3)

	assert.Equal(t, Header, got[0])
	assert.Equal(t, []string{
		"doc-1", "1885367", "LAR COOPERATIVA", "77595395000150", "1", "10203",
		"FARELO", "10", "KG", "2.5", "25", "2026-02-05",
	}, got[1])
	assert.Equal(t, "MILHO", got[2][6])
	assert.Equal(t, "", got[2][7])
	assert.Equal(t, "2026-02-10", got[2][11])
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itens.xlsx")
	require.NoError(t, Save(path, testDoc()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, rows(t, f), 3)
}

func TestDecode(t *testing.T) {
	doc, err := Decode([]byte(`{"schema_version":"1.0","document":{"id":"d"},"items":[{"line_number":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, "d", doc.Document.ID)
	require.Len(t, doc.Items, 1)

	_, err = Decode([]byte(`{"order":{"customer_order_number":"1"},"lines":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not canonical")

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}
