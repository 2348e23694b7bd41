// Package export renders canonical documents as spreadsheets.
package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/order-parser/internal/model"
)

// SheetName is the worksheet holding the order lines.
const SheetName = "Itens"

// Header is the first row of the items sheet.
var Header = []string{
	"document_id", "order_number", "customer", "customer_tax_id", "line_number", "sku",
	"description", "quantity", "unit", "unit_price", "total", "delivery_date",
}

// Decode reads a stored canonical payload. Legacy drafts carry no schema
// version and are rejected.
func Decode(payload []byte) (*model.Canonical, error) {
	var doc model.Canonical
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, eris.Wrap(err, "export: decode canonical document")
	}
	if doc.SchemaVersion == "" {
		return nil, eris.New("export: document is not canonical")
	}
	return &doc, nil
}

// Build lays out one row per item of every document.
func Build(docs ...*model.Canonical) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for _, it := range doc.Items {
			row := sheet.AddRow()
			row.AddCell().SetString(doc.Document.ID)
			row.AddCell().SetString(doc.Order.OrderNumber)
			row.AddCell().SetString(doc.Customer.Name)
			row.AddCell().SetString(doc.Customer.TaxID)
			row.AddCell().SetInt(it.LineNumber)
			row.AddCell().SetString(it.SKU)
			row.AddCell().SetString(it.Description)
			setNumber(row.AddCell(), it.Quantity)
			row.AddCell().SetString(it.Unit)
			setNumber(row.AddCell(), it.UnitPrice)
			setNumber(row.AddCell(), it.Total)
			delivery := it.DeliveryDate
			if delivery == "" {
				delivery = doc.Order.DeliveryDate
			}
			row.AddCell().SetString(delivery)
		}
	}
	return f, nil
}

// Write streams the workbook for docs to w.
func Write(w io.Writer, docs ...*model.Canonical) error {
	f, err := Build(docs...)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

// Save writes the workbook for docs to path.
func Save(path string, docs ...*model.Canonical) error {
	f, err := Build(docs...)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func setNumber(c *xlsx.Cell, v *float64) {
	if v == nil {
		c.SetString("")
		return
	}
	c.SetFloat(*v)
}
