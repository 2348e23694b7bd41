package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/order-parser/internal/export"
	"github.com/sells-group/order-parser/internal/model"
)

var (
	documentsOut  string
	documentsXLSX string
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Read parsed documents",
}

var documentsGetCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Print a parsed document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := st.GetDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if doc == nil {
			return eris.Errorf("parsed document %q not found", args[0])
		}

		var buf bytes.Buffer
		if err := json.Indent(&buf, doc.Canonical, "", "  "); err != nil {
			return eris.Wrap(err, "format document")
		}
		buf.WriteByte('\n')

		if documentsOut != "" {
			return os.WriteFile(documentsOut, buf.Bytes(), 0o644)
		}
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		return err
	},
}

var documentsExportCmd = &cobra.Command{
	Use:   "export <document-id>...",
	Short: "Export the items of canonical documents to an .xlsx file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		docs := make([]*model.Canonical, 0, len(args))
		for _, id := range args {
			doc, err := st.GetDocument(cmd.Context(), id)
			if err != nil {
				return err
			}
			if doc == nil {
				return eris.Errorf("parsed document %q not found", id)
			}
			c, err := export.Decode(doc.Canonical)
			if err != nil {
				return eris.Wrapf(err, "document %s", id)
			}
			docs = append(docs, c)
		}

		if err := export.Save(documentsXLSX, docs...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d documents to %s\n", len(docs), documentsXLSX)
		return nil
	},
}

func init() {
	documentsGetCmd.Flags().StringVar(&documentsOut, "out", "", "write to this file instead of stdout")
	documentsExportCmd.Flags().StringVar(&documentsXLSX, "xlsx", "orders.xlsx", "output workbook")

	documentsCmd.AddCommand(documentsGetCmd, documentsExportCmd)
	rootCmd.AddCommand(documentsCmd)
}
