package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/export"
	"github.com/sells-group/order-parser/internal/inbox"
	"github.com/sells-group/order-parser/internal/model"
)

var (
	parseText  string
	parseModel string
	parseOut   string
	parseXLSX  string
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse one purchase order (PDF or text file)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := readParseInput(args, parseText)
		if err != nil {
			return err
		}
		in.ModelOverride = parseModel
		in.TriggeredBy = "cli"

		env, err := initPipeline(ctx, "parse")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Runner.Run(ctx, in)
		if err != nil {
			return eris.Wrap(err, "parse")
		}

		zap.L().Info("parse complete",
			zap.String("model", out.ModelID),
			zap.String("status", string(out.Status())),
			zap.Int("warnings", len(out.Warnings)),
		)

		if parseXLSX != "" {
			if out.Canonical == nil {
				return eris.New("xlsx export needs canonical output; the selected model uses legacy passthrough")
			}
			if err := export.Save(parseXLSX, out.Canonical); err != nil {
				return err
			}
		}

		return writeOutput(cmd.OutOrStdout(), parseOut, out)
	},
}

// readParseInput builds the pipeline input from a file argument or inline
// text.
func readParseInput(args []string, text string) (model.ParseInput, error) {
	switch {
	case len(args) == 1:
		path := args[0]
		typ, ok := inbox.InputType(path)
		if !ok {
			return model.ParseInput{}, eris.Errorf("unsupported file type %q (want .pdf or .txt)", filepath.Ext(path))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return model.ParseInput{}, eris.Wrapf(err, "read %s", path)
		}
		return model.ParseInput{InputType: typ, Raw: data, SourceName: filepath.Base(path)}, nil
	case text != "":
		return model.ParseInput{InputType: model.InputText, Raw: []byte(text)}, nil
	}
	return model.ParseInput{}, eris.New("either a file argument or --text is required")
}

// writeOutput writes v as indented JSON to path, or to w when path is empty.
func writeOutput(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

func init() {
	parseCmd.Flags().StringVar(&parseText, "text", "", "order text to parse instead of a file")
	parseCmd.Flags().StringVar(&parseModel, "model", "", "force a model id instead of detecting one")
	parseCmd.Flags().StringVar(&parseOut, "out", "", "write the JSON result to this file")
	parseCmd.Flags().StringVar(&parseXLSX, "xlsx", "", "also export the items to this .xlsx file")
	rootCmd.AddCommand(parseCmd)
}
