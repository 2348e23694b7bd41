package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/config"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/normalize"
	"github.com/sells-group/order-parser/internal/parser"
	"github.com/sells-group/order-parser/internal/registry"
)

var validateMode string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the models, mappings and company files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(validateMode); err != nil {
			return err
		}
		problems := checkFiles(cfg.Pipeline)
		for _, p := range problems {
			fmt.Fprintln(cmd.ErrOrStderr(), "  -", p)
		}
		if len(problems) > 0 {
			return eris.Errorf("validate: %d problem(s) found", len(problems))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
		return nil
	},
}

// checkFiles reads the configured files strictly and reports what the
// pipeline would otherwise silently replace with defaults.
func checkFiles(pc config.PipelineConfig) []string {
	var problems []string

	tables, err := mapping.Read(pc.MappingsPath)
	if err != nil {
		problems = append(problems, fmt.Sprintf("mappings: %v", err))
	}
	if _, err := company.ReadIdentity(pc.CompanyPath); err != nil {
		problems = append(problems, fmt.Sprintf("company: %v", err))
	}

	defs, err := registry.ReadFile(pc.ModelsPath)
	if err != nil {
		return append(problems, fmt.Sprintf("models: %v", err))
	}
	if len(defs) == 0 {
		problems = append(problems, "models: no models defined")
	}

	parsers := parser.NewRegistry(parser.Deps{Tables: tables})
	normalizers := normalize.NewRegistry(normalize.Deps{Tables: tables})
	seen := make(map[string]bool, len(defs))
	fallback := false
	for _, d := range defs {
		if seen[d.ID] {
			problems = append(problems, fmt.Sprintf("models: duplicate id %q", d.ID))
		}
		seen[d.ID] = true
		if d.Detection.Fallback {
			fallback = true
		}
		if _, err := parsers.Get(d.ParserKey); err != nil {
			problems = append(problems, fmt.Sprintf("models: %s: unknown parser %q (have %s)",
				d.ID, d.ParserKey, strings.Join(parsers.Keys(), ", ")))
		}
		if _, err := normalizers.Get(d.NormalizerKey); err != nil {
			problems = append(problems, fmt.Sprintf("models: %s: unknown normalizer %q", d.ID, d.NormalizerKey))
		}
	}
	if len(defs) > 0 && !fallback && !seen[pc.FallbackModel] {
		problems = append(problems, fmt.Sprintf("models: no fallback model and %q is not defined", pc.FallbackModel))
	}
	return problems
}

func init() {
	validateCmd.Flags().StringVar(&validateMode, "mode", "", "also check settings for a command (parse, serve, batch, worker)")
	rootCmd.AddCommand(validateCmd)
}
