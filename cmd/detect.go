package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	detectText  string
	previewText string
)

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "Show which model would parse a document, without parsing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := readParseInput(args, detectText)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "parse")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Runner.Detect(ctx, in)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), "", res)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [file]",
	Short: "Dry-run a document and suggest a model for a new partner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := readParseInput(args, previewText)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "parse")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Runner.Preview(ctx, in)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), "", p)
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectText, "text", "", "order text instead of a file")
	previewCmd.Flags().StringVar(&previewText, "text", "", "order text instead of a file")
	rootCmd.AddCommand(detectCmd, previewCmd)
}
