package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	logsStatus   string
	logsModel    string
	logsFilename string
	logsCompany  string
	logsFrom     string
	logsTo       string
	logsLimit    int
	logsOffset   int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect processing logs",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processing logs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := map[string][]string{}
		for k, v := range map[string]string{
			"status":    logsStatus,
			"model":     logsModel,
			"filename":  logsFilename,
			"company":   logsCompany,
			"date_from": logsFrom,
			"date_to":   logsTo,
		} {
			if v != "" {
				q[k] = []string{v}
			}
		}
		q["limit"] = []string{fmt.Sprint(logsLimit)}
		q["offset"] = []string{fmt.Sprint(logsOffset)}

		filter, err := parseLogFilter(q)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		logs, err := st.ListLogs(cmd.Context(), filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tMODEL\tFILE\tCOMPANY\tWARN\tERR")
		for _, l := range logs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
				l.ID, l.StartedAt.Format("2006-01-02 15:04:05"), l.Status, l.ModelName,
				l.Filename, l.CompanyName, l.WarningsCount, l.ErrorsCount)
		}
		return tw.Flush()
	},
}

var logsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one processing log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		l, err := st.GetLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if l == nil {
			return eris.Errorf("log %q not found", args[0])
		}
		return writeOutput(cmd.OutOrStdout(), "", l)
	},
}

func init() {
	f := logsListCmd.Flags()
	f.StringVar(&logsStatus, "status", "", "filter by status (success, partial, failed)")
	f.StringVar(&logsModel, "model", "", "filter by model name")
	f.StringVar(&logsFilename, "filename", "", "filter by file name substring")
	f.StringVar(&logsCompany, "company", "", "filter by company name substring")
	f.StringVar(&logsFrom, "from", "", "started at or after (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&logsTo, "to", "", "started at or before (YYYY-MM-DD or RFC 3339)")
	f.IntVar(&logsLimit, "limit", 50, "max rows (1-200)")
	f.IntVar(&logsOffset, "offset", 0, "rows to skip")

	logsCmd.AddCommand(logsListCmd, logsGetCmd)
	rootCmd.AddCommand(logsCmd)
}
