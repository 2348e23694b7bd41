package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/store"
)

// openStore validates the shared settings and opens the migrated store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Store)
}

// readDocFile decodes a JSON or YAML file into v through its JSON tags.
func readDocFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return eris.Wrapf(err, "parse %s", path)
		}
		if data, err = json.Marshal(doc); err != nil {
			return eris.Wrapf(err, "convert %s", path)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "decode %s", path)
	}
	return nil
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage parsing models stored in the database",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored models",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		models, err := st.ListModels(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tACTIVE\tVERSION\tUPDATED")
		for _, m := range models {
			version := "-"
			if m.CurrentVersion != nil {
				version = m.CurrentVersion.Version
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", m.Name, m.DisplayName, m.Active, version, m.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var modelsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a model and its current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := st.GetModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if m == nil {
			return eris.Errorf("model %q not found", args[0])
		}
		return writeOutput(cmd.OutOrStdout(), "", m)
	},
}

var modelsCreateFile string

var modelsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a model from a JSON or YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		var in store.ModelInput
		if err := readDocFile(modelsCreateFile, &in); err != nil {
			return err
		}
		if strings.TrimSpace(in.Name) == "" {
			return eris.New("model name is required")
		}
		if in.CreatedBy == "" {
			in.CreatedBy = "cli"
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		existing, err := st.GetModel(cmd.Context(), in.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return eris.Errorf("model %q already exists", in.Name)
		}

		m, err := st.CreateModel(cmd.Context(), in)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), "", m)
	},
}

var modelsUpdateFile string

var modelsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a model; new rules or mappings create a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd store.ModelUpdate
		if err := readDocFile(modelsUpdateFile, &upd); err != nil {
			return err
		}
		if upd.UpdatedBy == "" {
			upd.UpdatedBy = "cli"
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := st.UpdateModel(cmd.Context(), args[0], upd)
		if err != nil {
			return err
		}
		if m == nil {
			return eris.Errorf("model %q not found", args[0])
		}
		return writeOutput(cmd.OutOrStdout(), "", m)
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			m, err := st.SetActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			if m == nil {
				return eris.Errorf("model %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", m.Name, m.Active)
			return nil
		},
	}
}

var modelsVersionsCmd = &cobra.Command{
	Use:   "versions <name>",
	Short: "List the versions of a model, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := st.GetModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if m == nil {
			return eris.Errorf("model %q not found", args[0])
		}
		versions, err := st.ListVersions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if versions == nil {
			versions = []model.ParserModelVersion{}
		}
		return writeOutput(cmd.OutOrStdout(), "", versions)
	},
}

func init() {
	modelsCreateCmd.Flags().StringVarP(&modelsCreateFile, "file", "f", "", "model definition (.json or .yaml)")
	_ = modelsCreateCmd.MarkFlagRequired("file")
	modelsUpdateCmd.Flags().StringVarP(&modelsUpdateFile, "file", "f", "", "changes to apply (.json or .yaml)")
	_ = modelsUpdateCmd.MarkFlagRequired("file")

	modelsCmd.AddCommand(
		modelsListCmd,
		modelsGetCmd,
		modelsCreateCmd,
		modelsUpdateCmd,
		setActiveCmd("activate", "Enable a model for detection", true),
		setActiveCmd("deactivate", "Disable a model for detection", false),
		modelsVersionsCmd,
	)
	rootCmd.AddCommand(modelsCmd)
}
