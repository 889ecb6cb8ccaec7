package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
)

var fallbackCmd = &cobra.Command{
	Use:   "fallback",
	Short: "Inspect the fallback sample dataset",
}

var fallbackShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configured fallback dataset and policy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider, err := initFallback(cfg.Fallback)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(provider.Dataset())
		}

		formatPolicy(out, provider)
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(provider.Dataset()); err != nil {
			return err
		}
		return enc.Close()
	},
}

var fallbackValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check that a dataset file can stand in for the ranking stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := fallback.Load(args[0])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d ranked profiles, %d queries)\n",
			args[0], len(ds.Ranked), len(ds.Queries))
		return nil
	},
}

func init() {
	fallbackShowCmd.Flags().Bool("json", false, "print the dataset as JSON")
	fallbackCmd.AddCommand(fallbackShowCmd)
	fallbackCmd.AddCommand(fallbackValidateCmd)
	rootCmd.AddCommand(fallbackCmd)
}

// formatPolicy lists which stages have a fallback producer.
func formatPolicy(out io.Writer, p *fallback.Provider) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "# STAGE\tFALLBACK")
	for _, s := range model.WorkStages() {
		state := "disabled"
		if _, ok := p.Lookup(s); ok {
			state = "enabled"
		}
		_, _ = fmt.Fprintf(w, "# %s\t%s\n", s, state)
	}
	_ = w.Flush()
}
