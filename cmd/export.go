package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/export"
	"github.com/sells-group/leadify-flow/pkg/notion"
	"github.com/sells-group/leadify-flow/pkg/salesforce"
)

var (
	exportFormat     string
	exportOut        string
	exportNotion     bool
	exportSalesforce bool
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a finished run's leads",
	Long:  "Writes a run's leads as CSV, Excel or JSON, and optionally pushes them to the Notion lead database and Salesforce.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		sinks, err := initSinks(cfg, exportNotion, exportSalesforce)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if run.Result == nil {
			return eris.Errorf("export: run %s has no result (status %s)", run.ID, run.Status)
		}

		if exportOut != "" || len(sinks) == 0 {
			if err := writeResult(cmd.OutOrStdout(), exportOut, format, run.Result); err != nil {
				return err
			}
		}

		if len(sinks) == 0 {
			return nil
		}
		reports, err := export.ToSinks(ctx, run, sinks...)
		formatReports(cmd.ErrOrStderr(), reports)
		return err
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "file format (csv, xlsx, json)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the file here instead of stdout")
	exportCmd.Flags().BoolVar(&exportNotion, "notion", false, "upsert leads into the Notion lead database")
	exportCmd.Flags().BoolVar(&exportSalesforce, "salesforce", false, "create Salesforce leads")
	rootCmd.AddCommand(exportCmd)
}

// initSinks builds the requested CRM sinks from c.
func initSinks(c *config.Config, useNotion, useSalesforce bool) ([]export.Sink, error) {
	var sinks []export.Sink

	if useNotion {
		if c.Notion.Token == "" || c.Notion.LeadDB == "" {
			return nil, eris.New("notion export needs LEADIFY_NOTION_TOKEN and LEADIFY_NOTION_LEAD_DB")
		}
		sinks = append(sinks, export.NewNotionSink(notion.NewClient(c.Notion.Token), c.Notion.LeadDB))
	}

	if useSalesforce {
		sf, err := initSalesforce(c.Salesforce)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, export.NewSalesforceSink(sf, c.Salesforce.LeadSource))
	}

	return sinks, nil
}

func initSalesforce(sc config.SalesforceConfig) (salesforce.Client, error) {
	if sc.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADIFY_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(sc.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return salesforce.Connect(salesforce.Creds{
		LoginURL:    sc.LoginURL,
		Username:    sc.Username,
		ConsumerKey: sc.ClientID,
		PrivateKey:  string(pemData),
	})
}

func formatReports(out io.Writer, reports []export.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SINK\tCREATED\tUPDATED\tSKIPPED\tFAILED\tERROR")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", r.Sink, r.Created, r.Updated, r.Skipped, r.Failed, r.Error)
	}
	_ = w.Flush()
}
