package main

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadify-flow/internal/export"
	"github.com/sells-group/leadify-flow/internal/model"
)

var (
	runInputPath string
	runEventName string
	runAudience  string
	runGoals     string
	runFormat    string
	runOut       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate leads for a single event",
	Long:  "Runs every pipeline stage for one event and prints the leads. The input file is YAML or JSON holding event, audience and goals.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := export.ParseFormat(runFormat)
		if err != nil {
			return err
		}

		input, err := loadInput(runInputPath)
		if err != nil {
			return err
		}
		applyInputFlags(&input, runEventName, runAudience, runGoals)

		env, err := initPipeline(ctx, cfg, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, input)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("lead generation complete",
			zap.String("run_id", result.RunID),
			zap.Int("speakers", len(result.Leads.Speakers)),
			zap.Int("sponsors", len(result.Leads.Sponsors)),
			zap.Bool("used_fallback", result.UsedFallback),
		)

		return writeResult(cmd.OutOrStdout(), runOut, format, result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInputPath, "input", "", "path to a YAML or JSON input file")
	runCmd.Flags().StringVar(&runEventName, "event", "", "event name (overrides the input file)")
	runCmd.Flags().StringVar(&runAudience, "audience", "", "primary audience demographic")
	runCmd.Flags().StringVar(&runGoals, "goals", "", "what you are looking for, e.g. \"speakers and sponsors\"")
	runCmd.Flags().StringVar(&runFormat, "format", "json", "output format (json, csv, xlsx)")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "write output to a file instead of stdout")
	rootCmd.AddCommand(runCmd)
}

// loadInput reads a pipeline input from path. An empty path yields an empty
// input.
func loadInput(path string) (model.Input, error) {
	var input model.Input
	if path == "" {
		return input, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return input, eris.Wrapf(err, "read input %s", path)
	}
	// yaml.v3 also accepts JSON documents.
	if err := yaml.Unmarshal(data, &input); err != nil {
		return input, eris.Wrapf(err, "parse input %s", path)
	}
	return input, nil
}

func applyInputFlags(input *model.Input, event, audience, goals string) {
	if event = strings.TrimSpace(event); event != "" {
		input.Event.Name = event
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		input.Audience.PrimaryDemographic = audience
	}
	if strings.TrimSpace(goals) != "" {
		input.Goals.ParseIntent(goals)
	}
}

// writeResult writes result in format to the file at out, or to w when out
// is empty.
func writeResult(w io.Writer, out string, format export.Format, result *model.RunResult) error {
	if out == "" {
		return export.Write(w, format, result)
	}
	f, err := os.Create(out)
	if err != nil {
		return eris.Wrapf(err, "create %s", out)
	}
	if err := export.Write(f, format, result); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close %s", out)
	}
	zap.L().Info("wrote leads", zap.String("path", out), zap.String("format", string(format)))
	return nil
}
