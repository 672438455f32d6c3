package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/executor"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/output"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario file without running it",
		Long: `Validate parses the scenario file given with --config (or the built-in
feedback scenario), applies defaults, and reports every problem found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			cfg, err := buildConfig(runOptions{ConfigFile: v.GetString("config")})
			if err != nil {
				return err
			}
			return validateConfig(cmd.OutOrStdout(), cfg, v.GetBool("no-color"))
		},
	}

	cmd.Flags().StringP("config", "c", "", "Scenario file (YAML or JSON); defaults to the built-in feedback scenario")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func validateConfig(out io.Writer, cfg *config.TestConfig, noColor bool) error {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	colors := output.DefaultColorScheme()
	if noColor {
		colors = output.NoColorScheme()
	}

	fmt.Fprintf(out, "%s %s is valid\n", colors.Good.Sprint("✓"), colors.Title.Sprint(cfg.Name))

	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ec, err := executor.ConfigFromScenario(name, cfg.Scenarios[name])
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		fmt.Fprintf(out, "  scenario %s: %s, max %d VUs, %s (+%s graceful stop), pause %s\n",
			name, ec.Type, executor.CalculateMaxVUs(ec), ec.TotalDuration(), ec.GracefulStop, ec.Pause)
	}

	for _, m := range cfg.Thresholds.ByMetric() {
		for _, expr := range m.Expressions {
			fmt.Fprintf(out, "  threshold %s: %s\n", m.Metric, expr)
		}
	}
	return nil
}
