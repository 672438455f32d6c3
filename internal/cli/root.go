// Package cli implements the feedbackload command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// EnvPrefix prefixes every environment override, e.g. FEEDBACKLOAD_BASE_URL.
const EnvPrefix = "FEEDBACKLOAD"

// ErrThresholdsFailed is returned by run when at least one threshold failed.
var ErrThresholdsFailed = errors.New("thresholds failed")

// NewRootCmd builds the command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     "feedbackload",
		Short:   "Load test the feedback ingestion endpoint",
		Version: version,
		Long: `feedbackload ramps virtual users against the feedback API, posts customer
feedback on every iteration, checks the returned sentiment and fails the run
when latency thresholds are not met.

Without --config the built-in scenario is used:
  30s ramp to 20 VUs, 1m at 20 VUs, 10s ramp down,
  POST {{baseUrl}}/api/v1/feedback, 1s pause, p(95)<500ms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrThresholdsFailed):
		return ExitThresholdsFailed
	default:
		return ExitError
	}
}

// Execute runs the command line with args and returns the exit code.
func Execute(args []string) int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err != nil && !errors.Is(err, ErrThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}

// newViper binds cmd's flags to a fresh viper instance that also reads
// FEEDBACKLOAD_* environment variables. Flags given on the command line win.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}
