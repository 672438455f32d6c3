package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/feedbackload/internal/feedback"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/engine"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/output"
	"github.com/wesleyorama2/feedbackload/internal/logging"
)

// runOptions are the resolved flag and environment values for run.
type runOptions struct {
	ConfigFile       string
	BaseURL          string
	Stages           string
	Thresholds       []string
	Pause            string
	GracefulStop     string
	MaxRPS           float64
	Quiet            bool
	NoColor          bool
	JSONSummary      string
	MetricsAddr      string
	LogLevel         string
	ProgressInterval time.Duration
}

func runOptionsFrom(v *viper.Viper) runOptions {
	return runOptions{
		ConfigFile:       v.GetString("config"),
		BaseURL:          v.GetString("base-url"),
		Stages:           v.GetString("stages"),
		Thresholds:       thresholdsFrom(v),
		Pause:            v.GetString("pause"),
		GracefulStop:     v.GetString("graceful-stop"),
		MaxRPS:           v.GetFloat64("max-rps"),
		Quiet:            v.GetBool("quiet"),
		NoColor:          v.GetBool("no-color"),
		JSONSummary:      v.GetString("json-summary"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
		ProgressInterval: v.GetDuration("progress-interval"),
	}
}

// thresholdsFrom reads --threshold values. Repeated flags arrive as a slice;
// FEEDBACKLOAD_THRESHOLD is a single string holding ';'-separated entries,
// each of which may contain spaces.
func thresholdsFrom(v *viper.Viper) []string {
	switch raw := v.Get("threshold").(type) {
	case string:
		var out []string
		for _, entry := range strings.Split(raw, ";") {
			if entry = strings.TrimSpace(entry); entry != "" {
				out = append(out, entry)
			}
		}
		return out
	case []string:
		return raw
	default:
		return v.GetStringSlice("threshold")
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load test",
		Long: `Run the built-in feedback scenario, or the scenario file given with --config.

Flags override the scenario file and can also be set through the environment,
e.g. FEEDBACKLOAD_BASE_URL=http://staging:8000. Separate several thresholds in
FEEDBACKLOAD_THRESHOLD with ';'.

Exit status is 0 when every threshold passed, 99 when a threshold failed and
1 on any other error. Press Ctrl-C once to stop gracefully, twice to abort.

Examples:
  feedbackload run
  feedbackload run --base-url http://localhost:8000 --stages "10s:5,20s:5,5s:0"
  feedbackload run --config feedback.yaml --threshold "http_req_duration=p(99)<1s"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			return runLoadTest(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), runOptionsFrom(v))
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Scenario file (YAML or JSON); defaults to the built-in feedback scenario")
	flags.String("base-url", "", "Base URL of the feedback service (default "+feedback.DefaultBaseURL+")")
	flags.String("stages", "", "Ramping stages as 'duration:target,...', e.g. '30s:20,1m:20,10s:0'")
	flags.StringArray("threshold", nil, "Threshold as 'metric=expression'; replaces that metric's thresholds (repeatable)")
	flags.String("pause", "", "Pause between iterations, e.g. 1s")
	flags.String("graceful-stop", "", "Time in-flight iterations may finish after the last stage")
	flags.Float64("max-rps", 0, "Cap on requests per second across all VUs (0 = unlimited)")
	flags.BoolP("quiet", "q", false, "Disable live progress output, print only PASSED/FAILED")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("json-summary", "", "Write the run result as JSON to this file ('-' for stdout)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9464")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error, off")
	flags.Duration("progress-interval", time.Second, "How often live progress is refreshed")

	return cmd
}

// runLoadTest runs the configured scenario. Progress and the summary go to
// out, or to errOut when the JSON summary is written to stdout.
func runLoadTest(ctx context.Context, out, errOut io.Writer, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.New(opts.LogLevel, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	consoleOut := out
	if opts.JSONSummary == "-" {
		consoleOut = errOut
	}
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:     cfg.Name,
		ExecutorType: executorLabel(cfg),
		Writer:       consoleOut,
		Quiet:        opts.Quiet,
		NoColor:      opts.NoColor,
	})

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithProgress(opts.ProgressInterval, func(p *engine.Progress) {
			console.Report(output.StatsFromProgress(p))
		}),
	}

	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())

		addr, shutdown, err := startMetricsServer(opts.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		logger.Info("serving metrics", zap.String("addr", "http://"+addr+"/metrics"))
		engineOpts = append(engineOpts, engine.WithRegisterer(reg))
	}

	eng, err := engine.NewEngine(cfg, engineOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := handleSignals(ctx, cancel, eng, logger)
	defer stopSignals()

	console.PrintHeader()

	result, runErr := eng.Run(ctx)
	if result != nil {
		console.PrintSummary(result)

		if opts.JSONSummary != "" {
			if err := output.WriteJSONSummary(out, opts.JSONSummary, result); err != nil {
				return errors.Join(runErr, err)
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// buildConfig loads the scenario and applies flag overrides.
func buildConfig(opts runOptions) (*config.TestConfig, error) {
	var (
		cfg *config.TestConfig
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.LoadConfig(opts.ConfigFile)
	} else {
		cfg, err = feedback.Config()
	}
	if err != nil {
		return nil, err
	}

	if opts.BaseURL != "" {
		cfg.Settings.BaseURL = opts.BaseURL
	}
	if opts.MaxRPS > 0 {
		cfg.Settings.MaxRPS = opts.MaxRPS
	}

	var stages []config.StageConfig
	if opts.Stages != "" {
		stages, err = config.ParseStages(opts.Stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
	}

	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if stages != nil {
			sc.Executor = config.ExecutorRampingVUs
			sc.Stages = append([]config.StageConfig(nil), stages...)
			sc.VUs = 0
			sc.Duration = ""
		}
		if opts.Pause != "" {
			sc.Pause = opts.Pause
		}
		if opts.GracefulStop != "" {
			sc.GracefulStop = opts.GracefulStop
		}
	}

	if err := applyThresholdOverrides(cfg, opts.Thresholds); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyThresholdOverrides parses "metric=expr" pairs. Metrics named on the
// command line replace the file's expressions for that metric.
func applyThresholdOverrides(cfg *config.TestConfig, overrides []string) error {
	if len(overrides) == 0 {
		return nil
	}

	parsed := &config.ThresholdsConfig{}
	for _, raw := range overrides {
		metric, expr, ok := strings.Cut(raw, "=")
		metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return fmt.Errorf("invalid --threshold %q: expected metric=expression", raw)
		}
		if !parsed.Add(metric, expr) {
			return fmt.Errorf("invalid --threshold %q: unknown metric %s", raw, metric)
		}
	}

	if cfg.Thresholds == nil {
		cfg.Thresholds = &config.ThresholdsConfig{}
	}
	for _, m := range parsed.ByMetric() {
		cfg.Thresholds.Set(m.Metric, m.Expressions)
	}
	return nil
}

// executorLabel names the executor for the header, or "mixed".
func executorLabel(cfg *config.TestConfig) string {
	label := ""
	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		executor := sc.Executor
		if executor == "" {
			executor = config.ExecutorConstantVUs
		}
		if label != "" && label != executor {
			return "mixed"
		}
		label = executor
	}
	return label
}

// startMetricsServer serves reg on addr until shutdown is called. It
// returns the address actually bound.
func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), shutdown, nil
}

// handleSignals stops the engine gracefully on the first interrupt and
// cancels ctx on the second.
func handleSignals(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, logger *zap.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		interrupted := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if interrupted {
					logger.Warn("aborting", zap.String("signal", sig.String()))
					cancel()
					return
				}
				interrupted = true
				logger.Warn("stopping gracefully, interrupt again to abort", zap.String("signal", sig.String()))
				go func() {
					if err := eng.Stop(ctx); err != nil {
						logger.Error("failed to stop", zap.Error(err))
					}
				}()
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
