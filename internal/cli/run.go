package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/bookload/internal/history"
	"github.com/wesleyorama2/bookload/internal/logging"
	"github.com/wesleyorama2/bookload/internal/performance/config"
	"github.com/wesleyorama2/bookload/internal/performance/engine"
	"github.com/wesleyorama2/bookload/internal/performance/output"
)

const (
	ttyUpdateInterval   = time.Second
	plainUpdateInterval = 10 * time.Second
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a ramping load test against the book API",
		Long: `Run a ramping load test against the book API.

Stages are "duration:target" pairs. The default ramps to 5 VUs over 1m,
to 10 VUs over 2m, holds 10 VUs for 1m and ramps down over 30s.

Settings are taken from flags, then BOOKLOAD_* environment variables, then
the --config file, then defaults.`,
		Example: `  bookload run
  bookload run --base-url http://localhost:8000 --stages 30s:10,1m:10,10s:0
  bookload run --config load.yaml --json --output result.json
  BOOKLOAD_PACING=500ms bookload run --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return harnessError(err)
			}
			return runLoadTest(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String("base-url", config.DefaultBaseURL, "Base URL of the book API")
	flags.String("name", "", "Test name for reports")
	flags.Duration("pacing", config.DefaultPacing, "Pause between iterations of each VU")
	flags.String("stages", config.DefaultStages, "Stages in format 'duration:target,duration:target,...'")
	flags.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	flags.DurationP("timeout", "t", config.DefaultTimeout, "Request timeout")
	flags.Duration("grace", config.DefaultGracefulStop, "How long VUs may take to finish their last iteration")
	flags.Bool("skip-preflight", false, "Skip the reachability check before the test")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.Bool("no-keepalive", false, "Open a new connection for every request")
	flags.Bool("json", false, "Output results as JSON")
	flags.StringP("output", "o", "", "Write the JSON result to a file")
	flags.BoolP("quiet", "q", false, "Disable live progress output, show only pass/fail")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.Bool("no-color", false, "Disable coloured output")
	flags.Bool("save", false, "Save the result to the run history")
	flags.String("history-db", "", "History database (default ~/.bookload/history.db)")

	return cmd
}

// buildConfig layers flags and environment over the config file.
func buildConfig(v *viper.Viper) (*config.TestConfig, error) {
	cfg := &config.TestConfig{}
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v.IsSet("name") {
		cfg.Name = v.GetString("name")
	}
	if v.IsSet("base-url") || cfg.BaseURL == "" {
		cfg.BaseURL = v.GetString("base-url")
	}
	if v.IsSet("pacing") {
		cfg.Pacing = config.NewDuration(v.GetDuration("pacing"))
	}
	if v.IsSet("timeout") {
		cfg.Timeout = config.Duration(v.GetDuration("timeout"))
	}
	if v.IsSet("grace") {
		cfg.GracefulStop = config.Duration(v.GetDuration("grace"))
	}
	if v.IsSet("insecure") {
		cfg.InsecureSkipVerify = v.GetBool("insecure")
	}
	if v.IsSet("no-keepalive") {
		cfg.DisableKeepAlives = v.GetBool("no-keepalive")
	}
	if v.IsSet("stages") || len(cfg.Stages) == 0 {
		stages, err := config.ParseStages(v.GetString("stages"))
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

func runLoadTest(parent context.Context, v *viper.Viper, stdout, stderr io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := abortContext(parent)
	defer stop()

	jsonOut := v.GetBool("json")
	quiet := v.GetBool("quiet")
	noColor := v.GetBool("no-color")

	logger := logging.New(logging.Options{
		Verbose: v.GetBool("verbose"),
		Quiet:   quiet,
		Writer:  stderr,
		NoColor: noColor,
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := buildConfig(v)
	if err != nil {
		return harnessError(err)
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		BaseURL:       cfg.BaseURL,
		TotalDuration: cfg.TotalDuration(),
		MaxVUs:        cfg.MaxVUs(),
		Writer:        stdout,
		Quiet:         quiet,
		NoColor:       noColor,
	})

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSkipPreflight(v.GetBool("skip-preflight")),
	}
	if !jsonOut && !quiet {
		if console.IsTTY() {
			opts = append(opts, engine.WithProgress(ttyUpdateInterval, console.Update))
		} else {
			opts = append(opts, engine.WithProgress(plainUpdateInterval, console.PrintNonInteractiveUpdate))
		}
	}

	runner, err := engine.NewRunner(cfg, opts...)
	if err != nil {
		return harnessError(err)
	}

	if !jsonOut {
		console.PrintHeader()
	}

	result, runErr := runner.Run(ctx)
	code := engine.ExitCode(result, runErr)

	if result != nil {
		if err := report(v, console, result, code, stdout, logger); err != nil {
			return harnessError(err)
		}
	}

	if runErr != nil {
		return &ExitError{Code: code, Err: runErr}
	}
	if code != engine.ExitPassed {
		return &ExitError{Code: code}
	}
	return nil
}

// abortContext is cancelled by the first SIGINT or SIGTERM. The handler is
// released right away, so a second signal terminates the process instead of
// waiting out the graceful stop.
func abortContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

// report prints the result and writes it to the requested sinks.
func report(v *viper.Viper, console *output.ConsoleOutput, result *engine.TestResult, code int, stdout io.Writer, logger *zap.Logger) error {
	if v.GetBool("json") {
		if err := output.WriteJSON(stdout, result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if path := v.GetString("output"); path != "" {
		if err := output.SaveJSON(path, result); err != nil {
			return err
		}
		logger.Info("results written", zap.String("path", path))
	}

	if v.GetBool("save") {
		store, err := openHistory(v)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(history.NewRecord(result, code)); err != nil {
			return err
		}
		logger.Info("run saved", zap.String("id", result.ID), zap.String("db", store.Path()))
	}
	return nil
}

func openHistory(v *viper.Viper) (*history.Store, error) {
	path := v.GetString("history-db")
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			return nil, fmt.Errorf("history database: %w", err)
		}
	}
	return history.Open(path)
}
