// Package cli implements the bookload command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/bookload/internal/performance/engine"
)

var version = "0.1.0"

// EnvPrefix prefixes every environment override, e.g. BOOKLOAD_BASE_URL.
const EnvPrefix = "BOOKLOAD"

// ExitError carries a process exit code out of a command.
// Err may be nil when the outcome was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// harnessError wraps err with the harness exit code.
func harnessError(err error) error {
	return &ExitError{Code: engine.ExitHarnessError, Err: err}
}

// NewRootCmd builds the command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     "bookload",
		Short:   "Virtual-user load tests for a REST book API",
		Version: version,
		Long: `bookload ramps virtual users up and down against a REST "book" API.
Each virtual user loops create, read, update and delete of its own book and
every response is checked for HTTP 200.

Exit codes: 0 all checks passed, 1 a check failed, 2 harness error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newRunCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return engine.ExitPassed
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}

	// Flag and argument errors from cobra.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.CommandPath())
	return engine.ExitHarnessError
}

// Execute runs the command line with the process arguments.
// This is called by main.main().
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// newViper returns a viper instance bound to the command's flags with
// BOOKLOAD_ environment overrides.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}
