package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"brainlink/pkg/config"
	"brainlink/pkg/logging"
)

const appName = "blinkd"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError marks bad flags or arguments; run maps it to exit code 2.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   appName,
		Short: "BrainLink headset stream decoder",
		Long: `blinkd decodes the ThinkGear byte stream of a BrainLink headset reached
through a serial-to-TCP bridge and fans the readings out to JSONL, a local
archive, Foxglove Studio and an HTTP status API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigPath, "config file (.toml, .yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error, disabled)")

	root.AddCommand(
		a.newServeCmd(),
		a.newMonitorCmd(),
		a.newDecodeCmd(),
		a.newExportCmd(),
		a.newMockCmd(),
		a.newConfigCmd(),
	)
	return root
}

// load reads the config file, applies the --log-level override and sets up
// the process logger.
func (a *app) load() (config.Config, zerolog.Logger, error) {
	cfg, _, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if a.logLevel != "" {
		if _, ok := logging.ParseLevel(a.logLevel); !ok {
			return config.Config{}, zerolog.Nop(), usagef("invalid --log-level %q", a.logLevel)
		}
		cfg.Log.Level = a.logLevel
	}
	opts := cfg.LoggingOptions()
	opts.Out = a.stderr
	return cfg, logging.Configure(appName, opts), nil
}
