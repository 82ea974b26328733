package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/config"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// Flag values that override the loaded configuration when set.
var (
	configPath  string
	endpointArg string
	timeoutArg  time.Duration
	showMetrics bool
)

// State prepared by PersistentPreRunE for the running command.
var (
	cfg      = config.Default()
	logger   = zap.NewNop()
	metrics  *cdp.Metrics
	registry *prometheus.Registry
)

var rootCmd = &cobra.Command{
	Use:   "cdpmux",
	Short: "Drive a browser over the Chrome DevTools Protocol",
	Long: "cdpmux connects to a running browser's debugging endpoint, opens a page per command " +
		"and multiplexes its protocol traffic over one WebSocket.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&endpointArg, "endpoint", "", "Browser endpoint: ws:// URL or host:port (default 127.0.0.1:9222)")
	flags.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/cdpmux/config.yaml)")
	flags.DurationVar(&timeoutArg, "timeout", 0, "Timeout for each protocol command")
	flags.BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	flags.BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	flags.BoolVar(&NoColor, "no-color", false, "Disable color output")
	flags.BoolVar(&showMetrics, "metrics", false, "Print protocol counters to stderr after the command")
	rootCmd.SetVersionTemplate(`cdpmux version {{.Version}}
`)
}

// setup loads configuration and builds the logger. Flags win over the
// config file and environment only when given explicitly.
func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		loaded.Endpoint = endpointArg
	}
	if flags.Changed("timeout") {
		loaded.Timeout = config.Duration(timeoutArg)
	}
	if flags.Changed("debug") {
		loaded.Debug = Debug
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	logger, err = newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if showMetrics {
		registry = prometheus.NewRegistry()
		metrics = cdp.NewMetrics(registry)
	}
	return nil
}

// teardown prints collected metrics to w and flushes the logger. It runs
// whether or not the command failed.
func teardown(w io.Writer) {
	if registry != nil {
		writeMetrics(w, registry)
	}
	_ = logger.Sync()
}

// newLogger builds a production logger on stderr. Only warnings and above
// are shown unless debug is set.
func newLogger(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	return config.Build()
}

// writeMetrics prints every gathered counter and gauge as "name{labels} value".
func writeMetrics(w io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		logger.Warn("failed to gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)

			value := m.GetCounter().GetValue()
			if m.GetGauge() != nil {
				value = m.GetGauge().GetValue()
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}

// Execute runs the root command until it finishes or the process is interrupted.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return execute(ctx)
}

func execute(ctx context.Context) error {
	defer teardown(os.Stderr)
	return rootCmd.ExecuteContext(ctx)
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			return ""
		}
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// printedError is an error whose message was already written to stderr.
type printedError struct {
	msg string
}

func (e *printedError) Error() string { return e.msg }

// IsPrintedError reports whether err was already reported to the user.
func IsPrintedError(err error) bool {
	var pe *printedError
	return errors.As(err, &pe)
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputSuccess writes a successful response to stdout.
// In text mode, action commands without data print "OK" and data is
// rendered by text.
func outputSuccess(data any, text func(io.Writer) error) error {
	if JSONOutput {
		resp := map[string]any{
			"ok": true,
		}
		if data != nil {
			resp["data"] = data
		}
		return outputJSON(os.Stdout, resp)
	}

	if text != nil {
		return text(os.Stdout)
	}
	if shouldUseColor() {
		color.New(color.FgGreen).Fprintln(os.Stdout, "OK")
	} else {
		fmt.Fprintln(os.Stdout, "OK")
	}
	return nil
}

// outputError writes an error response to stderr and returns an error.
// Uses text format by default, JSON if --json flag is set.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		_ = outputJSON(os.Stderr, resp)
	} else {
		if shouldUseColor() {
			color.New(color.FgRed).Fprint(os.Stderr, "Error:")
			fmt.Fprintf(os.Stderr, " %s\n", msg)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
	}
	return &printedError{msg: msg}
}

// shouldUseColor determines if color output should be used based on flags and environment.
func shouldUseColor() bool {
	if JSONOutput {
		return false
	}
	if NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
