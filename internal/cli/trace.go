package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/page"
)

var traceCmd = &cobra.Command{
	Use:   "trace <url>",
	Short: "Record a performance trace of a page load",
	Long: `Opens a new page, starts tracing, navigates to the URL and stops tracing
once the page has loaded and the optional duration has passed.

The trace is written in the Chrome trace event format and can be opened in
the DevTools performance panel.

Examples:
  cdpmux trace example.com
  cdpmux trace example.com --output load.json --screenshots
  cdpmux trace localhost:8080 --duration 5s --category v8,blink`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringP("output", "o", "trace.json", "File to write the trace to")
	traceCmd.Flags().Duration("duration", 0, "Keep recording this long after the load")
	traceCmd.Flags().StringSlice("category", nil, "Trace category (repeatable, prefix with - to exclude, default DevTools timeline)")
	traceCmd.Flags().Bool("screenshots", false, "Include filmstrip screenshots")
	rootCmd.AddCommand(traceCmd)
}

type traceResult struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	DataLoss bool   `json:"dataLoss,omitempty"`
}

func runTrace(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	duration, _ := cmd.Flags().GetDuration("duration")
	categories, _ := cmd.Flags().GetStringSlice("category")
	screenshots, _ := cmd.Flags().GetBool("screenshots")

	f, err := os.Create(output)
	if err != nil {
		return outputError(fmt.Sprintf("failed to create trace file: %v", err))
	}
	defer f.Close()

	var res page.TraceResult
	err = withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		ctx := cmd.Context()
		tracer := p.Tracer()

		startCtx, cancel := context.WithTimeout(ctx, commandTimeout())
		err := tracer.Start(startCtx, page.TraceOptions{Categories: categories, Screenshots: screenshots})
		cancel()
		if err != nil {
			return err
		}

		navErr := openURL(ctx, p, args[0])
		if navErr == nil && duration > 0 {
			logger.Debug("recording trace", zap.Duration("duration", duration))
			select {
			case <-time.After(duration):
			case <-ctx.Done():
			}
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.NavigationTimeout))
		defer cancel()
		res, err = tracer.Stop(stopCtx, f)
		if navErr != nil {
			return navErr
		}
		return err
	})
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		_ = os.Remove(output)
		return outputError(err.Error())
	}

	result := traceResult{Path: output, Bytes: res.Bytes, DataLoss: res.DataLossOccurred}
	return outputSuccess(result, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "Trace: %s (%d bytes)\n", result.Path, result.Bytes); err != nil {
			return err
		}
		if result.DataLoss {
			_, err := fmt.Fprintln(w, "Warning: the trace buffer overflowed, some events are missing")
			return err
		}
		return nil
	})
}
