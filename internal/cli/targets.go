package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/browser"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List browser targets",
	Long: `Lists every target the browser knows about.

By default the list comes from Target.getTargets over the WebSocket. With
--discovery it is read from the HTTP /json/list endpoint instead, which
needs a host:port endpoint.`,
	Args: cobra.NoArgs,
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().Bool("discovery", false, "Use the HTTP discovery endpoint")
	rootCmd.AddCommand(targetsCmd)
}

// targetRow is one line of targets output.
type targetRow struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Attached bool   `json:"attached"`
}

func runTargets(cmd *cobra.Command, args []string) error {
	discovery, _ := cmd.Flags().GetBool("discovery")

	var (
		rows []targetRow
		err  error
	)
	if discovery {
		rows, err = discoverTargets(cmd.Context())
	} else {
		rows, err = listTargets(cmd.Context())
	}
	if err != nil {
		return outputError(err.Error())
	}

	return outputSuccess(rows, func(w io.Writer) error {
		return formatTargets(w, rows)
	})
}

func listTargets(ctx context.Context) ([]targetRow, error) {
	b, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout())
	defer cancel()
	infos, err := b.Targets(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]targetRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, targetRow{
			ID:       string(info.TargetID),
			Type:     info.Type,
			Title:    info.Title,
			URL:      info.URL,
			Attached: info.Attached,
		})
	}
	return rows, nil
}

func discoverTargets(ctx context.Context) ([]targetRow, error) {
	if isWebSocketEndpoint(cfg.Endpoint) {
		return nil, fmt.Errorf("--discovery needs a host:port endpoint, got %s", cfg.Endpoint)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout())
	defer cancel()
	targets, err := browser.FetchTargets(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	rows := make([]targetRow, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, targetRow{ID: t.ID, Type: t.Type, Title: t.Title, URL: t.URL})
	}
	return rows, nil
}

func isWebSocketEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}

// formatTargets writes one target per line: id, type, title and url.
func formatTargets(w io.Writer, rows []targetRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No targets")
		return err
	}
	for _, r := range rows {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		if _, err := fmt.Fprintf(w, "%s  %-15s %s  %s\n", r.ID, r.Type, title, r.URL); err != nil {
			return err
		}
	}
	return nil
}
