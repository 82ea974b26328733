package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/page"
)

var defaultWatchEvents = []string{
	"Page.frameNavigated",
	"Page.lifecycleEvent",
	"Page.loadEventFired",
	"Runtime.consoleAPICalled",
	"Runtime.exceptionThrown",
}

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Record protocol events while a page loads",
	Long: `Opens a new page, subscribes to the given events, navigates to the URL and
records events for the given duration. The most recent events are printed
when recording stops.

The event buffer holds event_buffer entries; older events are dropped.

Examples:
  cdpmux watch example.com
  cdpmux watch example.com --event Network.requestWillBeSent --field request.url
  cdpmux watch localhost:8080 --duration 10s --limit 20`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSlice("event", nil, "Event method to record (repeatable, default page and console events)")
	watchCmd.Flags().Duration("duration", 3*time.Second, "How long to record after the load")
	watchCmd.Flags().Int("limit", 0, "Print only the N most recent events")
	watchCmd.Flags().String("field", "", "Print only this path of each event's params (gjson syntax)")
	rootCmd.AddCommand(watchCmd)
}

// watchedEvent is one recorded protocol event.
type watchedEvent struct {
	Time   time.Time       `json:"time"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type watchResult struct {
	Events  []watchedEvent `json:"events"`
	Dropped int            `json:"dropped,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	events, _ := cmd.Flags().GetStringSlice("event")
	duration, _ := cmd.Flags().GetDuration("duration")
	limit, _ := cmd.Flags().GetInt("limit")
	field, _ := cmd.Flags().GetString("field")

	if len(events) == 0 {
		events = defaultWatchEvents
	}
	if containsNetworkEvent(events) {
		cfg.NetworkEvents = true
	}

	buf := NewRingBuffer[watchedEvent](cfg.EventBuffer)
	err := withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		unsubscribe := p.Session().On(events, func(evt cdp.Event) {
			buf.Push(watchedEvent{Time: time.Now(), Method: evt.Method, Params: evt.Params})
		})
		defer unsubscribe()

		if err := openURL(cmd.Context(), p, args[0]); err != nil {
			return err
		}
		logger.Debug("recording events", zap.Strings("events", events), zap.Duration("duration", duration))

		select {
		case <-time.After(duration):
		case <-cmd.Context().Done():
		}
		return nil
	})
	if err != nil {
		return outputError(err.Error())
	}

	n := buf.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	result := watchResult{Events: buf.Newest(n), Dropped: buf.Dropped()}
	if field != "" {
		for i := range result.Events {
			result.Events[i].Params = selectField(result.Events[i].Params, field)
		}
	}

	return outputSuccess(result, func(w io.Writer) error {
		return formatEvents(w, result)
	})
}

func containsNetworkEvent(events []string) bool {
	for _, e := range events {
		if strings.HasPrefix(e, "Network.") {
			return true
		}
	}
	return false
}

// selectField extracts path from params. A missing path yields nil.
func selectField(params json.RawMessage, path string) json.RawMessage {
	res := gjson.GetBytes(params, path)
	if !res.Exists() {
		return nil
	}
	return json.RawMessage(res.Raw)
}

// formatEvents writes one event per line: time, method and compact params.
func formatEvents(w io.Writer, result watchResult) error {
	if len(result.Events) == 0 {
		_, err := fmt.Fprintln(w, "No events")
		return err
	}
	for _, e := range result.Events {
		line := e.Time.Format("15:04:05.000") + " " + e.Method
		if len(e.Params) > 0 {
			line += " " + gjson.GetBytes(e.Params, "@ugly").Raw
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if result.Dropped > 0 {
		_, err := fmt.Fprintf(w, "(%d older events dropped)\n", result.Dropped)
		return err
	}
	return nil
}
