package page

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	cdpio "github.com/chromedp/cdproto/io"
	"github.com/chromedp/cdproto/tracing"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/cdp"
)

const eventTracingComplete = "Tracing.tracingComplete"

var (
	// ErrTracingActive is returned by Start while a trace is recording.
	ErrTracingActive = errors.New("tracing already started")
	// ErrTracingNotStarted is returned by Stop when nothing is recording.
	ErrTracingNotStarted = errors.New("tracing not started")
)

// DefaultTraceCategories are the categories the DevTools performance panel
// records. A leading "-" excludes a category.
var DefaultTraceCategories = []string{
	"-*",
	"devtools.timeline",
	"v8.execute",
	"disabled-by-default-devtools.timeline",
	"disabled-by-default-devtools.timeline.frame",
	"toplevel",
	"blink.console",
	"blink.user_timing",
	"latencyInfo",
	"disabled-by-default-devtools.timeline.stack",
	"disabled-by-default-v8.cpu_profiler",
}

const screenshotCategory = "disabled-by-default-devtools.screenshot"

// TraceOptions configures one recording.
type TraceOptions struct {
	// Categories replaces DefaultTraceCategories when set.
	Categories []string
	// Screenshots adds filmstrip screenshots to the trace.
	Screenshots bool
}

// TraceResult describes a finished recording.
type TraceResult struct {
	Bytes            int64
	DataLossOccurred bool
}

// Tracer records performance traces of a page. One trace records at a time.
type Tracer struct {
	session Session
	logger  *zap.Logger

	mu          sync.Mutex
	recording   bool
	complete    chan tracing.EventTracingComplete
	unsubscribe func()
}

// NewTracer returns a Tracer that runs on session.
func NewTracer(session Session, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{session: session, logger: logger.Named("page.tracing")}
}

// Recording reports whether a trace is in progress.
func (t *Tracer) Recording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording
}

// Start begins recording. The trace is kept by the browser as a stream
// until Stop reads it.
func (t *Tracer) Start(ctx context.Context, opts TraceOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recording {
		return ErrTracingActive
	}

	categories := opts.Categories
	if len(categories) == 0 {
		categories = DefaultTraceCategories
	}
	if opts.Screenshots {
		categories = append(append([]string(nil), categories...), screenshotCategory)
	}

	complete := make(chan tracing.EventTracingComplete, 1)
	unsubscribe := t.session.On([]string{eventTracingComplete}, func(evt cdp.Event) {
		var ev tracing.EventTracingComplete
		if err := easyjson.Unmarshal(evt.Params, &ev); err != nil {
			t.logger.Error("dropping undecodable event", zap.String("method", evt.Method), zap.Error(err))
			return
		}
		select {
		case complete <- ev:
		default:
		}
	})

	params := tracing.Start().
		WithTransferMode(tracing.TransferModeReturnAsStream).
		WithTraceConfig(traceConfig(categories))
	if _, err := t.session.SendContext(ctx, tracing.CommandStart, params); err != nil {
		unsubscribe()
		return fmt.Errorf("failed to start tracing: %w", err)
	}

	t.recording = true
	t.complete = complete
	t.unsubscribe = unsubscribe
	t.logger.Debug("tracing started", zap.Strings("categories", categories))
	return nil
}

// Stop ends the recording and copies the trace to w.
func (t *Tracer) Stop(ctx context.Context, w io.Writer) (TraceResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.recording {
		return TraceResult{}, ErrTracingNotStarted
	}
	defer func() {
		t.recording = false
		t.unsubscribe()
	}()

	if _, err := t.session.SendContext(ctx, tracing.CommandEnd, tracing.End()); err != nil {
		return TraceResult{}, fmt.Errorf("failed to end tracing: %w", err)
	}

	var done tracing.EventTracingComplete
	select {
	case done = <-t.complete:
	case <-ctx.Done():
		return TraceResult{}, fmt.Errorf("waiting for trace: %w", ctx.Err())
	}
	if done.Stream == "" {
		return TraceResult{}, fmt.Errorf("trace completed without a stream")
	}

	n, err := t.readStream(ctx, done.Stream, w)
	if err != nil {
		return TraceResult{}, err
	}
	t.logger.Debug("tracing stopped", zap.Int64("bytes", n), zap.Bool("dataLoss", done.DataLossOccurred))
	return TraceResult{Bytes: n, DataLossOccurred: done.DataLossOccurred}, nil
}

// readStream copies a protocol stream to w and closes it.
func (t *Tracer) readStream(ctx context.Context, handle cdpio.StreamHandle, w io.Writer) (int64, error) {
	defer func() {
		if _, err := t.session.SendContext(ctx, cdpio.CommandClose, cdpio.Close(handle)); err != nil {
			t.logger.Warn("failed to close stream", zap.String("handle", string(handle)), zap.Error(err))
		}
	}()

	var total int64
	for {
		raw, err := t.session.SendContext(ctx, cdpio.CommandRead, cdpio.Read(handle))
		if err != nil {
			return total, fmt.Errorf("failed to read trace: %w", err)
		}
		var chunk cdpio.ReadReturns
		if err := easyjson.Unmarshal(raw, &chunk); err != nil {
			return total, fmt.Errorf("failed to parse trace chunk: %w", err)
		}

		data := []byte(chunk.Data)
		if chunk.Base64encoded {
			if data, err = base64.StdEncoding.DecodeString(chunk.Data); err != nil {
				return total, fmt.Errorf("failed to decode trace chunk: %w", err)
			}
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write trace: %w", err)
		}
		if chunk.EOF {
			return total, nil
		}
	}
}

// traceConfig splits categories into included and "-" prefixed excluded ones.
func traceConfig(categories []string) *tracing.TraceConfig {
	cfg := &tracing.TraceConfig{}
	for _, c := range categories {
		if name, ok := strings.CutPrefix(c, "-"); ok {
			cfg.ExcludedCategories = append(cfg.ExcludedCategories, name)
		} else {
			cfg.IncludedCategories = append(cfg.IncludedCategories, c)
		}
	}
	return cfg
}
