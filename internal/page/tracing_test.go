package page

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	cdpio "github.com/chromedp/cdproto/io"
	"github.com/chromedp/cdproto/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// traceStream makes Tracing.end complete with stream "ST" and serves chunks
// from IO.read in order, the last one flagged eof.
func traceStream(fs *fakeSession, chunks ...string) {
	fs.on(tracing.CommandEnd, func(gjson.Result) (string, error) {
		fs.emit(eventTracingComplete, `{"dataLossOccurred":false,"stream":"ST","traceFormat":"json"}`)
		return `{}`, nil
	})
	next := 0
	fs.on(cdpio.CommandRead, func(params gjson.Result) (string, error) {
		if params.Get("handle").String() != "ST" {
			return "", errors.New("unknown stream")
		}
		chunk := chunks[next]
		next++
		if next == len(chunks) {
			return `{"data":"` + chunk + `","eof":true}`, nil
		}
		return `{"data":"` + chunk + `"}`, nil
	})
}

func TestTracer_StartStop(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	tr := NewTracer(fs, nil)
	traceStream(fs, `{\"traceEvents\":[`, `]}`)

	require.NoError(t, tr.Start(context.Background(), TraceOptions{Screenshots: true}))
	assert.True(t, tr.Recording())

	start := gjson.ParseBytes(fs.callsTo(tracing.CommandStart)[0].Params)
	assert.Equal(t, "ReturnAsStream", start.Get("transferMode").String())
	assert.Equal(t, `["*"]`, start.Get("traceConfig.excludedCategories").Raw)
	included := start.Get("traceConfig.includedCategories").Array()
	require.NotEmpty(t, included)
	assert.Equal(t, "devtools.timeline", included[0].String())
	assert.Equal(t, screenshotCategory, included[len(included)-1].String())

	var buf bytes.Buffer
	res, err := tr.Stop(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, `{"traceEvents":[]}`, buf.String())
	assert.Equal(t, int64(buf.Len()), res.Bytes)
	assert.False(t, res.DataLossOccurred)
	assert.False(t, tr.Recording())

	assert.Len(t, fs.callsTo(cdpio.CommandRead), 2)
	closes := fs.callsTo(cdpio.CommandClose)
	require.Len(t, closes, 1)
	assert.Equal(t, "ST", gjson.GetBytes(closes[0].Params, "handle").String())
	assert.Equal(t, 0, fs.subscriptions())
}

func TestTracer_Base64Chunks(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	tr := NewTracer(fs, nil)
	fs.on(tracing.CommandEnd, func(gjson.Result) (string, error) {
		fs.emit(eventTracingComplete, `{"dataLossOccurred":true,"stream":"ST"}`)
		return `{}`, nil
	})
	encoded := base64.StdEncoding.EncodeToString([]byte("gzip bytes"))
	fs.on(cdpio.CommandRead, reply(`{"base64Encoded":true,"data":"`+encoded+`","eof":true}`))

	require.NoError(t, tr.Start(context.Background(), TraceOptions{Categories: []string{"v8"}}))
	start := gjson.ParseBytes(fs.callsTo(tracing.CommandStart)[0].Params)
	assert.Equal(t, `["v8"]`, start.Get("traceConfig.includedCategories").Raw)
	assert.False(t, start.Get("traceConfig.excludedCategories").Exists())

	var buf bytes.Buffer
	res, err := tr.Stop(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "gzip bytes", buf.String())
	assert.True(t, res.DataLossOccurred)
}

func TestTracer_StartTwice(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	tr := NewTracer(fs, nil)

	require.NoError(t, tr.Start(context.Background(), TraceOptions{}))
	assert.ErrorIs(t, tr.Start(context.Background(), TraceOptions{}), ErrTracingActive)
	assert.Len(t, fs.callsTo(tracing.CommandStart), 1)
}

func TestTracer_StopWithoutStart(t *testing.T) {
	t.Parallel()

	tr := NewTracer(newFakeSession(), nil)

	_, err := tr.Stop(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrTracingNotStarted)
}

func TestTracer_StartFailure(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	fs.on(tracing.CommandStart, func(gjson.Result) (string, error) {
		return "", errors.New("Tracing is already started")
	})
	tr := NewTracer(fs, nil)

	assert.Error(t, tr.Start(context.Background(), TraceOptions{}))
	assert.False(t, tr.Recording())
	assert.Equal(t, 0, fs.subscriptions())
}

func TestTracer_StopWaitsForCompletion(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	tr := NewTracer(fs, nil)
	require.NoError(t, tr.Start(context.Background(), TraceOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Stop(ctx, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tr.Recording())
	assert.Empty(t, fs.callsTo(cdpio.CommandRead))
}

func TestPage_Tracer(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})
	traceStream(fs, `[]`)

	require.NoError(t, p.Tracer().Start(context.Background(), TraceOptions{}))
	var buf bytes.Buffer
	_, err := p.Tracer().Stop(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "[]", buf.String())
}
