package cli

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grantcarthew/cdpmux/internal/remote"
)

func TestParseArg(t *testing.T) {
	if v, ok := parseArg("NaN").(float64); !ok || !math.IsNaN(v) {
		t.Errorf("NaN parsed as %v", parseArg("NaN"))
	}
	if v := parseArg("Infinity"); v != math.Inf(1) {
		t.Errorf("Infinity parsed as %v", v)
	}
	if v := parseArg("-Infinity"); v != math.Inf(-1) {
		t.Errorf("-Infinity parsed as %v", v)
	}
	if v, ok := parseArg("-0").(float64); !ok || v != 0 || !math.Signbit(v) {
		t.Errorf("-0 parsed as %v", parseArg("-0"))
	}

	if v := parseArg("42"); v != float64(42) {
		t.Errorf("42 parsed as %#v", v)
	}
	if v := parseArg("true"); v != true {
		t.Errorf("true parsed as %#v", v)
	}
	if v := parseArg("null"); v != nil {
		t.Errorf("null parsed as %#v", v)
	}
	if v, ok := parseArg(`{"a":[1]}`).(map[string]any); !ok || v["a"] == nil {
		t.Errorf("object parsed as %#v", parseArg(`{"a":[1]}`))
	}
	if v := parseArg("hello world"); v != "hello world" {
		t.Errorf("plain text parsed as %#v", v)
	}
}

func TestDisplayValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"NaN", math.NaN(), "NaN"},
		{"Infinity", math.Inf(1), "Infinity"},
		{"-Infinity", math.Inf(-1), "-Infinity"},
		{"-0", math.Copysign(0, -1), "-0"},
		{"0", float64(0), float64(0)},
		{"bigint", big.NewInt(12345), "12345n"},
		{"string", "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayValue(tt.in); got != tt.want {
				t.Errorf("displayValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}

	nested := displayValue(map[string]any{"list": []any{math.Inf(1), 1.0}}).(map[string]any)
	if list := nested["list"].([]any); list[0] != "Infinity" || list[1] != 1.0 {
		t.Errorf("nested values not replaced: %v", nested)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"undefined", nil, "undefined\n"},
		{"string", "Fake Title", "Fake Title\n"},
		{"number", 2.5, "2.5\n"},
		{"array", []any{1.0, "a"}, "[\n  1,\n  \"a\"\n]\n"},
		{"object", map[string]any{"b": 1.0, "a": "x"}, "a: \"x\"\nb: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := formatValue(&buf, tt.in); err != nil {
				t.Fatalf("formatValue: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_sent_total",
		Help: "test",
	}, []string{"scope"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_pending", Help: "test"})
	reg.MustRegister(counter, gauge)

	counter.WithLabelValues("browser").Add(3)
	gauge.Set(2)

	var buf bytes.Buffer
	writeMetrics(&buf, reg)

	out := buf.String()
	if !strings.Contains(out, `test_sent_total{scope="browser"} 3`) {
		t.Errorf("missing counter line:\n%s", out)
	}
	if !strings.Contains(out, "test_pending{} 2") {
		t.Errorf("missing gauge line:\n%s", out)
	}
}

func TestFormatTargets_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := formatTargets(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No targets\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

// stubHandle answers JSONValue with value or err and records disposal.
type stubHandle struct {
	remote.Handle
	value    any
	err      error
	disposed bool
}

func (h *stubHandle) AsElement() *remote.ElementHandle { return nil }

func (h *stubHandle) JSONValue(context.Context) (any, error) { return h.value, h.err }

func (h *stubHandle) Dispose(context.Context) { h.disposed = true }

func TestPropertyValues(t *testing.T) {
	handles := map[string]remote.Handle{
		"a": &stubHandle{value: 1.0},
		"b": &stubHandle{value: "x"},
	}
	got, err := propertyValues(context.Background(), handles)
	if err != nil {
		t.Fatalf("propertyValues: %v", err)
	}
	if got["a"] != 1.0 || got["b"] != "x" {
		t.Errorf("unexpected values %v", got)
	}
	for name, h := range handles {
		if !h.(*stubHandle).disposed {
			t.Errorf("handle %s not disposed", name)
		}
	}
}

func TestPropertyValues_FailureDisposesAll(t *testing.T) {
	handles := map[string]remote.Handle{
		"a":   &stubHandle{value: 1.0},
		"bad": &stubHandle{err: errors.New("object reference chain is too long")},
		"c":   &stubHandle{value: 3.0},
		"d":   &stubHandle{value: 4.0},
	}
	if _, err := propertyValues(context.Background(), handles); err == nil || !strings.Contains(err.Error(), "property bad") {
		t.Fatalf("expected property bad error, got %v", err)
	}
	for name, h := range handles {
		if !h.(*stubHandle).disposed {
			t.Errorf("handle %s not disposed after failure", name)
		}
	}
}
