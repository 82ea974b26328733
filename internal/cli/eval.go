package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/page"
	"github.com/grantcarthew/cdpmux/internal/remote"
)

var evalCmd = &cobra.Command{
	Use:   "eval <expression> [args...]",
	Short: "Evaluate JavaScript in a page",
	Long: `Evaluates a JavaScript expression in the main frame of a new page and
prints the result.

If the expression is a function it is called with the remaining arguments.
Each argument is parsed as JSON; NaN, Infinity, -Infinity and -0 are passed
as those numbers and anything else is passed as a string.

Examples:
  cdpmux eval '1 + 1'
  cdpmux eval --url example.com 'document.title'
  cdpmux eval '(a, b) => a * b' 6 7
  cdpmux eval --selector a 'links => links.map(l => l.href)' --url example.com
  cdpmux eval --props 'window.location'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().String("url", "", "Navigate to URL before evaluating")
	evalCmd.Flags().String("selector", "", "Call the expression with every element matching the selector")
	evalCmd.Flags().Bool("props", false, "Print the result's own enumerable properties")
	evalCmd.MarkFlagsMutuallyExclusive("selector", "props")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	selector, _ := cmd.Flags().GetString("selector")
	props, _ := cmd.Flags().GetBool("props")

	expression := args[0]
	callArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		callArgs = append(callArgs, parseArg(a))
	}

	var result any
	err := withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		ctx := cmd.Context()
		if url != "" {
			if err := openURL(ctx, p, url); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(ctx, commandTimeout())
		defer cancel()

		var err error
		switch {
		case selector != "":
			main := p.MainFrame()
			if main == nil {
				return fmt.Errorf("page has no main frame")
			}
			result, err = main.EvalOnSelectorAll(ctx, selector, expression, callArgs...)
		case props:
			result, err = evalProperties(ctx, p, expression, callArgs)
		default:
			result, err = p.Evaluate(ctx, expression, callArgs...)
		}
		return err
	})
	if err != nil {
		return outputError(err.Error())
	}

	result = displayValue(result)
	return outputSuccess(result, func(w io.Writer) error {
		return formatValue(w, result)
	})
}

// evalProperties evaluates expression to a handle and returns the JSON
// value of each of its own enumerable properties.
func evalProperties(ctx context.Context, p *page.Page, expression string, args []any) (map[string]any, error) {
	h, err := p.EvaluateHandle(ctx, expression, args...)
	if err != nil {
		return nil, err
	}
	defer h.Dispose(ctx)

	handles, err := h.GetProperties(ctx)
	if err != nil {
		return nil, err
	}
	return propertyValues(ctx, handles)
}

// propertyValues reads every handle and disposes all of them, including
// those not yet read when one fails.
func propertyValues(ctx context.Context, handles map[string]remote.Handle) (map[string]any, error) {
	defer func() {
		for _, prop := range handles {
			prop.Dispose(ctx)
		}
	}()

	out := make(map[string]any, len(handles))
	for name, prop := range handles {
		v, err := propertyValue(ctx, prop)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func propertyValue(ctx context.Context, h remote.Handle) (any, error) {
	if h.AsElement() != nil {
		return h.String(), nil
	}
	return h.JSONValue(ctx)
}

// parseArg converts a command line argument into an evaluation argument.
func parseArg(s string) any {
	switch s {
	case "NaN":
		return math.NaN()
	case "Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	case "-0":
		return math.Copysign(0, -1)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// displayValue replaces values JSON cannot carry with their JavaScript
// spelling.
func displayValue(v any) any {
	switch x := v.(type) {
	case float64:
		switch {
		case math.IsNaN(x):
			return "NaN"
		case math.IsInf(x, 1):
			return "Infinity"
		case math.IsInf(x, -1):
			return "-Infinity"
		case x == 0 && math.Signbit(x):
			return "-0"
		}
	case *big.Int:
		return x.String() + "n"
	case map[string]any:
		for k, e := range x {
			x[k] = displayValue(e)
		}
	case []any:
		for i, e := range x {
			x[i] = displayValue(e)
		}
	}
	return v
}

// formatValue prints strings raw, undefined as "undefined" and everything
// else as indented JSON with sorted keys.
func formatValue(w io.Writer, v any) error {
	switch x := v.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "undefined")
		return err
	case string:
		_, err := fmt.Fprintln(w, x)
		return err
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			data, err := json.Marshal(x[k])
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s: %s\n", k, data); err != nil {
				return err
			}
		}
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
