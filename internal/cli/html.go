package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/htmlformat"
	"github.com/grantcarthew/cdpmux/internal/page"
)

// documentHTML serializes the document including its doctype.
const documentHTML = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : "") + document.documentElement.outerHTML`

var htmlCmd = &cobra.Command{
	Use:   "html <url>",
	Short: "Print the HTML of a page",
	Long: `Navigates a new page to the URL, waits for the load event and prints the
document's HTML, indented for reading.

With --selector only the first matching element is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runHTML,
}

func init() {
	htmlCmd.Flags().String("selector", "", "Print only the first element matching this selector")
	htmlCmd.Flags().Bool("raw", false, "Print the HTML as serialized by the browser")
	rootCmd.AddCommand(htmlCmd)
}

func runHTML(cmd *cobra.Command, args []string) error {
	selector, _ := cmd.Flags().GetString("selector")
	raw, _ := cmd.Flags().GetBool("raw")

	var source string
	err := withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		if err := openURL(cmd.Context(), p, args[0]); err != nil {
			return err
		}
		var err error
		source, err = pageHTML(cmd.Context(), p, selector)
		return err
	})
	if err != nil {
		return outputError(err.Error())
	}

	if !raw {
		formatted, err := htmlformat.Format(source)
		if err != nil {
			return outputError(fmt.Sprintf("failed to format HTML: %v", err))
		}
		source = formatted
	}

	return outputSuccess(map[string]string{"html": source}, func(w io.Writer) error {
		_, err := io.WriteString(w, strings.TrimRight(source, "\n")+"\n")
		return err
	})
}

func pageHTML(ctx context.Context, p *page.Page, selector string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout())
	defer cancel()

	var (
		v   any
		err error
	)
	if selector != "" {
		main := p.MainFrame()
		if main == nil {
			return "", fmt.Errorf("page has no main frame")
		}
		v, err = main.EvalOnSelector(ctx, selector, "element => element.outerHTML")
	} else {
		v, err = p.Evaluate(ctx, documentHTML)
	}
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected HTML result %T", v)
	}
	return s, nil
}
