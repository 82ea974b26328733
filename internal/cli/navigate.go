package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/page"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <url>",
	Short: "Navigate to URL",
	Long: `Opens a new page, navigates it to the URL and waits for the load event.
Prints the final URL, the document title and the number of frames.`,
	Args: cobra.ExactArgs(1),
	RunE: runNavigate,
}

func init() {
	navigateCmd.Flags().String("referrer", "", "Referrer to send with the navigation")
	rootCmd.AddCommand(navigateCmd)
}

// normalizeURL adds protocol to URL if missing.
// Uses http:// for localhost/127.0.0.1/0.0.0.0, https:// otherwise.
func normalizeURL(url string) string {
	if strings.Contains(url, "://") || strings.HasPrefix(url, "about:") || strings.HasPrefix(url, "data:") {
		return url
	}

	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "localhost") ||
		strings.HasPrefix(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "0.0.0.0") {
		return "http://" + url
	}

	return "https://" + url
}

type navigateResult struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Frames int    `json:"frames"`
}

func runNavigate(cmd *cobra.Command, args []string) error {
	referrer, _ := cmd.Flags().GetString("referrer")

	var result navigateResult
	err := withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		ctx := cmd.Context()
		if err := p.Navigate(ctx, normalizeURL(args[0]), page.NavigateOptions{
			Referrer:    referrer,
			WaitForLoad: true,
		}); err != nil {
			return err
		}

		result = navigateResult{URL: p.URL(), Frames: len(p.Frames())}
		title, err := documentTitle(ctx, p)
		if err != nil {
			return err
		}
		result.Title = title
		return nil
	})
	if err != nil {
		return outputError(err.Error())
	}

	return outputSuccess(result, func(w io.Writer) error {
		fmt.Fprintf(w, "URL:    %s\n", result.URL)
		fmt.Fprintf(w, "Title:  %s\n", result.Title)
		_, err := fmt.Fprintf(w, "Frames: %d\n", result.Frames)
		return err
	})
}

func documentTitle(ctx context.Context, p *page.Page) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout())
	defer cancel()

	v, err := p.Evaluate(ctx, "document.title")
	if err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	title, _ := v.(string)
	return title, nil
}
