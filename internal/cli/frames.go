package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/page"
)

var framesCmd = &cobra.Command{
	Use:   "frames <url>",
	Short: "Print the frame tree of a page",
	Long: `Navigates a new page to the URL, waits for the load event and prints its
frame tree. Frames whose document failed to load are marked.`,
	Args: cobra.ExactArgs(1),
	RunE: runFrames,
}

func init() {
	rootCmd.AddCommand(framesCmd)
}

// frameNode is the JSON form of one frame and its children.
type frameNode struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	URL           string       `json:"url"`
	LoadingFailed bool         `json:"loadingFailed,omitempty"`
	Children      []*frameNode `json:"children,omitempty"`
}

func runFrames(cmd *cobra.Command, args []string) error {
	var root *frameNode
	err := withPage(cmd.Context(), func(_ Browser, p *page.Page) error {
		if err := openURL(cmd.Context(), p, args[0]); err != nil {
			return err
		}
		main := p.MainFrame()
		if main == nil {
			return fmt.Errorf("page has no main frame")
		}
		root = buildFrameNode(main)
		return nil
	})
	if err != nil {
		return outputError(err.Error())
	}

	return outputSuccess(root, func(w io.Writer) error {
		return formatFrameTree(w, root, 0)
	})
}

func buildFrameNode(f *page.Frame) *frameNode {
	node := &frameNode{
		ID:            f.ID(),
		Name:          f.Name(),
		URL:           f.URL(),
		LoadingFailed: f.LoadingFailed(),
	}
	for _, child := range f.ChildFrames() {
		node.Children = append(node.Children, buildFrameNode(child))
	}
	return node
}

// formatFrameTree writes each frame on its own line, indented by depth.
func formatFrameTree(w io.Writer, node *frameNode, depth int) error {
	line := strings.Repeat("  ", depth) + node.URL
	if node.Name != "" {
		line += fmt.Sprintf(" (%s)", node.Name)
	}
	if node.LoadingFailed {
		line += " [failed]"
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, child := range node.Children {
		if err := formatFrameTree(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
