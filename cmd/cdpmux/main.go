package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/grantcarthew/cdpmux/internal/cli"
)

var (
	exclusiveFlagsRe = regexp.MustCompile(`\[([^\]]+)\] were all set`)
	argCountRe       = regexp.MustCompile(`^(?:accepts (\d+) arg\(s\), received (\d+)|requires at least (\d+) arg\(s\), only received (\d+))$`)
	unknownCommandRe = regexp.MustCompile(`^unknown command "([^"]*)" for "cdpmux"`)
)

// formatCobraError rewrites cobra's argument and flag errors into the
// messages cdpmux prints.
func formatCobraError(err error) string {
	msg := err.Error()

	// "if any flags in the group [props selector] are set none of the others can be; [props selector] were all set"
	if strings.Contains(msg, "none of the others can be") {
		if m := exclusiveFlagsRe.FindStringSubmatch(msg); len(m) > 1 {
			flags := strings.Fields(m[1])
			for i := range flags {
				flags[i] = "--" + flags[i]
			}
			return fmt.Sprintf("%s cannot be used together", strings.Join(flags, " and "))
		}
	}

	if m := argCountRe.FindStringSubmatch(msg); m != nil {
		if m[1] != "" {
			return fmt.Sprintf("expected %s %s, got %s (see --help)", m[1], plural(m[1], "argument"), m[2])
		}
		return fmt.Sprintf("expected at least %s %s, got %s (see --help)", m[3], plural(m[3], "argument"), m[4])
	}

	if m := unknownCommandRe.FindStringSubmatch(msg); m != nil {
		return fmt.Sprintf("unknown command %q, run 'cdpmux --help' for the command list", m[1])
	}

	return msg
}

func plural(n, word string) string {
	if n == "1" {
		return word
	}
	return word + "s"
}

func main() {
	err := cli.Execute()
	if err == nil {
		return
	}
	// Command handlers print their own failures.
	if !cli.IsPrintedError(err) {
		msg := formatCobraError(err)
		if cli.JSONOutput {
			_ = json.NewEncoder(os.Stderr).Encode(map[string]any{"ok": false, "error": msg})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
	}
	os.Exit(1)
}
