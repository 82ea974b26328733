package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Target is an entry from the /json discovery list.
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// ResolveEndpoint returns the browser WebSocket URL for endpoint.
// ws:// and wss:// URLs are returned unchanged; anything else is treated
// as a host:port (optionally http://) debugging address and resolved
// through /json/version.
func ResolveEndpoint(ctx context.Context, endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}
	info, err := FetchVersion(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("resolve endpoint %s: %w", endpoint, err)
	}
	if info.WebSocketURL == "" {
		return "", fmt.Errorf("resolve endpoint %s: no webSocketDebuggerUrl", endpoint)
	}
	return info.WebSocketURL, nil
}

// FetchTargets retrieves the list of available targets from the debugging address.
// Uses http.DefaultClient which has no timeout; callers must provide a context
// with timeout.
func FetchTargets(ctx context.Context, addr string) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, addr, "/json", &targets); err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from the debugging address.
// Uses http.DefaultClient which has no timeout; callers must provide a context
// with timeout.
func FetchVersion(ctx context.Context, addr string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, addr, "/json/version", &info); err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}
	return &info, nil
}

// FindPageTarget returns the first page-type target from the list.
func FindPageTarget(targets []Target) *Target {
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}

func getJSON(ctx context.Context, addr, path string, out any) error {
	base := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
