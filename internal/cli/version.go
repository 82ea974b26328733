package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/browser"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the browser's product and protocol versions",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().Bool("discovery", false, "Use the HTTP discovery endpoint")
	rootCmd.AddCommand(versionCmd)
}

type versionInfo struct {
	Product         string `json:"product"`
	ProtocolVersion string `json:"protocolVersion"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion,omitempty"`
	WebSocketURL    string `json:"webSocketDebuggerUrl,omitempty"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	discovery, _ := cmd.Flags().GetBool("discovery")

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout())
	defer cancel()

	var (
		info *versionInfo
		err  error
	)
	if discovery {
		info, err = discoverVersion(ctx)
	} else {
		info, err = queryVersion(ctx)
	}
	if err != nil {
		return outputError(err.Error())
	}

	return outputSuccess(info, func(w io.Writer) error {
		fmt.Fprintf(w, "Product:   %s\n", info.Product)
		fmt.Fprintf(w, "Protocol:  %s\n", info.ProtocolVersion)
		if info.JSVersion != "" {
			fmt.Fprintf(w, "V8:        %s\n", info.JSVersion)
		}
		_, err := fmt.Fprintf(w, "UserAgent: %s\n", info.UserAgent)
		return err
	})
}

func queryVersion(ctx context.Context) (*versionInfo, error) {
	b, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	v, err := b.Version(ctx)
	if err != nil {
		return nil, err
	}
	return &versionInfo{
		Product:         v.Product,
		ProtocolVersion: v.ProtocolVersion,
		UserAgent:       v.UserAgent,
		JSVersion:       v.JsVersion,
	}, nil
}

func discoverVersion(ctx context.Context) (*versionInfo, error) {
	if isWebSocketEndpoint(cfg.Endpoint) {
		return nil, fmt.Errorf("--discovery needs a host:port endpoint, got %s", cfg.Endpoint)
	}
	v, err := browser.FetchVersion(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return &versionInfo{
		Product:         v.Browser,
		ProtocolVersion: v.ProtocolVer,
		UserAgent:       v.UserAgent,
		JSVersion:       v.V8Version,
		WebSocketURL:    v.WebSocketURL,
	}, nil
}
