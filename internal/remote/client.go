// Package remote evaluates JavaScript in a browser execution context and
// manages the lifetime of the remote objects it returns.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailru/easyjson"
)

// Client sends protocol commands. *cdp.Session satisfies it.
type Client interface {
	SendContext(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// call sends method and decodes the result into out when out is non-nil.
// The raw result is returned for callers that need fields out does not model.
func call(ctx context.Context, c Client, method string, params any, out easyjson.Unmarshaler) (json.RawMessage, error) {
	raw, err := c.SendContext(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if out != nil && len(raw) > 0 {
		if err := easyjson.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return raw, nil
}
