package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/chromedp/cdproto/runtime"
)

// valueFromRemoteObject returns the inline value of a remote object.
// Special numbers come back as float64 -0, NaN and ±Inf, and bigints as *big.Int.
func valueFromRemoteObject(obj *runtime.RemoteObject) (any, error) {
	if uv := obj.UnserializableValue; uv != "" {
		switch uv {
		case tokenNegZero:
			return math.Copysign(0, -1), nil
		case tokenNaN:
			return math.NaN(), nil
		case tokenInfinity:
			return math.Inf(1), nil
		case tokenNegInfinity:
			return math.Inf(-1), nil
		}
		if s := string(uv); strings.HasSuffix(s, "n") {
			if n, ok := new(big.Int).SetString(strings.TrimSuffix(s, "n"), 10); ok {
				return n, nil
			}
		}
		return nil, &UnserializableValueError{Value: uv}
	}

	if obj.Type == runtime.TypeUndefined || len(obj.Value) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(obj.Value, &v); err != nil {
		return nil, fmt.Errorf("decoding remote value: %w", err)
	}
	return v, nil
}
