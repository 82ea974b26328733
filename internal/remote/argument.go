package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
)

// Unserializable value tokens understood by the protocol.
const (
	tokenNegZero     runtime.UnserializableValue = "-0"
	tokenNaN         runtime.UnserializableValue = "NaN"
	tokenInfinity    runtime.UnserializableValue = "Infinity"
	tokenNegInfinity runtime.UnserializableValue = "-Infinity"
)

// ConvertArgument encodes arg as a call argument for this context.
//
// Numbers that equal zero are sent as -0, infinities and NaN as their
// tokens, and nil as JSON null. A Handle is passed by reference when it
// holds an object id and by value otherwise; it must belong to ec and must
// not be disposed. Anything else is sent as its JSON encoding.
func (ec *ExecutionContext) ConvertArgument(arg any) (*runtime.CallArgument, error) {
	switch v := arg.(type) {
	case nil:
		return &runtime.CallArgument{Value: easyjson.RawMessage("null")}, nil
	case Handle:
		return ec.handleArgument(v)
	}

	if f, ok := numeric(arg); ok {
		switch {
		case math.IsNaN(f):
			return &runtime.CallArgument{UnserializableValue: tokenNaN}, nil
		case math.IsInf(f, 1):
			return &runtime.CallArgument{UnserializableValue: tokenInfinity}, nil
		case math.IsInf(f, -1):
			return &runtime.CallArgument{UnserializableValue: tokenNegInfinity}, nil
		case f == 0:
			return &runtime.CallArgument{UnserializableValue: tokenNegZero}, nil
		}
	}

	data, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %T: %w", arg, err)
	}
	return &runtime.CallArgument{Value: data}, nil
}

func (ec *ExecutionContext) handleArgument(h Handle) (*runtime.CallArgument, error) {
	obj := h.RemoteObject()
	if h.Disposed() {
		return nil, &DisposedHandleError{ObjectID: obj.ObjectID}
	}
	if owner := h.ExecutionContext(); owner != ec {
		var got runtime.ExecutionContextID
		if owner != nil {
			got = owner.id
		}
		return nil, &ContextMismatchError{Want: ec.id, Got: got}
	}
	if obj.ObjectID != "" {
		return &runtime.CallArgument{ObjectID: obj.ObjectID}, nil
	}
	if obj.UnserializableValue != "" {
		return &runtime.CallArgument{UnserializableValue: obj.UnserializableValue}, nil
	}
	return &runtime.CallArgument{Value: obj.Value}, nil
}

// numeric reports the float64 value of any Go number.
func numeric(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}
