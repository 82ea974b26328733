package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
)

// Handle is a reference to a value in an execution context. Handles that
// hold an object id keep the remote object alive until disposed.
type Handle interface {
	ExecutionContext() *ExecutionContext
	RemoteObject() *runtime.RemoteObject
	JSONValue(ctx context.Context) (any, error)
	GetProperty(ctx context.Context, name string) (Handle, error)
	GetProperties(ctx context.Context) (map[string]Handle, error)
	AsElement() *ElementHandle
	Dispose(ctx context.Context)
	Disposed() bool
	String() string
}

// NewHandle is the default HandleFactory: DOM nodes become
// *ElementHandle, everything else *JSHandle.
func NewHandle(ec *ExecutionContext, obj *runtime.RemoteObject) Handle {
	h := &JSHandle{ec: ec, client: ec.client, obj: obj, logger: ec.logger}
	if obj.Subtype == runtime.SubtypeNode {
		return &ElementHandle{JSHandle: h}
	}
	return h
}

// JSHandle is a handle to an arbitrary JavaScript value.
type JSHandle struct {
	ec       *ExecutionContext
	client   Client
	obj      *runtime.RemoteObject
	logger   *zap.Logger
	disposed atomic.Bool
}

// ExecutionContext returns the context the handle was created in.
func (h *JSHandle) ExecutionContext() *ExecutionContext { return h.ec }

// RemoteObject returns the raw protocol payload.
func (h *JSHandle) RemoteObject() *runtime.RemoteObject { return h.obj }

// Disposed reports whether Dispose was called.
func (h *JSHandle) Disposed() bool { return h.disposed.Load() }

// AsElement returns nil; see ElementHandle.
func (h *JSHandle) AsElement() *ElementHandle { return nil }

func (h *JSHandle) checkLive() error {
	if h.Disposed() {
		return &DisposedHandleError{ObjectID: h.obj.ObjectID}
	}
	return nil
}

// JSONValue returns the JSON value of the referenced object. Objects are
// serialized with JSON.stringify in the page; values that are not
// JSON-representable come back as nil.
func (h *JSHandle) JSONValue(ctx context.Context) (any, error) {
	if err := h.checkLive(); err != nil {
		return nil, err
	}
	if h.obj.ObjectID == "" {
		return valueFromRemoteObject(h.obj)
	}

	v, err := h.ec.Evaluate(ctx, `object => JSON.stringify(object)`, h)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decoding JSON value: %w", err)
	}
	return out, nil
}

// GetProperties returns the handle's own enumerable properties.
func (h *JSHandle) GetProperties(ctx context.Context) (map[string]Handle, error) {
	if err := h.checkLive(); err != nil {
		return nil, err
	}
	result := make(map[string]Handle)
	if h.obj.ObjectID == "" {
		return result, nil
	}

	var res runtime.GetPropertiesReturns
	params := runtime.GetProperties(h.obj.ObjectID).WithOwnProperties(true)
	if _, err := call(ctx, h.client, runtime.CommandGetProperties, params, &res); err != nil {
		return nil, fmt.Errorf("getting properties: %w", err)
	}
	for _, p := range res.Result {
		if !p.Enumerable || p.Value == nil {
			continue
		}
		result[p.Name] = h.ec.factory(h.ec, p.Value)
	}
	return result, nil
}

// GetProperty returns a handle to the named property.
func (h *JSHandle) GetProperty(ctx context.Context, name string) (Handle, error) {
	if err := h.checkLive(); err != nil {
		return nil, err
	}

	holder, err := h.ec.EvaluateHandle(ctx, `(object, propertyName) => {
		const result = {__proto__: null};
		result[propertyName] = object[propertyName];
		return result;
	}`, h, name)
	if err != nil {
		return nil, err
	}
	defer holder.Dispose(ctx)

	props, err := holder.GetProperties(ctx)
	if err != nil {
		return nil, err
	}
	return props[name], nil
}

// Dispose releases the remote object. Only the first call sends a release;
// failures are ignored.
func (h *JSHandle) Dispose(ctx context.Context) {
	if !h.disposed.CompareAndSwap(false, true) {
		return
	}
	release(ctx, h.client, h.obj.ObjectID, h.logger)
}

func (h *JSHandle) String() string {
	if h.obj.ObjectID != "" {
		kind := string(h.obj.Subtype)
		if kind == "" {
			kind = string(h.obj.Type)
		}
		return "JSHandle@" + kind
	}
	v, err := valueFromRemoteObject(h.obj)
	if err != nil {
		return "JSHandle:" + string(h.obj.UnserializableValue)
	}
	return fmt.Sprintf("JSHandle:%v", v)
}
