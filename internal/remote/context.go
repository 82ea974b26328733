package remote

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// HandleFactory wraps a remote object payload in a handle bound to ec.
type HandleFactory func(ec *ExecutionContext, obj *runtime.RemoteObject) Handle

// ExecutionContext is a JavaScript realm in a frame, identified by the
// browser-assigned context id.
type ExecutionContext struct {
	client  Client
	id      runtime.ExecutionContextID
	name    string
	origin  string
	frameID string
	isDef   bool

	factory   HandleFactory
	logger    *zap.Logger
	destroyed atomic.Bool
}

// NewExecutionContext creates an execution context from a
// Runtime.executionContextCreated payload.
func NewExecutionContext(client Client, desc *runtime.ExecutionContextDescription, logger *zap.Logger) *ExecutionContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	aux := []byte(desc.AuxData)
	return &ExecutionContext{
		client:  client,
		id:      desc.ID,
		name:    desc.Name,
		origin:  desc.Origin,
		frameID: gjson.GetBytes(aux, "frameId").String(),
		isDef:   gjson.GetBytes(aux, "isDefault").Bool(),
		factory: NewHandle,
		logger:  logger.Named("remote").With(zap.Int64("contextId", int64(desc.ID))),
	}
}

// ID returns the context id.
func (ec *ExecutionContext) ID() runtime.ExecutionContextID { return ec.id }

// Name returns the context name; empty for a frame's main world.
func (ec *ExecutionContext) Name() string { return ec.name }

// Origin returns the security origin of the context.
func (ec *ExecutionContext) Origin() string { return ec.origin }

// FrameID returns the id of the frame the context belongs to, if any.
func (ec *ExecutionContext) FrameID() string { return ec.frameID }

// IsDefault reports whether this is the frame's default (main world) context.
func (ec *ExecutionContext) IsDefault() bool { return ec.isDef }

// MarkDestroyed makes every later call on the context fail with ErrContextDestroyed.
func (ec *ExecutionContext) MarkDestroyed() { ec.destroyed.Store(true) }

// Destroyed reports whether the browser destroyed the context.
func (ec *ExecutionContext) Destroyed() bool { return ec.destroyed.Load() }

// Evaluate evaluates expression and returns its JSON value. The
// intermediate handle is always disposed.
func (ec *ExecutionContext) Evaluate(ctx context.Context, expression string, args ...any) (any, error) {
	h, err := ec.EvaluateHandle(ctx, expression, args...)
	if err != nil {
		return nil, err
	}
	defer h.Dispose(ctx)
	return h.JSONValue(ctx)
}

// EvaluateHandle evaluates expression and returns a handle to the result.
//
// If the expression evaluates to a function, the function is called with
// args and the handle refers to its return value. Promises are awaited.
func (ec *ExecutionContext) EvaluateHandle(ctx context.Context, expression string, args ...any) (Handle, error) {
	if ec.Destroyed() {
		return nil, ErrContextDestroyed
	}

	params := runtime.Evaluate(expression).
		WithContextID(ec.id).
		WithReturnByValue(false).
		WithAwaitPromise(true)

	var res runtime.EvaluateReturns
	raw, err := call(ctx, ec.client, runtime.CommandEvaluate, params, &res)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, newEvaluationError(raw)
	}
	if res.Result == nil {
		return nil, fmt.Errorf("evaluating expression: empty result")
	}

	obj := res.Result
	if obj.Type == runtime.TypeFunction && obj.ObjectID != "" {
		fn := obj.ObjectID
		obj, err = ec.callFunction(ctx, expression, fn, args)
		release(ctx, ec.client, fn, ec.logger)
		if err != nil {
			return nil, err
		}
	} else if len(args) > 0 {
		ec.logger.Debug("arguments ignored for non-function expression", zap.Int("args", len(args)))
	}

	ec.logger.Debug("evaluated", zap.String("type", string(obj.Type)), zap.String("subtype", string(obj.Subtype)))
	return ec.factory(ec, obj), nil
}

// callFunction invokes declaration on the function object fn with args.
func (ec *ExecutionContext) callFunction(ctx context.Context, declaration string, fn runtime.RemoteObjectID, args []any) (*runtime.RemoteObject, error) {
	arguments := make([]*runtime.CallArgument, 0, len(args))
	for i, arg := range args {
		ca, err := ec.ConvertArgument(arg)
		if err != nil {
			return nil, fmt.Errorf("converting argument %d: %w", i, err)
		}
		arguments = append(arguments, ca)
	}

	params := runtime.CallFunctionOn(declaration).
		WithObjectID(fn).
		WithArguments(arguments).
		WithReturnByValue(false).
		WithAwaitPromise(true)

	var res runtime.CallFunctionOnReturns
	raw, err := call(ctx, ec.client, runtime.CommandCallFunctionOn, params, &res)
	if err != nil {
		return nil, fmt.Errorf("calling function: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, newEvaluationError(raw)
	}
	if res.Result == nil {
		return nil, fmt.Errorf("calling function: empty result")
	}
	return res.Result, nil
}

// QueryObjects returns an array handle of every object in the heap whose
// prototype chain includes prototype.
func (ec *ExecutionContext) QueryObjects(ctx context.Context, prototype Handle) (Handle, error) {
	if ec.Destroyed() {
		return nil, ErrContextDestroyed
	}
	if prototype.Disposed() {
		return nil, &DisposedHandleError{ObjectID: prototype.RemoteObject().ObjectID}
	}
	id := prototype.RemoteObject().ObjectID
	if id == "" {
		return nil, fmt.Errorf("prototype handle must not reference a primitive value")
	}

	var res runtime.QueryObjectsReturns
	if _, err := call(ctx, ec.client, runtime.CommandQueryObjects, runtime.QueryObjects(id), &res); err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	if res.Objects == nil {
		return nil, fmt.Errorf("querying objects: empty result")
	}
	return ec.factory(ec, res.Objects), nil
}

// release frees a remote object. Failures are logged and ignored; the
// object may already be gone with its context.
func release(ctx context.Context, c Client, id runtime.RemoteObjectID, logger *zap.Logger) {
	if id == "" {
		return
	}
	if _, err := c.SendContext(ctx, runtime.CommandReleaseObject, runtime.ReleaseObject(id)); err != nil {
		logger.Debug("release failed", zap.String("objectId", string(id)), zap.Error(err))
	}
}
