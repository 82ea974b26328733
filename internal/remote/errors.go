package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
)

// ErrContextDestroyed is returned by calls on an execution context the
// browser has destroyed.
var ErrContextDestroyed = errors.New("execution context was destroyed")

// EvaluationError reports an exception thrown by evaluated script.
type EvaluationError struct {
	Text         string
	Description  string
	Stack        string
	LineNumber   int64
	ColumnNumber int64
}

func (e *EvaluationError) Error() string {
	if e.Description != "" {
		return "evaluation failed: " + e.Description
	}
	return "evaluation failed: " + e.Text + e.Stack
}

// newEvaluationError builds an EvaluationError from a command result that
// carries exceptionDetails.
func newEvaluationError(raw []byte) *EvaluationError {
	d := gjson.GetBytes(raw, "exceptionDetails")
	e := &EvaluationError{
		Text:         d.Get("text").String(),
		LineNumber:   d.Get("lineNumber").Int(),
		ColumnNumber: d.Get("columnNumber").Int(),
	}

	if exc := d.Get("exception"); exc.Exists() {
		e.Description = exc.Get("description").String()
		if e.Description == "" {
			e.Description = exc.Get("value").String()
		}
	}

	var stack strings.Builder
	d.Get("stackTrace.callFrames").ForEach(func(_, frame gjson.Result) bool {
		fn := frame.Get("functionName").String()
		if fn == "" {
			fn = "<anonymous>"
		}
		fmt.Fprintf(&stack, "\n    at %s (%s:%d:%d)",
			fn, frame.Get("url").String(), frame.Get("lineNumber").Int(), frame.Get("columnNumber").Int())
		return true
	})
	e.Stack = stack.String()

	return e
}

// DisposedHandleError is returned when a disposed handle is used.
type DisposedHandleError struct {
	ObjectID runtime.RemoteObjectID
}

func (e *DisposedHandleError) Error() string {
	if e.ObjectID == "" {
		return "handle is disposed"
	}
	return fmt.Sprintf("handle %s is disposed", e.ObjectID)
}

// ContextMismatchError is returned when a handle is passed as an argument
// to a context other than the one that created it.
type ContextMismatchError struct {
	Want runtime.ExecutionContextID
	Got  runtime.ExecutionContextID
}

func (e *ContextMismatchError) Error() string {
	return fmt.Sprintf("handle from execution context %d cannot be used in context %d", e.Got, e.Want)
}

// UnserializableValueError is returned for an unserializable value token
// with no Go equivalent.
type UnserializableValueError struct {
	Value runtime.UnserializableValue
}

func (e *UnserializableValueError) Error() string {
	return fmt.Sprintf("unsupported unserializable value: %s", e.Value)
}
