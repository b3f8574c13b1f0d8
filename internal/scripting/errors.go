package scripting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

var (
	// ErrTimeout is reported when a script does not settle within the
	// runtime's timeout.
	ErrTimeout = errors.New("script did not settle before timeout")

	// ErrNoSuchFunction is returned by Call when the named global is missing
	// or not callable.
	ErrNoSuchFunction = errors.New("no such function")

	// ErrNotRunning is returned when work is scheduled on a closed runtime.
	ErrNotRunning = errors.New("event loop not running")
)

// ErrorKind distinguishes how a script error escaped.
type ErrorKind string

const (
	// KindThrown is an exception thrown and not caught by the script.
	KindThrown ErrorKind = "thrown"
	// KindRejection is a promise rejection nobody handled.
	KindRejection ErrorKind = "rejection"
	// KindInterrupted means the VM was interrupted, e.g. on timeout.
	KindInterrupted ErrorKind = "interrupted"
)

// Origin values for ScriptError.
const (
	OriginScript = "script"
	OriginTimer  = "timer"
	OriginCall   = "call"
)

// ScriptError is a JavaScript error that escaped the script's own handling.
type ScriptError struct {
	Kind    ErrorKind `json:"kind"`
	Class   string    `json:"class"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	Origin  string    `json:"origin"`
}

func (e *ScriptError) Error() string {
	if e.Class == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

// errorFromValue describes a thrown or rejected JS value.
func errorFromValue(kind ErrorKind, origin string, v goja.Value) *ScriptError {
	se := &ScriptError{Kind: kind, Origin: origin}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		se.Message = fmt.Sprint(v)
		return se
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		// throw "str" and friends
		se.Message = v.String()
		return se
	}
	if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
		se.Class = name.String()
	} else {
		se.Class = obj.ClassName()
	}
	if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
		se.Message = msg.String()
	} else {
		se.Message = v.String()
	}
	if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		se.Stack = strings.TrimSpace(stack.String())
	}
	return se
}

// errorFromGo converts an error returned by goja into a ScriptError.
func errorFromGo(origin string, err error) *ScriptError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		se := &ScriptError{Kind: KindInterrupted, Class: "InterruptedError", Origin: origin, Message: interrupted.String()}
		if cause, ok := interrupted.Value().(error); ok {
			se.Message = cause.Error()
		}
		return se
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		se := errorFromValue(KindThrown, origin, ex.Value())
		if se.Stack == "" {
			se.Stack = strings.TrimSpace(ex.String())
		}
		return se
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &ScriptError{Kind: KindThrown, Class: "SyntaxError", Origin: origin, Message: syntax.Error()}
	}
	return &ScriptError{Kind: KindThrown, Class: "Error", Origin: origin, Message: err.Error()}
}
