package scripting

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// DefaultTimeout bounds how long a script may take to settle.
const DefaultTimeout = 5 * time.Second

// OriginPromise marks errors raised by promise rejections nobody handled.
const OriginPromise = "promise"

// Options configures a Runtime.
type Options struct {
	// Sink receives console output. Defaults to a fresh capture.
	Sink Sink
	// Timeout bounds each Exec or Call, including timers it schedules.
	// Zero means DefaultTimeout.
	Timeout time.Duration
	// Logger receives diagnostics about the runtime itself.
	Logger *slog.Logger
}

// Completion is the outcome of an Exec or Call.
type Completion struct {
	// Value is the exported completion value of the script, or the return
	// value (or resolved promise value) of a call.
	Value any
	// Errors lists every error that escaped the script, in the order
	// they were observed.
	Errors []*ScriptError
	// TimedOut is set when the script did not settle in time.
	TimedOut bool
	Duration time.Duration
}

// Runtime is an isolated JavaScript sandbox: one goja runtime, one event
// loop and one require registry. It is meant to run a single fixture and
// then be closed.
//
// The goja.Runtime is NOT goroutine-safe; every access goes through the
// event loop. Fields under "loop-owned" are only touched from loop jobs, or
// after the loop has stopped.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	sink     Sink
	timeout  time.Duration
	logger   *slog.Logger

	// vm is captured at startup; only Interrupt may be used off the loop.
	vm *goja.Runtime

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool

	// loop-owned
	timers     *timerTable
	escaped    []*ScriptError
	rejected   []*goja.Promise
	awaiting   *goja.Promise
	idle       chan struct{}
	idleClosed bool
}

// NewRuntime starts a sandbox. Canceling ctx closes it.
func NewRuntime(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Sink == nil {
		opts.Sink = NewCapture()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	registry := require.NewRegistry()
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(false),
	)

	childCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		loop:     loop,
		registry: registry,
		sink:     opts.Sink,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		ctx:      childCtx,
		cancel:   cancel,
	}

	loop.Start()
	rt.mu.Lock()
	rt.started = true
	rt.mu.Unlock()

	errCh := make(chan error, 1)
	ok := loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- rt.setup(vm)
	})
	if !ok {
		cancel()
		return nil, fmt.Errorf("failed to initialize runtime: %w", ErrNotRunning)
	}
	if err := <-errCh; err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize runtime: %w", err)
	}

	rt.stopAfter = context.AfterFunc(ctx, func() {
		_ = rt.Close()
	})

	return rt, nil
}

func (rt *Runtime) setup(vm *goja.Runtime) error {
	rt.vm = vm
	registerConsole(rt.registry, vm, rt.sink)

	rt.timers = newTimerTable(vm, rt.loop)
	rt.timers.onIdle = rt.markIdle
	rt.timers.onError = func(err error) {
		rt.escape(errorFromGo(OriginTimer, err))
	}
	rt.timers.install()

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			rt.rejected = append(rt.rejected, p)
		case goja.PromiseRejectionHandle:
			rt.forgetRejection(p)
		}
	})
	return nil
}

// Registry returns the require registry of this sandbox.
func (rt *Runtime) Registry() *require.Registry {
	return rt.registry
}

// Close stops the event loop and abandons pending timers. It is safe to
// call multiple times.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	rt.mu.Unlock()

	if rt.stopAfter != nil {
		rt.stopAfter()
	}
	rt.cancel()
	rt.loop.Stop()
	return nil
}

// Done is closed once the runtime has been closed.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// IsRunning reports whether the loop is started and not yet stopped.
func (rt *Runtime) IsRunning() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.started && !rt.stopped
}

// RunOnLoop schedules fn on the loop goroutine. It returns false if the
// runtime is not running.
func (rt *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	if !rt.IsRunning() {
		return false
	}
	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync runs fn on the loop and waits for it, bounded by the
// runtime timeout.
func (rt *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	if !rt.IsRunning() {
		return ErrNotRunning
	}
	errCh := make(chan error, 1)
	if !rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	}) {
		return ErrNotRunning
	}
	timer := time.NewTimer(rt.timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return fmt.Errorf("runtime stopped before completion: %w", ErrNotRunning)
	case <-timer.C:
		return fmt.Errorf("operation timed out after %v: %w", rt.timeout, ErrTimeout)
	}
}

// SetGlobal sets a global variable in the sandbox.
func (rt *Runtime) SetGlobal(name string, value any) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, value)
	})
}

// GetGlobal exports a global variable. Missing, undefined and null globals
// yield nil.
func (rt *Runtime) GetGlobal(name string) (any, error) {
	var result any
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		val := vm.Get(name)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return nil
		}
		result = val.Export()
		return nil
	})
	return result, err
}

// Exec compiles and runs source, then waits until every timer it scheduled
// has fired or been cleared.
func (rt *Runtime) Exec(ctx context.Context, name, source string) (*Completion, error) {
	return rt.settle(ctx, func(vm *goja.Runtime) any {
		prg, err := goja.Compile(name, source, false)
		if err != nil {
			rt.escape(errorFromGo(OriginScript, err))
			return nil
		}
		v, err := vm.RunProgram(prg)
		if err != nil {
			rt.escape(errorFromGo(OriginScript, err))
			return nil
		}
		return exportValue(v)
	})
}

// Call invokes the global function name with copies of args converted by
// goja.Runtime.ToValue, so the script never writes through to the caller's
// maps or slices. A returned promise is awaited; its rejection is reported
// as an error of the call.
func (rt *Runtime) Call(ctx context.Context, name string, args ...any) (*Completion, error) {
	var missing bool
	c, err := rt.settle(ctx, func(vm *goja.Runtime) any {
		fn, ok := goja.AssertFunction(vm.Get(name))
		if !ok {
			missing = true
			return nil
		}
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = vm.ToValue(cloneArg(a))
		}
		v, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			rt.escape(errorFromGo(OriginCall, err))
			return nil
		}
		if p, ok := v.Export().(*goja.Promise); ok {
			rt.awaiting = p
			return nil
		}
		return exportValue(v)
	})
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFunction, name)
	}
	return c, nil
}

// settle runs job on the loop and waits for it and all timers it caused,
// bounded by the timeout. On timeout the VM is interrupted and the runtime
// closed.
func (rt *Runtime) settle(ctx context.Context, job func(*goja.Runtime) any) (*Completion, error) {
	if !rt.IsRunning() {
		return nil, ErrNotRunning
	}
	start := time.Now()
	idle := make(chan struct{})
	done := make(chan any, 1)

	if !rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		rt.escaped = nil
		rt.awaiting = nil
		rt.idle = idle
		rt.idleClosed = false
		var value any
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.escape(&ScriptError{Kind: KindThrown, Class: "GoPanic", Origin: OriginScript, Message: fmt.Sprint(r)})
				}
			}()
			value = job(vm)
		}()
		done <- value
		if rt.timers.Pending() == 0 {
			rt.markIdle()
		}
	}) {
		return nil, ErrNotRunning
	}

	timer := time.NewTimer(rt.timeout)
	defer timer.Stop()

	var value any
	select {
	case value = <-done:
	case <-timer.C:
		return rt.abandon(start, nil), nil
	case <-ctx.Done():
		rt.abandon(start, nil)
		return nil, ctx.Err()
	}

	select {
	case <-idle:
	case <-timer.C:
		return rt.abandon(start, value), nil
	case <-ctx.Done():
		rt.abandon(start, value)
		return nil, ctx.Err()
	}

	c := &Completion{Value: value}
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		if p := rt.awaiting; p != nil {
			rt.forgetRejection(p)
			switch p.State() {
			case goja.PromiseStateFulfilled:
				c.Value = exportValue(p.Result())
			case goja.PromiseStateRejected:
				rt.escape(errorFromValue(KindRejection, OriginCall, p.Result()))
			default:
				// nothing left that could settle it
				c.TimedOut = true
			}
		}
		for _, p := range rt.rejected {
			rt.escape(errorFromValue(KindRejection, OriginPromise, p.Result()))
		}
		rt.rejected = nil
		c.Errors = append(c.Errors, rt.escaped...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Duration = time.Since(start)
	return c, nil
}

// abandon interrupts whatever is running, stops the loop and reports what
// had been observed so far.
func (rt *Runtime) abandon(start time.Time, value any) *Completion {
	rt.logger.Debug("abandoning script after timeout", slog.Duration("timeout", rt.timeout))
	if rt.vm != nil {
		rt.vm.Interrupt(ErrTimeout)
	}
	_ = rt.Close()
	// the loop has stopped, its state is ours now
	if rt.timers != nil {
		rt.timers.cancelAll()
	}
	c := &Completion{Value: value, TimedOut: true, Duration: time.Since(start)}
	for _, se := range rt.escaped {
		if se.Kind != KindInterrupted {
			c.Errors = append(c.Errors, se)
		}
	}
	return c
}

func (rt *Runtime) escape(se *ScriptError) {
	rt.logger.Debug("script error escaped", slog.String("origin", se.Origin), slog.String("error", se.Error()))
	rt.escaped = append(rt.escaped, se)
}

func (rt *Runtime) forgetRejection(p *goja.Promise) {
	for i, q := range rt.rejected {
		if q == p {
			rt.rejected = append(rt.rejected[:i], rt.rejected[i+1:]...)
			return
		}
	}
}

func (rt *Runtime) markIdle() {
	if rt.idle != nil && !rt.idleClosed {
		rt.idleClosed = true
		close(rt.idle)
	}
}

// exportValue converts a completion value to Go. Pending work such as a
// top-level promise has no useful Go form and exports as nil.
func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	e := v.Export()
	if _, ok := e.(*goja.Promise); ok {
		return nil
	}
	return e
}

// cloneArg deep copies the map and slice shapes decoded from YAML or JSON.
// Other maps and slices get a fresh top level.
func cloneArg(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneArg(e)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(x))
		for k, e := range x {
			out[k] = cloneArg(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneArg(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	}
	return v
}
