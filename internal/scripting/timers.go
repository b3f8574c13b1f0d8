package scripting

import (
	"math"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// timerTable replaces the loop's timer globals so the runtime knows when a
// script has nothing left to run. It is only touched on the loop goroutine.
type timerTable struct {
	vm        *goja.Runtime
	loop      *eventloop.EventLoop
	next      int64
	timeouts  map[int64]*eventloop.Timer
	intervals map[int64]*eventloop.Interval

	// onIdle is called at the end of a timer callback that leaves nothing
	// pending. clear never calls it: the job that cleared may still re-arm.
	onIdle func()
	// onError receives exceptions thrown by timer callbacks.
	onError func(err error)
}

func newTimerTable(vm *goja.Runtime, loop *eventloop.EventLoop) *timerTable {
	return &timerTable{
		vm:        vm,
		loop:      loop,
		timeouts:  make(map[int64]*eventloop.Timer),
		intervals: make(map[int64]*eventloop.Interval),
	}
}

// Pending returns the number of scheduled timeouts and active intervals.
func (t *timerTable) Pending() int {
	return len(t.timeouts) + len(t.intervals)
}

func (t *timerTable) install() {
	_ = t.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return t.schedule(call.Argument(0), delayArg(call.Argument(1)), extraArgs(call, 2))
	})
	_ = t.vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		return t.schedule(call.Argument(0), 0, extraArgs(call, 1))
	})
	_ = t.vm.Set("setInterval", t.setInterval)
	_ = t.vm.Set("clearTimeout", t.clear)
	_ = t.vm.Set("clearInterval", t.clear)
	_ = t.vm.Set("clearImmediate", t.clear)
}

func (t *timerTable) schedule(callback goja.Value, delay time.Duration, args []goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(callback)
	if !ok {
		panic(t.vm.NewTypeError("callback must be a function"))
	}
	t.next++
	id := t.next
	t.timeouts[id] = t.loop.SetTimeout(func(*goja.Runtime) {
		delete(t.timeouts, id)
		t.invoke(fn, args)
		t.checkIdle()
	}, delay)
	return t.vm.ToValue(id)
}

func (t *timerTable) setInterval(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(t.vm.NewTypeError("callback must be a function"))
	}
	args := extraArgs(call, 2)
	delay := delayArg(call.Argument(1))
	if delay <= 0 {
		delay = time.Millisecond
	}
	t.next++
	id := t.next
	t.intervals[id] = t.loop.SetInterval(func(*goja.Runtime) {
		t.invoke(fn, args)
		t.checkIdle()
	}, delay)
	return t.vm.ToValue(id)
}

func (t *timerTable) clear(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if timer, ok := t.timeouts[id]; ok {
		t.loop.ClearTimeout(timer)
		delete(t.timeouts, id)
	}
	if iv, ok := t.intervals[id]; ok {
		t.loop.ClearInterval(iv)
		delete(t.intervals, id)
	}
	return goja.Undefined()
}

func (t *timerTable) invoke(fn goja.Callable, args []goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil && t.onError != nil {
		t.onError(err)
	}
}

func (t *timerTable) checkIdle() {
	if t.Pending() == 0 && t.onIdle != nil {
		t.onIdle()
	}
}

// cancelAll clears every pending timer without firing it.
func (t *timerTable) cancelAll() {
	for id, timer := range t.timeouts {
		t.loop.ClearTimeout(timer)
		delete(t.timeouts, id)
	}
	for id, iv := range t.intervals {
		t.loop.ClearInterval(iv)
		delete(t.intervals, id)
	}
}

func delayArg(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || ms < 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func extraArgs(call goja.FunctionCall, from int) []goja.Value {
	if len(call.Arguments) <= from {
		return nil
	}
	args := make([]goja.Value, len(call.Arguments)-from)
	copy(args, call.Arguments[from:])
	return args
}
