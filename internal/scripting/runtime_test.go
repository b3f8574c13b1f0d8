package scripting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, timeout time.Duration) (*Runtime, *CaptureHandler) {
	t.Helper()
	capture := NewCapture()
	rt, err := NewRuntime(context.Background(), Options{Sink: capture, Timeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, capture
}

func texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestNewRuntime(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)
	assert.True(t, rt.IsRunning())
	assert.NotNil(t, rt.Registry())
}

func TestRuntime_Close(t *testing.T) {
	rt, err := NewRuntime(context.Background(), Options{})
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	assert.False(t, rt.IsRunning())
	require.NoError(t, rt.Close(), "Close should be idempotent")

	select {
	case <-rt.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}

	assert.False(t, rt.RunOnLoop(func(*goja.Runtime) {}))
	assert.ErrorIs(t, rt.RunOnLoopSync(func(*goja.Runtime) error { return nil }), ErrNotRunning)
	_, err = rt.Exec(context.Background(), "x.js", "1")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRuntime_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt, err := NewRuntime(ctx, Options{})
	require.NoError(t, err)

	cancel()

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime should stop when context is canceled")
	}
}

func TestRuntime_RunOnLoopSync_PropagatesError(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)
	want := errors.New("boom")
	assert.Equal(t, want, rt.RunOnLoopSync(func(*goja.Runtime) error { return want }))
}

func TestRuntime_Exec_CapturesConsoleInOrder(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "order.js", `
console.log("first", 1, true);
console.error("second");
console.warn("third");
console.info({a: 1, b: [2, 3]});
console.debug(null, undefined);
`)
	require.NoError(t, err)
	assert.Empty(t, c.Errors)
	assert.False(t, c.TimedOut)

	lines := capture.Lines()
	assert.Equal(t, []string{
		"first 1 true",
		"second",
		"third",
		`{"a":1,"b":[2,3]}`,
		"null undefined",
	}, texts(lines))
	assert.Equal(t, []Stream{StreamStdout, StreamStderr, StreamStderr, StreamStdout, StreamStdout},
		[]Stream{lines[0].Stream, lines[1].Stream, lines[2].Stream, lines[3].Stream, lines[4].Stream})
}

func TestRuntime_Exec_FormatsErrors(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	_, err := rt.Exec(context.Background(), "err.js", `console.error("Caught error:", new TypeError("bad thing"));`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Caught error: TypeError: bad thing"}, texts(capture.Lines()))
}

func TestRuntime_Exec_RequireConsole(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	_, err := rt.Exec(context.Background(), "req.js", `require("console").log("via require");`)
	require.NoError(t, err)
	assert.Equal(t, []string{"via require"}, texts(capture.Lines()))
}

func TestRuntime_Exec_CompletionValue(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "value.js", `var x = {status: "success"}; x`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "success"}, c.Value)
}

func TestRuntime_Exec_UncaughtThrow(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "crash.js", `
console.log("before");
var obj = {};
console.log(obj.missing.someMethod);
console.log("after");
`)
	require.NoError(t, err)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, KindThrown, c.Errors[0].Kind)
	assert.Equal(t, "TypeError", c.Errors[0].Class)
	assert.Equal(t, OriginScript, c.Errors[0].Origin)
	assert.Contains(t, c.Errors[0].Message, "someMethod")
	assert.Equal(t, []string{"before"}, texts(capture.Lines()), "script must stop at the throwing statement")
}

func TestRuntime_Exec_SyntaxError(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "syntax.js", `function (`)
	require.NoError(t, err)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, "SyntaxError", c.Errors[0].Class)
}

func TestRuntime_Exec_WaitsForTimers(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "timers.js", `
console.log("start");
setTimeout(function (a, b) { console.log("fired", a, b); }, 20, "x", "y");
var id = setTimeout(function () { console.log("never"); }, 10);
clearTimeout(id);
setImmediate(function () { console.log("immediate"); });
`)
	require.NoError(t, err)
	assert.Empty(t, c.Errors)
	assert.Equal(t, []string{"start", "immediate", "fired x y"}, texts(capture.Lines()))
	assert.GreaterOrEqual(t, c.Duration, 20*time.Millisecond)
}

func TestRuntime_Exec_IntervalClearedByItself(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "interval.js", `
var n = 0;
var iv = setInterval(function () {
	n++;
	console.log("tick", n);
	if (n === 3) clearInterval(iv);
}, 5);
`)
	require.NoError(t, err)
	assert.False(t, c.TimedOut)
	assert.Equal(t, []string{"tick 1", "tick 2", "tick 3"}, texts(capture.Lines()))
}

func TestRuntime_Exec_RearmAfterClear(t *testing.T) {
	for _, tc := range []struct {
		name    string
		source  string
		want    []string
		atLeast time.Duration
	}{
		{
			name:    "clear then schedule in the body",
			source:  `const a = setTimeout(() => {}, 10); clearTimeout(a); setTimeout(() => console.log("late"), 100);`,
			want:    []string{"late"},
			atLeast: 100 * time.Millisecond,
		},
		{
			name: "callback clears the last other timer and re-arms",
			source: `
const other = setTimeout(() => console.log("never"), 1000);
setTimeout(() => {
	clearTimeout(other);
	setTimeout(() => console.log("retry"), 50);
}, 10);
`,
			want:    []string{"retry"},
			atLeast: 60 * time.Millisecond,
		},
		{
			name: "interval clears itself and re-arms a timeout",
			source: `
const iv = setInterval(() => {
	clearInterval(iv);
	setTimeout(() => console.log("after interval"), 20);
}, 5);
`,
			want:    []string{"after interval"},
			atLeast: 25 * time.Millisecond,
		},
		{
			name: "interval cleared from a timeout that re-arms it",
			source: `
let n = 0;
let iv = setInterval(() => {}, 1000);
setTimeout(() => {
	clearInterval(iv);
	iv = setInterval(() => {
		n++;
		console.log("tick", n);
		if (n === 2) clearInterval(iv);
	}, 5);
}, 5);
`,
			want:    []string{"tick 1", "tick 2"},
			atLeast: 15 * time.Millisecond,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt, capture := newTestRuntime(t, 2*time.Second)

			c, err := rt.Exec(context.Background(), "rearm.js", tc.source)
			require.NoError(t, err)
			assert.False(t, c.TimedOut)
			assert.Empty(t, c.Errors)
			assert.Equal(t, tc.want, texts(capture.Lines()))
			assert.GreaterOrEqual(t, c.Duration, tc.atLeast)
		})
	}
}

func TestRuntime_Exec_DelayedRejectionCaught(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "net.js", `
new Promise(function (resolve, reject) {
	setTimeout(function () { reject(new Error("Network timeout")); }, 10);
}).then(function (r) {
	console.log("ok", r);
}).catch(function (e) {
	console.error("caught:", e.message);
});
`)
	require.NoError(t, err)
	assert.Empty(t, c.Errors)
	lines := capture.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "caught: Network timeout", lines[0].Text)
	assert.Equal(t, StreamStderr, lines[0].Stream)
}

func TestRuntime_Exec_UnhandledRejection(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "reject.js", `Promise.reject(new RangeError("nobody listens"));`)
	require.NoError(t, err)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, KindRejection, c.Errors[0].Kind)
	assert.Equal(t, "RangeError", c.Errors[0].Class)
	assert.Equal(t, "nobody listens", c.Errors[0].Message)
	assert.Equal(t, OriginPromise, c.Errors[0].Origin)
}

func TestRuntime_Exec_LateHandledRejectionIsNotReported(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "late.js", `
var p = Promise.reject(new Error("late"));
setTimeout(function () { p.catch(function () {}); }, 5);
`)
	require.NoError(t, err)
	assert.Empty(t, c.Errors)
}

func TestRuntime_Exec_TimerCallbackThrows(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	c, err := rt.Exec(context.Background(), "timer-throw.js", `
setTimeout(function () { throw new Error("from timer"); }, 5);
setTimeout(function () { console.log("still runs"); }, 15);
`)
	require.NoError(t, err)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, OriginTimer, c.Errors[0].Origin)
	assert.Equal(t, "from timer", c.Errors[0].Message)
	assert.Equal(t, []string{"still runs"}, texts(capture.Lines()))
}

func TestRuntime_Exec_TimeoutOnPendingTimer(t *testing.T) {
	rt, capture := newTestRuntime(t, 100*time.Millisecond)

	start := time.Now()
	c, err := rt.Exec(context.Background(), "slow.js", `
console.log("waiting");
setTimeout(function () { console.log("too late"); }, 60000);
`)
	require.NoError(t, err)
	assert.True(t, c.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"waiting"}, texts(capture.Lines()))
	assert.False(t, rt.IsRunning(), "a timed out runtime is closed")
}

func TestRuntime_Exec_TimeoutInterruptsBusyLoop(t *testing.T) {
	rt, _ := newTestRuntime(t, 100*time.Millisecond)

	start := time.Now()
	c, err := rt.Exec(context.Background(), "busy.js", `for (;;) {}`)
	require.NoError(t, err)
	assert.True(t, c.TimedOut)
	assert.Empty(t, c.Errors, "the interrupt itself is not a script error")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRuntime_Exec_ContextCanceled(t *testing.T) {
	rt, _ := newTestRuntime(t, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rt.Exec(ctx, "slow.js", `setTimeout(function () {}, 60000);`)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRuntime_Call(t *testing.T) {
	rt, capture := newTestRuntime(t, 0)

	_, err := rt.Exec(context.Background(), "lib.js", `
function updateData(data) {
	console.log("Updating data:", data);
	return {status: "success", data: data};
}
function fail() { throw new Error("Intentional runtime error"); }
function later() {
	return new Promise(function (resolve) { setTimeout(function () { resolve(42); }, 5); });
}
function rejectLater() {
	return new Promise(function (resolve, reject) {
		setTimeout(function () { reject(new Error("Network timeout")); }, 5);
	});
}
function never() { return new Promise(function () {}); }
function bump(o) { o.n = o.n + 1; o.seen.push(o.n); return o.n; }
`)
	require.NoError(t, err)

	t.Run("return value", func(t *testing.T) {
		capture.Reset()
		c, err := rt.Call(context.Background(), "updateData", map[string]any{"test": "value"})
		require.NoError(t, err)
		assert.Empty(t, c.Errors)
		assert.Equal(t, map[string]any{"status": "success", "data": map[string]any{"test": "value"}}, c.Value)
		assert.Equal(t, []string{`Updating data: {"test":"value"}`}, texts(capture.Lines()))
	})

	t.Run("throws", func(t *testing.T) {
		c, err := rt.Call(context.Background(), "fail")
		require.NoError(t, err)
		require.Len(t, c.Errors, 1)
		assert.Equal(t, OriginCall, c.Errors[0].Origin)
		assert.Equal(t, "Error", c.Errors[0].Class)
		assert.Equal(t, "Intentional runtime error", c.Errors[0].Message)
	})

	t.Run("resolved promise", func(t *testing.T) {
		c, err := rt.Call(context.Background(), "later")
		require.NoError(t, err)
		assert.Empty(t, c.Errors)
		assert.EqualValues(t, 42, c.Value)
	})

	t.Run("rejected promise", func(t *testing.T) {
		c, err := rt.Call(context.Background(), "rejectLater")
		require.NoError(t, err)
		require.Len(t, c.Errors, 1, "the rejection is reported once, as the call's")
		assert.Equal(t, KindRejection, c.Errors[0].Kind)
		assert.Equal(t, OriginCall, c.Errors[0].Origin)
		assert.Equal(t, "Network timeout", c.Errors[0].Message)
	})

	t.Run("never settles", func(t *testing.T) {
		c, err := rt.Call(context.Background(), "never")
		require.NoError(t, err)
		assert.True(t, c.TimedOut)
	})

	t.Run("arguments are copied", func(t *testing.T) {
		arg := map[string]any{"n": 0, "seen": []any{}}
		for range 3 {
			c, err := rt.Call(context.Background(), "bump", arg)
			require.NoError(t, err)
			assert.Empty(t, c.Errors)
			assert.EqualValues(t, 1, c.Value)
		}
		assert.Equal(t, map[string]any{"n": 0, "seen": []any{}}, arg)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := rt.Call(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNoSuchFunction)
	})
}

func TestRuntime_Globals(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	require.NoError(t, rt.SetGlobal("greeting", "hi"))
	v, err := rt.GetGlobal("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	v, err = rt.GetGlobal("doesNotExist")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRuntime_Isolation(t *testing.T) {
	a, _ := newTestRuntime(t, 0)
	b, _ := newTestRuntime(t, 0)

	_, err := a.Exec(context.Background(), "a.js", `var shared = "from a";`)
	require.NoError(t, err)

	v, err := b.GetGlobal("shared")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCaptureHandler_Logger(t *testing.T) {
	var stdout, stderr bytes.Buffer
	capture := NewForwardingCapture(&stdout, &stderr)
	logger := capture.Logger()

	logger.Info("plain")
	logger.Error("failed")
	logger.Info("forced", "stream", "stderr")

	lines := capture.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, StreamStdout, lines[0].Stream)
	assert.Equal(t, slog.LevelError, lines[1].Level)
	assert.Equal(t, StreamStderr, lines[1].Stream)
	assert.Equal(t, StreamStderr, lines[2].Stream)
	assert.Equal(t, "plain\n", stdout.String())
	assert.Equal(t, "failed\nforced\n", stderr.String())

	capture.Reset()
	assert.Zero(t, capture.Len())
}
