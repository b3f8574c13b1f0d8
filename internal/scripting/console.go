package scripting

import (
	"log/slog"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// ConsoleModule is the require() name the console is registered under.
const ConsoleModule = "console"

// newConsole builds the console object for vm. Every method formats its
// arguments and emits one line to sink.
func newConsole(vm *goja.Runtime, sink Sink) *goja.Object {
	emit := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			sink.Emit(Line{Level: level, Stream: streamFor(level), Text: formatArgs(call.Arguments)})
			return goja.Undefined()
		}
	}
	console := vm.NewObject()
	_ = console.Set("log", emit(slog.LevelInfo))
	_ = console.Set("info", emit(slog.LevelInfo))
	_ = console.Set("debug", emit(slog.LevelDebug))
	_ = console.Set("warn", emit(slog.LevelWarn))
	_ = console.Set("error", emit(slog.LevelError))
	return console
}

// registerConsole makes console available both as a global and through
// require("console").
func registerConsole(registry *require.Registry, vm *goja.Runtime, sink Sink) {
	console := newConsole(vm, sink)
	registry.RegisterNativeModule(ConsoleModule, func(_ *goja.Runtime, module *goja.Object) {
		_ = module.Set("exports", console)
	})
	_ = vm.Set("console", console)
}

// formatArgs renders console arguments space separated.
func formatArgs(args []goja.Value) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(FormatValue(arg))
	}
	return b.String()
}

// FormatValue renders a single JS value the way the console prints it:
// strings verbatim, errors as "Name: message", other objects as JSON.
func FormatValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if obj.ClassName() == "Error" {
		se := errorFromValue(KindThrown, "", obj)
		return se.Error()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return "[Function]"
	}
	data, err := obj.MarshalJSON()
	if err != nil {
		return obj.String()
	}
	return string(data)
}
