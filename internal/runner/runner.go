// Package runner executes fixtures in isolated sandboxes, classifies how
// they ended and checks them against their expectations.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joeycumines/fxr/internal/fixture"
	"github.com/joeycumines/fxr/internal/scripting"
)

// Options configures a Runner.
type Options struct {
	// Timeout bounds each execution, including delayed callbacks.
	Timeout time.Duration
	// Stdout and Stderr, when set, receive a copy of fixture console output
	// as it is emitted. Capture happens regardless.
	Stdout io.Writer
	Stderr io.Writer
	// Logger receives runner diagnostics.
	Logger *slog.Logger
	// OnCase is called after each case of RunSuite.
	OnCase func(Case)
}

// Runner runs fixtures from a catalog. Every run and every call gets a
// fresh sandbox, so fixtures never observe each other's state.
type Runner struct {
	catalog *fixture.Catalog
	opts    Options
}

// New creates a Runner over catalog.
func New(catalog *fixture.Catalog, opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = scripting.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{catalog: catalog, opts: opts}
}

// Catalog returns the runner's catalog.
func (r *Runner) Catalog() *fixture.Catalog {
	return r.catalog
}

// Run executes the named fixture body.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	f, err := r.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	return r.RunFixture(ctx, f)
}

// Call loads the named fixture and then invokes one of its global
// functions with args.
func (r *Runner) Call(ctx context.Context, name, function string, args ...any) (*Result, error) {
	f, err := r.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	return r.CallFixture(ctx, f, function, args...)
}

// RunFixture executes f's body in a fresh sandbox and waits for it to
// settle. Errors escaping the script are part of the Result; the returned
// error is only for failures of the runner itself.
func (r *Runner) RunFixture(ctx context.Context, f *fixture.Fixture) (res *Result, err error) {
	capture := r.newCapture()
	rt, err := r.newRuntime(ctx, capture)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	defer rt.Close()
	defer recoverInto(f.Name, "", capture, &res)

	r.opts.Logger.Debug("running fixture", slog.String("fixture", f.Name))
	c, err := rt.Exec(ctx, scriptName(f), f.Source)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	res = newResult(f.Name, "", capture.Lines(), c)
	r.opts.Logger.Debug("fixture finished",
		slog.String("fixture", f.Name),
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// CallFixture runs f's body, then calls function. The Result only holds
// what the call itself produced; if the body does not settle, the call is
// not attempted and the Result reports a timeout.
func (r *Runner) CallFixture(ctx context.Context, f *fixture.Fixture, function string, args ...any) (res *Result, err error) {
	capture := r.newCapture()
	rt, err := r.newRuntime(ctx, capture)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	defer rt.Close()
	defer recoverInto(f.Name, function, capture, &res)

	load, err := rt.Exec(ctx, scriptName(f), f.Source)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	if load.TimedOut {
		return newResult(f.Name, function, nil, &scripting.Completion{
			Errors:   load.Errors,
			TimedOut: true,
			Duration: load.Duration,
		}), nil
	}
	if len(load.Errors) > 0 {
		r.opts.Logger.Debug("fixture body escaped errors before call",
			slog.String("fixture", f.Name),
			slog.Int("errors", len(load.Errors)))
	}

	mark := capture.Len()
	r.opts.Logger.Debug("calling fixture function", slog.String("fixture", f.Name), slog.String("function", function))
	c, err := rt.Call(ctx, function, args...)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	return newResult(f.Name, function, capture.Lines()[mark:], c), nil
}

func (r *Runner) newCapture() *scripting.CaptureHandler {
	if r.opts.Stdout != nil || r.opts.Stderr != nil {
		return scripting.NewForwardingCapture(r.opts.Stdout, r.opts.Stderr)
	}
	return scripting.NewCapture()
}

func (r *Runner) newRuntime(ctx context.Context, sink scripting.Sink) (*scripting.Runtime, error) {
	return scripting.NewRuntime(ctx, scripting.Options{
		Sink:    sink,
		Timeout: r.opts.Timeout,
		Logger:  r.opts.Logger,
	})
}

func scriptName(f *fixture.Fixture) string {
	if f.File != "" {
		return f.File
	}
	return f.Name + ".js"
}

// recoverInto turns a panic while running a fixture into an unhandled
// error on the Result, so one fixture can never take the others down.
func recoverInto(name, function string, capture *scripting.CaptureHandler, res **Result) {
	if rec := recover(); rec != nil {
		se := &scripting.ScriptError{
			Kind:    scripting.KindThrown,
			Class:   "GoPanic",
			Message: fmt.Sprint(rec),
			Origin:  scripting.OriginScript,
		}
		*res = newResult(name, function, capture.Lines(), &scripting.Completion{Errors: []*scripting.ScriptError{se}})
	}
}
