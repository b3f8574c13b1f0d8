package runner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/fxr/internal/fixture"
	"github.com/joeycumines/fxr/internal/scripting"
)

// Result is the observable behaviour of one execution.
type Result struct {
	Fixture string `json:"fixture"`
	// Function is set when the Result came from a call.
	Function string `json:"function,omitempty"`
	// Logs holds every console line in emission order.
	Logs    []scripting.Line `json:"logs"`
	Outcome fixture.Outcome  `json:"outcome"`
	// Value is the completion value of the body or the return value of
	// the call, as plain Go data.
	Value any `json:"value,omitempty"`
	// Handled lists the text of lines logged on the error channel.
	Handled []string `json:"handled,omitempty"`
	// Unhandled lists errors that escaped all handling.
	Unhandled []*scripting.ScriptError `json:"unhandled,omitempty"`
	Duration  time.Duration            `json:"duration"`
}

// Label names the execution, e.g. "js_patch" or "js_patch: updateUI()".
func (r *Result) Label() string {
	if r.Function == "" {
		return r.Fixture
	}
	return r.Fixture + ": " + r.Function + "()"
}

// Err summarises why the execution did not end cleanly, or nil. Handled
// errors are not failures and never produce an error here.
func (r *Result) Err() error {
	switch {
	case r.Outcome == fixture.OutcomeTimeout:
		return fmt.Errorf("%s: %w", r.Label(), scripting.ErrTimeout)
	case len(r.Unhandled) > 0:
		return fmt.Errorf("%s: %w", r.Label(), r.Unhandled[0])
	}
	return nil
}

// Stdout returns the text of lines written to stdout.
func (r *Result) Stdout() []string {
	return r.stream(scripting.StreamStdout)
}

// Stderr returns the text of lines written to stderr.
func (r *Result) Stderr() []string {
	return r.stream(scripting.StreamStderr)
}

func (r *Result) stream(s scripting.Stream) []string {
	var out []string
	for _, line := range r.Logs {
		if line.Stream == s {
			out = append(out, line.Text)
		}
	}
	return out
}

func newResult(name, function string, lines []scripting.Line, c *scripting.Completion) *Result {
	res := &Result{
		Fixture:   name,
		Function:  function,
		Logs:      lines,
		Value:     c.Value,
		Unhandled: c.Errors,
		Duration:  c.Duration,
	}
	for _, line := range lines {
		if line.Level >= slog.LevelError {
			res.Handled = append(res.Handled, line.Text)
		}
	}
	res.Outcome = classify(res, c.TimedOut)
	return res
}

// classify picks the outcome. A timeout wins, then any escaped error, then
// error-channel output.
func classify(res *Result, timedOut bool) fixture.Outcome {
	switch {
	case timedOut:
		return fixture.OutcomeTimeout
	case len(res.Unhandled) > 0:
		return fixture.OutcomeUnhandled
	case len(res.Handled) > 0:
		return fixture.OutcomeHandled
	}
	return fixture.OutcomeOK
}
