// Package fixture holds the fixture model and the catalog of bundled
// JavaScript fixtures together with their expected behaviour.
package fixture

import (
	"fmt"
	"strings"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	// OutcomeOK means the script finished without error output.
	OutcomeOK Outcome = "ok"
	// OutcomeHandled means errors were caught and logged on the error
	// channel, and nothing escaped.
	OutcomeHandled Outcome = "handled"
	// OutcomeUnhandled means at least one error escaped all handling.
	OutcomeUnhandled Outcome = "unhandled"
	// OutcomeTimeout means the script did not settle in time.
	OutcomeTimeout Outcome = "timeout"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeOK, OutcomeHandled, OutcomeUnhandled, OutcomeTimeout:
		return true
	}
	return false
}

// Fixture is one isolated script plus what it is expected to do.
type Fixture struct {
	Name        string            `yaml:"name"`
	File        string            `yaml:"file"`
	Description string            `yaml:"description"`
	Expect      Expectation       `yaml:"expect"`
	Calls       []CallExpectation `yaml:"calls,omitempty"`

	// Source is the script body, filled in from File when loading.
	Source string `yaml:"-"`
}

// Expectation describes the observable result of an execution.
type Expectation struct {
	Outcome Outcome `yaml:"outcome"`
	// Logs are matched in order against the emitted lines.
	Logs []LogExpectation `yaml:"logs,omitempty"`
	// StrictLogs requires every emitted line to be matched by Logs.
	StrictLogs bool `yaml:"strictLogs,omitempty"`
	// Error, if set, must match one of the escaped errors.
	Error *ErrorExpectation `yaml:"error,omitempty"`
	// Result is compared with the returned value. Maps are matched field by
	// field at the top level; everything else must be deeply equal.
	Result any `yaml:"result,omitempty"`
	// Timestamps names result fields that must hold ISO-8601 times. Their
	// values are never compared.
	Timestamps []string `yaml:"timestamps,omitempty"`
	// Assert holds boolean expressions over result, outcome, stdout,
	// stderr and errors that must all hold.
	Assert []string `yaml:"assert,omitempty"`
}

// LogExpectation matches one console line.
type LogExpectation struct {
	// Stream restricts the match to "stdout" or "stderr" when set.
	Stream string `yaml:"stream,omitempty"`
	Text   string `yaml:"text,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Matches reports whether a line on stream with text satisfies e.
func (e LogExpectation) Matches(stream, text string) bool {
	if e.Stream != "" && e.Stream != stream {
		return false
	}
	if e.Prefix != "" {
		return strings.HasPrefix(text, e.Prefix)
	}
	return text == e.Text
}

func (e LogExpectation) String() string {
	var b strings.Builder
	if e.Stream != "" {
		b.WriteString("[" + e.Stream + "] ")
	}
	if e.Prefix != "" {
		b.WriteString(fmt.Sprintf("%q...", e.Prefix))
	} else {
		b.WriteString(fmt.Sprintf("%q", e.Text))
	}
	return b.String()
}

// ErrorExpectation matches an escaped error.
type ErrorExpectation struct {
	Class    string `yaml:"class,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// Matches reports whether an error of class with message satisfies e.
func (e ErrorExpectation) Matches(class, message string) bool {
	if e.Class != "" && e.Class != class {
		return false
	}
	if e.Message != "" && e.Message != message {
		return false
	}
	return e.Contains == "" || strings.Contains(message, e.Contains)
}

func (e ErrorExpectation) String() string {
	parts := make([]string, 0, 3)
	if e.Class != "" {
		parts = append(parts, "class "+e.Class)
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("message %q", e.Message))
	}
	if e.Contains != "" {
		parts = append(parts, fmt.Sprintf("message containing %q", e.Contains))
	}
	if len(parts) == 0 {
		return "any error"
	}
	return strings.Join(parts, ", ")
}

// CallExpectation describes invoking one global function of a fixture
// after its body has run.
type CallExpectation struct {
	Function string      `yaml:"function"`
	Args     []any       `yaml:"args,omitempty"`
	Expect   Expectation `yaml:"expect"`
}

// Label identifies the call in reports, e.g. "updateUI()".
func (c CallExpectation) Label() string {
	return c.Function + "()"
}
