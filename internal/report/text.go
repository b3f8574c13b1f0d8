// Package report renders runner results for people and machines.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/joeycumines/fxr/internal/runner"
)

// TextOptions controls Text output.
type TextOptions struct {
	// Color enables ANSI colors.
	Color bool
	// Verbose lists the console lines of every case, not only failures.
	Verbose bool
}

type palette struct {
	pass, xfail, fail, faint, label *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		pass:  color.New(color.FgGreen, color.Bold),
		xfail: color.New(color.FgYellow, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
		faint: color.New(color.Faint),
		label: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.pass, p.xfail, p.fail, p.faint, p.label} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) verdict(v runner.Verdict) string {
	switch v {
	case runner.VerdictPass:
		return p.pass.Sprintf("%-5s", "PASS")
	case runner.VerdictXFail:
		return p.xfail.Sprintf("%-5s", "XFAIL")
	}
	return p.fail.Sprintf("%-5s", "FAIL")
}

// Text writes one line per case followed by a summary. Failing cases are
// followed by their mismatches and console output.
func Text(w io.Writer, rep *runner.Report, opts TextOptions) error {
	p := newPalette(opts.Color)
	ew := &errWriter{w: w}

	for _, c := range rep.Cases {
		ew.printf("%s %s %s\n", p.verdict(c.Verdict), c.Name(), p.faint.Sprintf("(%s, %s)", c.Outcome, roundDuration(c.Duration)))
		for _, m := range c.Mismatches {
			ew.printf("      %s %s\n", p.label.Sprint(m.Field+":"), m.Detail)
		}
		if c.Verdict == runner.VerdictXFail {
			for _, se := range c.Errors {
				ew.printf("      %s\n", p.faint.Sprint(se.Error()))
			}
		}
		if c.Result != nil && (opts.Verbose || c.Verdict == runner.VerdictFail) {
			for _, line := range c.Result.Logs {
				ew.printf("      %s %s\n", p.faint.Sprintf("[%s]", line.Stream), line.Text)
			}
		}
	}

	pass, xfail, fail := rep.Counts()
	summary := fmt.Sprintf("%d passed, %d expected failures, %d failed", pass, xfail, fail)
	if fail > 0 {
		summary = p.fail.Sprint(summary)
	} else {
		summary = p.pass.Sprint(summary)
	}
	ew.printf("\n%s %s\n", summary, p.faint.Sprintf("(%d cases in %s, run %s)", len(rep.Cases), roundDuration(rep.Duration), rep.RunID))
	return ew.err
}

func roundDuration(d time.Duration) time.Duration {
	if d >= time.Second {
		return d.Round(10 * time.Millisecond)
	}
	return d.Round(time.Millisecond)
}

// errWriter keeps the first write error so callers can print freely.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
