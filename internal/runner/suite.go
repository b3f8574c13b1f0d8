package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/fxr/internal/fixture"
	"github.com/joeycumines/fxr/internal/scripting"
)

// Verdict is how a case compared with its expectation.
type Verdict string

const (
	// VerdictPass means the case matched and nothing escaped.
	VerdictPass Verdict = "pass"
	// VerdictXFail means the case matched an expected unhandled error or
	// timeout.
	VerdictXFail Verdict = "xfail"
	// VerdictFail means the case did not match its expectation.
	VerdictFail Verdict = "fail"
)

// Case is one verified execution within a suite.
type Case struct {
	Fixture    string                   `json:"fixture"`
	Call       string                   `json:"call,omitempty"`
	Verdict    Verdict                  `json:"verdict"`
	Outcome    fixture.Outcome          `json:"outcome"`
	Mismatches []Mismatch               `json:"mismatches,omitempty"`
	Errors     []*scripting.ScriptError `json:"errors,omitempty"`
	Duration   time.Duration            `json:"duration"`
	// Result is the raw execution, nil when the runner itself failed.
	Result *Result `json:"-"`
}

// Name identifies the case, e.g. "js_patch" or "js_patch: updateUI()".
func (c Case) Name() string {
	if c.Call == "" {
		return c.Fixture
	}
	return c.Fixture + ": " + c.Call
}

// Report collects the cases of one suite run.
type Report struct {
	RunID    string        `json:"runId"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Cases    []Case        `json:"cases"`
}

// Counts returns the number of cases per verdict.
func (r *Report) Counts() (pass, xfail, fail int) {
	for _, c := range r.Cases {
		switch c.Verdict {
		case VerdictPass:
			pass++
		case VerdictXFail:
			xfail++
		default:
			fail++
		}
	}
	return pass, xfail, fail
}

// Passed reports whether no case failed.
func (r *Report) Passed() bool {
	_, _, fail := r.Counts()
	return fail == 0
}

// Failed returns the failing cases.
func (r *Report) Failed() []Case {
	var out []Case
	for _, c := range r.Cases {
		if c.Verdict == VerdictFail {
			out = append(out, c)
		}
	}
	return out
}

// CaseCount returns how many cases RunSuite will produce for fixtures: one
// per body plus one per declared call.
func CaseCount(fixtures []*fixture.Fixture) int {
	n := 0
	for _, f := range fixtures {
		n += 1 + len(f.Calls)
	}
	return n
}

// RunSuite runs each fixture body and then each declared call, verifying
// every execution. Fixtures run one after another; a failing fixture never
// stops the rest. Only context cancellation ends the suite early.
func (r *Runner) RunSuite(ctx context.Context, fixtures []*fixture.Fixture) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	log := r.opts.Logger.With(slog.String("run", report.RunID))
	log.Info("suite started", slog.Int("fixtures", len(fixtures)))

	record := func(c Case) {
		report.Cases = append(report.Cases, c)
		if r.opts.OnCase != nil {
			r.opts.OnCase(c)
		}
	}

	for _, f := range fixtures {
		res, err := r.RunFixture(ctx, f)
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Duration = time.Since(report.Started)
			return report, ctxErr
		}
		record(judge(f.Name, "", f.Expect, res, err))

		for _, call := range f.Calls {
			res, err := r.CallFixture(ctx, f, call.Function, call.Args...)
			if ctxErr := ctx.Err(); ctxErr != nil {
				report.Duration = time.Since(report.Started)
				return report, ctxErr
			}
			record(judge(f.Name, call.Label(), call.Expect, res, err))
		}
	}

	report.Duration = time.Since(report.Started)
	pass, xfail, fail := report.Counts()
	log.Info("suite finished",
		slog.Int("pass", pass),
		slog.Int("xfail", xfail),
		slog.Int("fail", fail),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func judge(name, call string, exp fixture.Expectation, res *Result, err error) Case {
	c := Case{Fixture: name, Call: call, Result: res}
	if err != nil {
		c.Verdict = VerdictFail
		c.Mismatches = []Mismatch{{Field: "runner", Detail: err.Error()}}
		return c
	}
	c.Outcome = res.Outcome
	c.Errors = res.Unhandled
	c.Duration = res.Duration
	c.Mismatches = Verify(exp, res)
	switch {
	case len(c.Mismatches) > 0:
		c.Verdict = VerdictFail
	case res.Outcome == fixture.OutcomeUnhandled, res.Outcome == fixture.OutcomeTimeout:
		c.Verdict = VerdictXFail
	default:
		c.Verdict = VerdictPass
	}
	return c
}
