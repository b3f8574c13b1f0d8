package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/joeycumines/fxr/internal/fixture"
	"github.com/joeycumines/fxr/internal/runner"
	"github.com/joeycumines/fxr/internal/scripting"
)

type jsonReport struct {
	RunID      string     `json:"runId"`
	Started    time.Time  `json:"started"`
	DurationMS int64      `json:"durationMs"`
	Passed     bool       `json:"passed"`
	Counts     jsonCounts `json:"counts"`
	Cases      []jsonCase `json:"cases"`
}

type jsonCounts struct {
	Pass  int `json:"pass"`
	XFail int `json:"xfail"`
	Fail  int `json:"fail"`
}

type jsonCase struct {
	Fixture    string                   `json:"fixture"`
	Call       string                   `json:"call,omitempty"`
	Verdict    runner.Verdict           `json:"verdict"`
	Outcome    fixture.Outcome          `json:"outcome,omitempty"`
	DurationMS int64                    `json:"durationMs"`
	Mismatches []runner.Mismatch        `json:"mismatches,omitempty"`
	Errors     []*scripting.ScriptError `json:"errors,omitempty"`
	Logs       []scripting.Line         `json:"logs,omitempty"`
	Value      any                      `json:"value,omitempty"`
}

// JSON writes rep as an indented JSON document.
func JSON(w io.Writer, rep *runner.Report) error {
	pass, xfail, fail := rep.Counts()
	doc := jsonReport{
		RunID:      rep.RunID,
		Started:    rep.Started,
		DurationMS: rep.Duration.Milliseconds(),
		Passed:     fail == 0,
		Counts:     jsonCounts{Pass: pass, XFail: xfail, Fail: fail},
		Cases:      make([]jsonCase, 0, len(rep.Cases)),
	}
	for _, c := range rep.Cases {
		jc := jsonCase{
			Fixture:    c.Fixture,
			Call:       c.Call,
			Verdict:    c.Verdict,
			Outcome:    c.Outcome,
			DurationMS: c.Duration.Milliseconds(),
			Mismatches: c.Mismatches,
			Errors:     c.Errors,
		}
		if c.Result != nil {
			jc.Logs = c.Result.Logs
			jc.Value = JSONValue(c.Result.Value)
		}
		doc.Cases = append(doc.Cases, jc)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
