package report

import (
	"encoding/json"
	"io"

	"github.com/joeycumines/fxr/internal/runner"
)

// Transcript writes a stable plain-text record of res: outcome, console
// lines, escaped errors and value. Timings are omitted so the output can be
// compared between runs.
func Transcript(w io.Writer, res *runner.Result) error {
	ew := &errWriter{w: w}
	ew.printf("== %s\n", res.Label())
	ew.printf("outcome: %s\n", res.Outcome)
	for _, line := range res.Logs {
		ew.printf("[%s] %s\n", line.Stream, line.Text)
	}
	for _, se := range res.Unhandled {
		ew.printf("unhandled %s (%s): %s\n", se.Kind, se.Origin, se.Error())
	}
	if res.Value != nil {
		ew.printf("value: %s\n", stableJSON(res.Value))
	}
	return ew.err
}

// Transcripts writes the transcript of every case in rep that has a result.
func Transcripts(w io.Writer, rep *runner.Report) error {
	for i, c := range rep.Cases {
		if c.Result == nil {
			continue
		}
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := Transcript(w, c.Result); err != nil {
			return err
		}
	}
	return nil
}

// Unprintable stands in for a value encoding/json cannot render, such as a
// function returned by a script.
const Unprintable = "<unprintable>"

// JSONValue returns v when it encodes as JSON and Unprintable otherwise.
func JSONValue(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return Unprintable
	}
	return v
}

// stableJSON renders v as compact JSON. encoding/json sorts map keys.
func stableJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return Unprintable
	}
	return string(data)
}
