package runner

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/joeycumines/fxr/internal/fixture"
)

// Mismatch is one way a Result differs from its expectation.
type Mismatch struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (m Mismatch) String() string {
	return m.Field + ": " + m.Detail
}

// Verify checks res against exp and returns every difference found. An
// empty slice means the execution behaved as expected.
func Verify(exp fixture.Expectation, res *Result) []Mismatch {
	var out []Mismatch
	add := func(field, format string, args ...any) {
		out = append(out, Mismatch{Field: field, Detail: fmt.Sprintf(format, args...)})
	}

	if exp.Outcome != "" && exp.Outcome != res.Outcome {
		add("outcome", "want %s, got %s", exp.Outcome, res.Outcome)
	}

	if exp.StrictLogs {
		checkLogsStrict(exp.Logs, res, add)
	} else {
		checkLogs(exp.Logs, res, add)
	}

	if exp.Error != nil {
		found := false
		for _, se := range res.Unhandled {
			if exp.Error.Matches(se.Class, se.Message) {
				found = true
				break
			}
		}
		if !found {
			add("error", "want %s, got %s", exp.Error, describeErrors(res))
		}
	}

	if exp.Result != nil && !matchResult(exp.Result, res.Value) {
		add("result", "want %s, got %s", render(exp.Result), render(res.Value))
	}

	for _, field := range exp.Timestamps {
		if msg := checkTimestamp(res.Value, field); msg != "" {
			add("result."+field, "%s", msg)
		}
	}

	checkAsserts(exp.Assert, res, add)
	return out
}

// VerifyCall checks a call Result against the call's expectation.
func VerifyCall(call fixture.CallExpectation, res *Result) []Mismatch {
	return Verify(call.Expect, res)
}

// checkLogs matches want as an ordered subsequence of the emitted lines.
func checkLogs(want []fixture.LogExpectation, res *Result, add func(string, string, ...any)) {
	i := 0
	for _, line := range res.Logs {
		if i < len(want) && want[i].Matches(string(line.Stream), line.Text) {
			i++
		}
	}
	for ; i < len(want); i++ {
		add("logs", "missing %s", want[i])
	}
}

// checkLogsStrict requires the emitted lines to be exactly want, in order.
func checkLogsStrict(want []fixture.LogExpectation, res *Result, add func(string, string, ...any)) {
	for i, line := range res.Logs {
		if i >= len(want) {
			add("logs", "unexpected [%s] %q", line.Stream, line.Text)
			continue
		}
		if !want[i].Matches(string(line.Stream), line.Text) {
			add("logs", "line %d: want %s, got [%s] %q", i+1, want[i], line.Stream, line.Text)
		}
	}
	for i := len(res.Logs); i < len(want); i++ {
		add("logs", "missing %s", want[i])
	}
}

func describeErrors(res *Result) string {
	if len(res.Unhandled) == 0 {
		return "no unhandled error"
	}
	parts := make([]string, len(res.Unhandled))
	for i, se := range res.Unhandled {
		parts[i] = se.Error()
	}
	return strings.Join(parts, "; ")
}

// matchResult compares an expected value with an actual one. A map is a
// subset match on its top-level fields; anything else, including values
// nested in such a map, must be equal after number normalisation.
func matchResult(want, got any) bool {
	wm, ok := normalize(want).(map[string]any)
	if !ok {
		return reflect.DeepEqual(normalize(want), normalize(got))
	}
	gm, ok := normalize(got).(map[string]any)
	if !ok {
		return false
	}
	for k, wv := range wm {
		gv, ok := gm[k]
		if !ok || !reflect.DeepEqual(wv, gv) {
			return false
		}
	}
	return true
}

// normalize maps numbers onto float64 and converts maps and slices to their
// generic forms, so YAML-decoded and script-exported values compare.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return v
}

func checkTimestamp(value any, field string) string {
	m, ok := normalize(value).(map[string]any)
	if !ok {
		return "result is not an object"
	}
	raw, ok := m[field]
	if !ok {
		return "missing"
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Sprintf("want an ISO-8601 string, got %s", render(raw))
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return fmt.Sprintf("%q is not an ISO-8601 time", s)
	}
	return ""
}

func render(v any) string {
	if v == nil {
		return "undefined"
	}
	data, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
