package runner

import (
	"github.com/expr-lang/expr"
)

// assertEnv is the environment assert expressions are evaluated in.
type assertEnv struct {
	Result  any      `expr:"result"`
	Outcome string   `expr:"outcome"`
	Stdout  []string `expr:"stdout"`
	Stderr  []string `expr:"stderr"`
	Errors  []string `expr:"errors"`
}

func newAssertEnv(res *Result) assertEnv {
	env := assertEnv{
		Result:  normalize(res.Value),
		Outcome: string(res.Outcome),
		Stdout:  res.Stdout(),
		Stderr:  res.Stderr(),
		Errors:  make([]string, len(res.Unhandled)),
	}
	for i, se := range res.Unhandled {
		env.Errors[i] = se.Error()
	}
	return env
}

// checkAsserts evaluates each expression against res. Expressions that do
// not compile, fail at run time or come out false are mismatches.
func checkAsserts(asserts []string, res *Result, add func(string, string, ...any)) {
	if len(asserts) == 0 {
		return
	}
	env := newAssertEnv(res)
	for _, src := range asserts {
		program, err := expr.Compile(src, expr.Env(assertEnv{}), expr.AsBool())
		if err != nil {
			add("assert", "%s: %v", src, err)
			continue
		}
		out, err := expr.Run(program, env)
		if err != nil {
			add("assert", "%s: %v", src, err)
			continue
		}
		if ok, _ := out.(bool); !ok {
			add("assert", "%s: false", src)
		}
	}
}
