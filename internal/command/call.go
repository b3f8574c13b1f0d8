package command

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/fxr/internal/config"
	"github.com/joeycumines/fxr/internal/report"
	"github.com/joeycumines/fxr/internal/runner"
)

// CallCommand loads a fixture and invokes one of its functions.
type CallCommand struct {
	*BaseCommand
	config   *config.Config
	fixtures fixtureFlags
	format   string
	echo     bool
}

// NewCallCommand creates a new call command.
func NewCallCommand(cfg *config.Config) *CallCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &CallCommand{
		BaseCommand: NewBaseCommand(
			"call",
			"Load a fixture and call one of its functions",
			"call [options] <fixture> <function> [arg...]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the call command.
func (c *CallCommand) SetupFlags(fs *flag.FlagSet) {
	c.fixtures.setup(fs, true)
	fs.StringVar(&c.format, "format", "transcript", "Output format: transcript, json")
	fs.BoolVar(&c.echo, "echo", config.DefaultSchema().Bool(c.config, c.Name(), "echo"), "Echo all console output, including the fixture body's")
}

// Execute calls the function. Each arg is decoded as JSON, falling back to
// a plain string. The command fails when the call times out or an error
// escapes it.
func (c *CallCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 2 {
		_, _ = fmt.Fprintf(stderr, "Usage: fxr %s\n", c.Usage())
		return errors.New("missing fixture or function name")
	}
	if c.format != "transcript" && c.format != "json" && c.format != "" {
		return fmt.Errorf("invalid format: %s", c.format)
	}
	name, function := args[0], args[1]
	callArgs := parseCallArgs(args[2:])

	catalog, err := c.fixtures.catalog(c.config)
	if err != nil {
		return err
	}
	logger, closeLog, err := c.fixtures.logger(c.config, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := runner.Options{
		Timeout: c.fixtures.resolveTimeout(c.config, c.Name()),
		Logger:  logger,
	}
	if c.echo {
		opts.Stdout, opts.Stderr = stdout, stderr
	}
	res, err := runner.New(catalog, opts).Call(ctx, name, function, callArgs...)
	if err != nil {
		return err
	}

	switch c.format {
	case "json":
		out := *res
		out.Value = report.JSONValue(res.Value)
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&out); err != nil {
			return err
		}
	default:
		if err := report.Transcript(stdout, res); err != nil {
			return err
		}
	}
	return res.Err()
}

func parseCallArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		out[i] = v
	}
	return out
}
