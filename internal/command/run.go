package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/joeycumines/fxr/internal/config"
	"github.com/joeycumines/fxr/internal/report"
	"github.com/joeycumines/fxr/internal/runner"
)

// ErrCasesFailed is returned by the run command when any case failed.
var ErrCasesFailed = errors.New("fixture cases failed")

// RunCommand runs fixtures and their declared calls, verifies them and
// prints a report.
type RunCommand struct {
	*BaseCommand
	config   *config.Config
	fixtures fixtureFlags
	format   string
	colorArg string
	noColor  bool
	echo     bool
	progress bool
	verbose  bool
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run fixtures and verify their behaviour",
			"run [options] [fixture...]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	schema := config.DefaultSchema()
	c.fixtures.setup(fs, true)
	fs.StringVar(&c.format, "format", schema.ResolveCommand(c.config, c.Name(), "format"), "Report format: text, json, transcript")
	fs.StringVar(&c.colorArg, "color", schema.ResolveCommand(c.config, c.Name(), "color"), "Color mode: auto, always, never")
	fs.BoolVar(&c.noColor, "no-color", false, "Disable colors (same as -color=never)")
	fs.BoolVar(&c.echo, "echo", schema.Bool(c.config, c.Name(), "echo"), "Echo fixture console output while running")
	fs.BoolVar(&c.progress, "progress", schema.Bool(c.config, c.Name(), "progress"), "Show a progress bar on stderr")
	fs.BoolVar(&c.verbose, "verbose", schema.Bool(c.config, c.Name(), "verbose"), "List console output of passing cases too")
}

// Execute runs the selected fixtures, or all of them.
func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if c.noColor {
		c.colorArg = "never"
	}
	colored, err := colorEnabled(c.colorArg)
	if err != nil {
		return err
	}
	render, err := c.renderer(colored)
	if err != nil {
		return err
	}

	catalog, err := c.fixtures.catalog(c.config)
	if err != nil {
		return err
	}
	selected, err := catalog.Select(args...)
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
	if c.progress {
		bar := newProgress(stderr, runner.CaseCount(selected), colored)
		opts.OnCase = bar.record
		defer bar.finish()
	}

	rep, err := runner.New(catalog, opts).RunSuite(ctx, selected)
	if err != nil {
		// a cancelled suite still reports the cases it finished
		if rep != nil {
			if rerr := render(stdout, rep); rerr != nil {
				return errors.Join(err, fmt.Errorf("failed to write report: %w", rerr))
			}
		}
		return err
	}
	if err := render(stdout, rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !rep.Passed() {
		_, _, fail := rep.Counts()
		return fmt.Errorf("%w: %d of %d", ErrCasesFailed, fail, len(rep.Cases))
	}
	return nil
}

func (c *RunCommand) renderer(colored bool) (func(io.Writer, *runner.Report) error, error) {
	switch c.format {
	case "text", "":
		opts := report.TextOptions{Color: colored, Verbose: c.verbose}
		return func(w io.Writer, rep *runner.Report) error {
			return report.Text(w, rep, opts)
		}, nil
	case "json":
		return report.JSON, nil
	case "transcript":
		return report.Transcripts, nil
	}
	return nil, fmt.Errorf("invalid format: %s", c.format)
}

// progress drives a progress bar from suite case callbacks.
type progress struct {
	bar               *progressbar.ProgressBar
	pass, xfail, fail int
	label             *color.Color
	good, warn, bad   *color.Color
}

func newProgress(w io.Writer, total int, colored bool) *progress {
	p := &progress{
		label: color.New(color.FgCyan),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.label, p.good, p.warn, p.bad} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(p.describe()),
		progressbar.OptionSetWidth(barWidth(w)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        p.label.Sprint("█"),
			SaucerHead:    p.label.Sprint("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(colored),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return p
}

// barWidth fits the bar next to its description on a terminal.
func barWidth(w io.Writer) int {
	const width = 40
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			return max(10, min(width, cols-70))
		}
	}
	return width
}

func (p *progress) describe() string {
	return p.label.Sprint("Running fixtures: ") +
		p.good.Sprintf("[pass: %d", p.pass) + " | " +
		p.warn.Sprintf("xfail: %d", p.xfail) + " | " +
		p.bad.Sprintf("fail: %d]", p.fail)
}

func (p *progress) record(c runner.Case) {
	switch c.Verdict {
	case runner.VerdictPass:
		p.pass++
	case runner.VerdictXFail:
		p.xfail++
	default:
		p.fail++
	}
	p.bar.Describe(p.describe())
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	_ = p.bar.Finish()
}
