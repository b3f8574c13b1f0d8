package command

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"

	"github.com/joeycumines/fxr/internal/config"
	"github.com/joeycumines/fxr/internal/fixture"
)

// fixtureFlags are the flags shared by commands that load or execute
// fixtures.
type fixtureFlags struct {
	dir      string
	timeout  time.Duration
	logFile  string
	logLevel string
}

func (f *fixtureFlags) setup(fs *flag.FlagSet, execute bool) {
	fs.StringVar(&f.dir, "dir", "", "Directory containing fixtures.yaml (default: bundled fixtures)")
	if execute {
		fs.DurationVar(&f.timeout, "timeout", 0, "Time each fixture may take to settle (default from config, 5s)")
		fs.StringVar(&f.logFile, "log-file", "", "Write JSON diagnostics to this file (rotated by size)")
		fs.StringVar(&f.logLevel, "log-level", "", "Diagnostics level: debug, info, warn, error")
	}
}

// catalog loads the fixtures from -dir, the fixtures.dir option, or the
// bundled set, in that order.
func (f *fixtureFlags) catalog(cfg *config.Config) (*fixture.Catalog, error) {
	dir := f.dir
	if dir == "" {
		dir = config.DefaultSchema().Resolve(cfg, "fixtures.dir")
	}
	if dir == "" {
		return fixture.Default(), nil
	}
	c, err := fixture.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixtures: %w", err)
	}
	return c, nil
}

func (f *fixtureFlags) resolveTimeout(cfg *config.Config, section string) time.Duration {
	if f.timeout > 0 {
		return f.timeout
	}
	return config.DefaultSchema().Duration(cfg, section, "fixtures.timeout")
}

// logger opens the diagnostics sink. The returned close function must be
// called when the command is done.
func (f *fixtureFlags) logger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	lc, err := resolveLogConfig(f.logFile, f.logLevel, cfg)
	if err != nil {
		return nil, nil, err
	}
	return lc.logger(stderr), func() { _ = lc.Close() }, nil
}

// colorEnabled resolves a color mode of auto, always or never. Auto defers
// to color.NoColor, which accounts for NO_COLOR and a non-terminal stdout.
func colorEnabled(mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		return !color.NoColor, nil
	}
	return false, fmt.Errorf("invalid color mode: %s", mode)
}
