package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/fxr/internal/config"
)

// LogCommand prints, and optionally follows, the diagnostics log written by
// run and call when log.file is set.
type LogCommand struct {
	*BaseCommand
	config  *config.Config
	follow  bool
	lines   int
	file    string
	fixture string
	poll    time.Duration
}

// NewLogCommand creates a new log command.
func NewLogCommand(cfg *config.Config) *LogCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &LogCommand{
		BaseCommand: NewBaseCommand("log", "Show or follow the diagnostics log", "log [tail] [options]"),
		config:      cfg,
		poll:        200 * time.Millisecond,
	}
}

// SetupFlags configures the flags for the log command.
func (c *LogCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.follow, "f", false, "Follow the log file (like tail -f)")
	fs.BoolVar(&c.follow, "follow", false, "Follow the log file (like tail -f)")
	fs.IntVar(&c.lines, "n", 10, "Number of lines to show from the end of the file")
	fs.StringVar(&c.file, "file", "", "Path to log file (overrides log.file)")
	fs.StringVar(&c.fixture, "fixture", "", "Only show entries about this fixture")
}

// Execute prints the last lines of the log. "log tail" is "log -f".
// Following stops when ctx is canceled.
func (c *LogCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "tail" {
		c.follow = true
		args = args[1:]
	}
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unknown subcommand: %s\n", args[0])
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}

	path := c.file
	if path == "" {
		path = config.DefaultSchema().Resolve(c.config, "log.file")
	}
	if path == "" {
		_, _ = fmt.Fprintln(stderr, "No log file configured. Use -file or set log.file in config.")
		return errors.New("no log file configured")
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && c.follow:
		_, _ = fmt.Fprintf(stderr, "Waiting for log file: %s\n", path)
		if f, err = c.waitForFile(ctx, path); err != nil {
			return err
		}
	case os.IsNotExist(err):
		_, _ = fmt.Fprintf(stderr, "Log file does not exist: %s\n", path)
		return fmt.Errorf("log file not found: %s", path)
	default:
		return fmt.Errorf("failed to open log file: %w", err)
	}

	lines, err := lastLines(f, c.lines, c.matches)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to read log file: %w", err)
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(stdout, line)
	}
	if !c.follow {
		return f.Close()
	}
	return c.followFile(ctx, f, path, stdout)
}

// matches reports whether a log line is about the selected fixture. Lines
// that are not JSON entries only pass when no fixture is selected.
func (c *LogCommand) matches(line string) bool {
	if c.fixture == "" {
		return true
	}
	var entry struct {
		Fixture string `json:"fixture"`
	}
	return json.Unmarshal([]byte(line), &entry) == nil && entry.Fixture == c.fixture
}

// maxLogLine bounds a single log line read by the tail.
const maxLogLine = 16 << 20

// lastLines returns the last n lines of r accepted by keep, using a ring
// buffer so the whole file is never held in memory.
func lastLines(r io.Reader, n int, keep func(string) bool) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		if line := scanner.Text(); keep(line) {
			ring[count%n] = line
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	total := min(count, n)
	out := make([]string, total)
	for i := range out {
		out[i] = ring[(count-total+i)%n]
	}
	return out, nil
}

// followFile polls for appended lines. A file that shrinks or is replaced
// at path, as on rotation, is reopened and read from the start.
func (c *LogCommand) followFile(ctx context.Context, f *os.File, path string, stdout io.Writer) error {
	defer func() { _ = f.Close() }()
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	reader := bufio.NewReader(f)
	var partial strings.Builder

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if rotated(f, path, pos) {
			next, err := os.Open(path)
			if err != nil {
				continue
			}
			_ = f.Close()
			f, reader, pos = next, bufio.NewReader(next), 0
			partial.Reset()
		}

		for {
			chunk, err := reader.ReadString('\n')
			pos += int64(len(chunk))
			partial.WriteString(chunk)
			if err != nil {
				break
			}
			line := strings.TrimSuffix(partial.String(), "\n")
			partial.Reset()
			if c.matches(line) {
				_, _ = fmt.Fprintln(stdout, line)
			}
		}
	}
}

func rotated(f *os.File, path string, pos int64) bool {
	current, err := f.Stat()
	if err != nil {
		return true
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !os.SameFile(current, onDisk) || onDisk.Size() < pos
}

func (c *LogCommand) waitForFile(ctx context.Context, path string) (*os.File, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
