package command

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/fxr/internal/config"
)

// syncBuffer is a bytes.Buffer safe for a writer and a reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLogCommand_Tail(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "fxr.log")
	appendFile(t, path, "one\ntwo\nthree\nfour\n")

	stdout, _, err := execute(t, NewLogCommand(nil), "-file", path, "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "three\nfour\n", stdout)
}

func TestLogCommand_PathFromConfig(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "fxr.log")
	appendFile(t, path, "entry\n")
	cfg := config.NewConfig()
	cfg.SetGlobalOption("log.file", path)

	stdout, _, err := execute(t, NewLogCommand(cfg))
	require.NoError(t, err)
	assert.Equal(t, "entry\n", stdout)
}

func TestLogCommand_FixtureFilter(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "fxr.log")
	appendFile(t, path, strings.Join([]string{
		`{"level":"INFO","msg":"suite started"}`,
		`{"level":"DEBUG","msg":"calling fixture function","fixture":"js_patch"}`,
		`not json`,
		`{"level":"WARN","msg":"fixture finished","fixture":"runtime_error"}`,
		`{"level":"INFO","msg":"fixture finished","fixture":"js_patch"}`,
	}, "\n")+"\n")

	stdout, _, err := execute(t, NewLogCommand(nil), "-file", path, "-fixture", "js_patch")
	require.NoError(t, err)
	assert.Equal(t, `{"level":"DEBUG","msg":"calling fixture function","fixture":"js_patch"}`+"\n"+
		`{"level":"INFO","msg":"fixture finished","fixture":"js_patch"}`+"\n", stdout)
}

func TestLogCommand_Errors(t *testing.T) {
	isolateEnv(t)

	_, stderr, err := execute(t, NewLogCommand(nil))
	assert.EqualError(t, err, "no log file configured")
	assert.Contains(t, stderr, "No log file configured")

	missing := filepath.Join(t.TempDir(), "missing.log")
	_, _, err = execute(t, NewLogCommand(nil), "-file", missing)
	assert.EqualError(t, err, "log file not found: "+missing)

	_, _, err = execute(t, NewLogCommand(nil), "-file", missing, "rotate")
	assert.EqualError(t, err, "unknown subcommand: rotate")
}

// startFollow runs "log tail" until the returned cancel is called, then
// returns the command's error.
func startFollow(t *testing.T, path string) (*syncBuffer, func() error) {
	t.Helper()
	cmd := NewLogCommand(nil)
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse([]string{"-file", path}))
	cmd.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- cmd.Execute(ctx, append([]string{"tail"}, fs.Args()...), out, io.Discard) }()
	return out, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("log tail did not stop")
			return nil
		}
	}
}

func TestLogCommand_Follow(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "fxr.log")
	appendFile(t, path, "old\n")

	out, stop := startFollow(t, path)
	assert.Eventually(t, func() bool { return out.String() == "old\n" }, 2*time.Second, 5*time.Millisecond)

	appendFile(t, path, "new ")
	appendFile(t, path, "line\n")
	assert.Eventually(t, func() bool { return out.String() == "old\nnew line\n" }, 2*time.Second, 5*time.Millisecond)

	// rotation: the live file is renamed away and a fresh one created
	require.NoError(t, os.Rename(path, path+".1"))
	appendFile(t, path, "after rotate\n")
	assert.Eventually(t, func() bool { return strings.HasSuffix(out.String(), "after rotate\n") }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestLogCommand_FollowWaitsForFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "later.log")

	out, stop := startFollow(t, path)
	time.Sleep(30 * time.Millisecond)
	appendFile(t, path, "hello\n")
	// lines present when the file appears are printed as the initial tail
	assert.Eventually(t, func() bool { return out.String() == "hello\n" }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestLastLines(t *testing.T) {
	t.Parallel()
	all := func(string) bool { return true }
	tail := func(input string, n int) []string {
		lines, err := lastLines(strings.NewReader(input), n, all)
		require.NoError(t, err)
		return lines
	}
	assert.Nil(t, tail("a\nb\n", 0))
	assert.Empty(t, tail("", 3))
	assert.Equal(t, []string{"a", "b"}, tail("a\nb\n", 5))
	assert.Equal(t, []string{"c", "d", "e"}, tail("a\nb\nc\nd\ne", 3))
}

func TestLastLines_LongLines(t *testing.T) {
	t.Parallel()
	all := func(string) bool { return true }

	long := strings.Repeat("x", 100*1024)
	lines, err := lastLines(strings.NewReader("a\n"+long+"\nb\n"), 2, all)
	require.NoError(t, err)
	assert.Equal(t, []string{long, "b"}, lines)

	_, err = lastLines(strings.NewReader(strings.Repeat("y", maxLogLine+1)+"\nz\n"), 2, all)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
