package command

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/fxr/internal/config"
)

// unsetEnv clears the given variables for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestResolveLogConfig_Level(t *testing.T) {
	unsetEnv(t, "FXR_LOG_LEVEL", "FXR_LOG_FILE")

	for _, tc := range []struct {
		name  string
		flag  string
		cfg   string
		env   string
		level slog.Level
	}{
		{name: "default", level: slog.LevelWarn},
		{name: "config", cfg: "debug", level: slog.LevelDebug},
		{name: "env beats config", cfg: "debug", env: "error", level: slog.LevelError},
		{name: "flag beats all", flag: "INFO", cfg: "debug", env: "error", level: slog.LevelInfo},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("FXR_LOG_LEVEL", tc.env)
			}
			cfg := config.NewConfig()
			if tc.cfg != "" {
				cfg.SetGlobalOption("log.level", tc.cfg)
			}
			lc, err := resolveLogConfig("", tc.flag, cfg)
			require.NoError(t, err)
			defer lc.Close()
			assert.Equal(t, tc.level, lc.level)
			assert.Nil(t, lc.logFile)
		})
	}
}

func TestResolveLogConfig_InvalidLevel(t *testing.T) {
	unsetEnv(t, "FXR_LOG_LEVEL", "FXR_LOG_FILE")
	_, err := resolveLogConfig("", "loud", nil)
	assert.EqualError(t, err, "invalid log level: loud")
}

func TestResolveLogConfig_File(t *testing.T) {
	unsetEnv(t, "FXR_LOG_LEVEL", "FXR_LOG_FILE")
	path := filepath.Join(t.TempDir(), "logs", "fxr.log")

	lc, err := resolveLogConfig(path, "info", nil)
	require.NoError(t, err)
	require.NotNil(t, lc.logFile)

	var stderr bytes.Buffer
	logger := lc.logger(&stderr)
	logger.Info("suite started", "fixtures", 5)
	logger.Debug("dropped")
	require.NoError(t, lc.Close())
	assert.Empty(t, stderr.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "suite started", entry["msg"])
	assert.Equal(t, float64(5), entry["fixtures"])
}

func TestResolveLogConfig_Stderr(t *testing.T) {
	unsetEnv(t, "FXR_LOG_LEVEL", "FXR_LOG_FILE")
	lc, err := resolveLogConfig("", "", nil)
	require.NoError(t, err)

	var stderr bytes.Buffer
	logger := lc.logger(&stderr)
	logger.Info("quiet")
	logger.WarnContext(context.Background(), "loud", "fixture", "runtime_error")
	out := stderr.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "level=WARN msg=loud fixture=runtime_error")
}

func TestLogFile_Rotation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fxr.log")
	l, err := openLogFile(path, 1024, 2)
	require.NoError(t, err)

	chunk := func(b byte) []byte { return bytes.Repeat([]byte{b}, 600) }
	for _, b := range []byte("abcd") {
		n, err := l.Write(chunk(b))
		require.NoError(t, err)
		assert.Equal(t, 600, n)
	}
	require.NoError(t, l.Close())

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, string(chunk('d')), read(path))
	assert.Equal(t, string(chunk('c')), read(path+".1"))
	assert.Equal(t, string(chunk('b')), read(path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestLogFile_NoBackups(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fxr.log")
	l, err := openLogFile(path, 0, -1)
	require.NoError(t, err)
	_, err = l.Write(bytes.Repeat([]byte{'a'}, 1000))
	require.NoError(t, err)
	_, err = l.Write(bytes.Repeat([]byte{'b'}, 100))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 100), string(data))
	assert.NoFileExists(t, path+".1")
}

func TestLogFile_AppendsExisting(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fxr.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0644))

	l, err := openLogFile(path, 1<<20, 1)
	require.NoError(t, err)
	_, err = l.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestLogFile_WriteAfterClose(t *testing.T) {
	t.Parallel()
	l, err := openLogFile(filepath.Join(t.TempDir(), "fxr.log"), 1024, 1)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
