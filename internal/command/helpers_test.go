package command

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute parses args with the command's flags and runs it, returning
// what it wrote.
func execute(t *testing.T, cmd Command, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), cmd, args...)
}

// executeContext is execute with a caller supplied context.
func executeContext(t *testing.T, ctx context.Context, cmd Command, args ...string) (string, string, error) {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var flagOutput bytes.Buffer
	fs.SetOutput(&flagOutput)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse(args), flagOutput.String())
	var stdout, stderr bytes.Buffer
	err := cmd.Execute(ctx, fs.Args(), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// isolateEnv clears every environment variable the fixture commands read.
func isolateEnv(t *testing.T) {
	t.Helper()
	unsetEnv(t, "FXR_FIXTURES", "FXR_TIMEOUT", "FXR_LOG_FILE", "FXR_LOG_LEVEL")
}

// writeFixtures lays out a fixtures directory and returns its path.
func writeFixtures(t *testing.T, manifest string, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixtures.yaml"), []byte(manifest), 0644))
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
	}
	return dir
}
