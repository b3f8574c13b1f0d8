package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/fxr/internal/config"
)

func completionRegistry(cfg *config.Config) (*Registry, *CompletionCommand) {
	registry := NewRegistry()
	completion := NewCompletionCommand(registry, cfg)
	registry.Register(completion)
	registry.Register(NewRunCommand(cfg))
	registry.Register(NewCallCommand(cfg))
	return registry, completion
}

func TestCompletionCommand_Bash(t *testing.T) {
	isolateEnv(t)
	_, completion := completionRegistry(nil)
	stdout, _, err := execute(t, completion)
	require.NoError(t, err)
	assert.Contains(t, stdout, `local commands="call completion run"`)
	assert.Contains(t, stdout, `local fixtures="js_patch network_error runtime_error simple_patch test_script"`)
	assert.Contains(t, stdout, "complete -F _fxr_completion fxr\n")
}

func TestCompletionCommand_Zsh(t *testing.T) {
	isolateEnv(t)
	_, completion := completionRegistry(nil)
	stdout, _, err := execute(t, completion, "ZSH")
	require.NoError(t, err)
	assert.Contains(t, stdout, "#compdef fxr\n")
	assert.Contains(t, stdout, "        'run:Run fixtures and verify their behaviour'\n")
	assert.Contains(t, stdout, "fixtures=(js_patch network_error runtime_error simple_patch test_script)")
}

func TestCompletionCommand_FishUsesConfiguredFixtures(t *testing.T) {
	isolateEnv(t)
	dir := writeFixtures(t, "fixtures:\n  - name: alpha\n  - name: beta\n", map[string]string{
		"alpha.js": "",
		"beta.js":  "",
	})
	cfg := config.NewConfig()
	cfg.SetGlobalOption("fixtures.dir", dir)
	_, completion := completionRegistry(cfg)

	stdout, _, err := execute(t, completion, "fish")
	require.NoError(t, err)
	assert.Contains(t, stdout, "complete -c fxr -n '__fish_use_subcommand' -a 'call' -d 'Load a fixture and call one of its functions'\n")
	assert.Contains(t, stdout, "-a 'alpha beta' -d 'Fixture'")
}

func TestCompletionCommand_Errors(t *testing.T) {
	isolateEnv(t)
	_, completion := completionRegistry(nil)

	_, stderr, err := execute(t, completion, "tcsh")
	assert.EqualError(t, err, "unsupported shell: tcsh")
	assert.Contains(t, stderr, "Supported shells: bash, zsh, fish")

	_, _, err = execute(t, completion, "bash", "zsh")
	assert.EqualError(t, err, "too many arguments")
}

func TestShellQuote(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `it'\''s`, shellQuote("it's"))
}
