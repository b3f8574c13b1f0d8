package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/fxr/internal/config"
)

// CompletionCommand generates shell completion scripts. Fixture names are
// baked in from the configured catalog, so the script completes the
// arguments of run and call.
type CompletionCommand struct {
	*BaseCommand
	registry *Registry
	config   *config.Config
}

// NewCompletionCommand creates a new completion command.
func NewCompletionCommand(registry *Registry, cfg *config.Config) *CompletionCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &CompletionCommand{
		BaseCommand: NewBaseCommand(
			"completion",
			"Generate shell completion scripts",
			"completion [bash|zsh|fish]",
		),
		registry: registry,
		config:   cfg,
	}
}

// Execute writes the completion script for the shell, bash by default.
func (c *CompletionCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: fxr %s\n", c.Usage())
		return errors.New("too many arguments")
	}
	shell := "bash"
	if len(args) == 1 {
		shell = strings.ToLower(args[0])
	}

	var flags fixtureFlags
	catalog, err := flags.catalog(c.config)
	if err != nil {
		return err
	}
	fixtures := catalog.Names()

	switch shell {
	case "bash":
		return writeBashCompletion(stdout, c.registry.List(), fixtures)
	case "zsh":
		return c.writeZshCompletion(stdout, fixtures)
	case "fish":
		return c.writeFishCompletion(stdout, fixtures)
	}
	_, _ = fmt.Fprintln(stderr, "Supported shells: bash, zsh, fish")
	return fmt.Errorf("unsupported shell: %s", shell)
}

func writeBashCompletion(w io.Writer, commands, fixtures []string) error {
	_, err := fmt.Fprintf(w, `# bash completion for fxr
# install: source <(fxr completion bash)

_fxr_completion() {
    local cur="${COMP_WORDS[COMP_CWORD]}"
    local commands="%s"
    local fixtures="%s"
    COMPREPLY=()

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=($(compgen -W "${commands}" -- "${cur}"))
        return 0
    fi

    case "${COMP_WORDS[1]}" in
        run)
            COMPREPLY=($(compgen -W "${fixtures}" -- "${cur}"))
            ;;
        call)
            if [[ ${COMP_CWORD} -eq 2 ]]; then
                COMPREPLY=($(compgen -W "${fixtures}" -- "${cur}"))
            fi
            ;;
        help)
            COMPREPLY=($(compgen -W "${commands}" -- "${cur}"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "${cur}"))
            ;;
        *)
            COMPREPLY=($(compgen -f -- "${cur}"))
            ;;
    esac
}

complete -F _fxr_completion fxr
`, strings.Join(commands, " "), strings.Join(fixtures, " "))
	return err
}

func (c *CompletionCommand) writeZshCompletion(w io.Writer, fixtures []string) error {
	var commands strings.Builder
	for _, name := range c.registry.List() {
		if cmd, err := c.registry.Get(name); err == nil {
			_, _ = fmt.Fprintf(&commands, "        '%s:%s'\n", name, shellQuote(cmd.Description()))
		}
	}
	_, err := fmt.Fprintf(w, `#compdef fxr
# zsh completion for fxr
# install: fxr completion zsh > "${fpath[1]}/_fxr"

_fxr() {
    local -a commands fixtures
    commands=(
%s    )
    fixtures=(%s)

    if (( CURRENT == 2 )); then
        _describe 'command' commands
        return
    fi

    case ${words[2]} in
        run) _values -w 'fixture' $fixtures ;;
        call) (( CURRENT == 3 )) && _values 'fixture' $fixtures ;;
        completion) _values 'shell' bash zsh fish ;;
        *) _files ;;
    esac
}

_fxr "$@"
`, commands.String(), strings.Join(fixtures, " "))
	return err
}

func (c *CompletionCommand) writeFishCompletion(w io.Writer, fixtures []string) error {
	var b strings.Builder
	b.WriteString("# fish completion for fxr\n")
	b.WriteString("# install: fxr completion fish > ~/.config/fish/completions/fxr.fish\n\n")
	for _, name := range c.registry.List() {
		if cmd, err := c.registry.Get(name); err == nil {
			_, _ = fmt.Fprintf(&b, "complete -c fxr -n '__fish_use_subcommand' -a '%s' -d '%s'\n", name, shellQuote(cmd.Description()))
		}
	}
	_, _ = fmt.Fprintf(&b, "complete -c fxr -n '__fish_seen_subcommand_from run call' -a '%s' -d 'Fixture'\n", strings.Join(fixtures, " "))
	b.WriteString("complete -c fxr -n '__fish_seen_subcommand_from completion' -a 'bash zsh fish' -d 'Shell'\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// shellQuote escapes s for use inside single quotes.
func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}
