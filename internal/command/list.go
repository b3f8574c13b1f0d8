package command

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/joeycumines/fxr/internal/config"
	"github.com/joeycumines/fxr/internal/fixture"
)

// ListCommand lists the available fixtures.
type ListCommand struct {
	*BaseCommand
	config   *config.Config
	fixtures fixtureFlags
	format   string
}

// NewListCommand creates a new list command.
func NewListCommand(cfg *config.Config) *ListCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &ListCommand{
		BaseCommand: NewBaseCommand(
			"list",
			"List fixtures with their expected outcome and calls",
			"list [options]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the list command.
func (c *ListCommand) SetupFlags(fs *flag.FlagSet) {
	c.fixtures.setup(fs, false)
	fs.StringVar(&c.format, "format", "text", "Output format: text, json")
}

type listEntry struct {
	Name        string          `json:"name"`
	File        string          `json:"file"`
	Description string          `json:"description,omitempty"`
	Outcome     fixture.Outcome `json:"outcome"`
	Calls       []string        `json:"calls,omitempty"`
}

// Execute prints the fixtures in manifest order.
func (c *ListCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	catalog, err := c.fixtures.catalog(c.config)
	if err != nil {
		return err
	}

	entries := make([]listEntry, 0, catalog.Len())
	for _, f := range catalog.All() {
		e := listEntry{Name: f.Name, File: f.File, Description: f.Description, Outcome: f.Expect.Outcome}
		for _, call := range f.Calls {
			e.Calls = append(e.Calls, call.Function)
		}
		entries = append(entries, e)
	}

	switch c.format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tOUTCOME\tCALLS\tDESCRIPTION")
		for _, e := range entries {
			calls := "-"
			if len(e.Calls) > 0 {
				calls = strings.Join(e.Calls, ",")
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Outcome, calls, e.Description)
		}
		return w.Flush()
	}
	return fmt.Errorf("invalid format: %s", c.format)
}
