package fixture

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file listing fixtures and their expectations.
const ManifestName = "fixtures.yaml"

// ErrUnknownFixture is returned when a fixture name is not in the catalog.
var ErrUnknownFixture = errors.New("unknown fixture")

//go:embed assets/*.js assets/fixtures.yaml
var assets embed.FS

// Catalog is an ordered, read-only set of fixtures.
type Catalog struct {
	fixtures []*Fixture
	byName   map[string]*Fixture
}

type manifest struct {
	Fixtures []*Fixture `yaml:"fixtures"`
}

// Default returns the bundled fixtures.
func Default() *Catalog {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	c, err := LoadFS(sub)
	if err != nil {
		// the bundled manifest is covered by tests
		panic(fmt.Sprintf("fixture: invalid bundled catalog: %v", err))
	}
	return c
}

// LoadDir loads a manifest and its scripts from dir.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture path %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS loads ManifestName from the root of fsys, reading each fixture's
// script relative to it.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, ManifestName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestName, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}

	c := &Catalog{byName: make(map[string]*Fixture, len(m.Fixtures))}
	for i, f := range m.Fixtures {
		if err := validate(f); err != nil {
			return nil, fmt.Errorf("fixture #%d: %w", i+1, err)
		}
		if _, dup := c.byName[f.Name]; dup {
			return nil, fmt.Errorf("fixture %q: duplicate name", f.Name)
		}
		src, err := fs.ReadFile(fsys, path.Clean(f.File))
		if err != nil {
			return nil, fmt.Errorf("fixture %q: failed to read script: %w", f.Name, err)
		}
		f.Source = string(src)
		c.fixtures = append(c.fixtures, f)
		c.byName[f.Name] = f
	}
	return c, nil
}

func validate(f *Fixture) error {
	if f == nil {
		return errors.New("empty entry")
	}
	if f.Name == "" {
		return errors.New("missing name")
	}
	if f.File == "" {
		f.File = f.Name + ".js"
	}
	if f.Expect.Outcome == "" {
		f.Expect.Outcome = OutcomeOK
	}
	if !f.Expect.Outcome.Valid() {
		return fmt.Errorf("fixture %q: unknown outcome %q", f.Name, f.Expect.Outcome)
	}
	for i := range f.Calls {
		call := &f.Calls[i]
		if call.Function == "" {
			return fmt.Errorf("fixture %q: call #%d has no function", f.Name, i+1)
		}
		if call.Expect.Outcome == "" {
			call.Expect.Outcome = OutcomeOK
		}
		if !call.Expect.Outcome.Valid() {
			return fmt.Errorf("fixture %q: %s: unknown outcome %q", f.Name, call.Label(), call.Expect.Outcome)
		}
	}
	return nil
}

// Get returns the fixture called name.
func (c *Catalog) Get(name string) (*Fixture, error) {
	f, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFixture, name)
	}
	return f, nil
}

// All returns the fixtures in manifest order.
func (c *Catalog) All() []*Fixture {
	out := make([]*Fixture, len(c.fixtures))
	copy(out, c.fixtures)
	return out
}

// Names returns the fixture names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.fixtures))
	for _, f := range c.fixtures {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Select returns the named fixtures in the order given, or every fixture
// when names is empty.
func (c *Catalog) Select(names ...string) ([]*Fixture, error) {
	if len(names) == 0 {
		return c.All(), nil
	}
	out := make([]*Fixture, 0, len(names))
	for _, name := range names {
		f, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Len returns the number of fixtures.
func (c *Catalog) Len() int {
	return len(c.fixtures)
}
