package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/playground/internal/infrastructure/fetch"
)

var (
	ErrNoEntry         = errors.New("no entry file found")
	ErrInvalidManifest = errors.New("invalid manifest")
)

// ManifestNames are the manifest files looked up in a workspace, in order
var ManifestNames = []string{"playground.yaml", "playground.yml", "playground.toml"}

// DefaultEntries are tried in order when a manifest names no entry
var DefaultEntries = []string{"index.tsx", "index.ts", "index.jsx", "index.js"}

// DefaultInclude matches the sources a playground compiles
var DefaultInclude = []string{"**/*.{js,jsx,ts,tsx,mjs,cjs}"}

// DefaultExclude skips dependency and VCS directories
var DefaultExclude = []string{"node_modules/**", ".git/**", "**/.*"}

// TypeInfo configures the information channel
type TypeInfo struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	Libs    []string `yaml:"libs" toml:"libs"`
	Types   []string `yaml:"types" toml:"types"`
}

// Manifest describes a playground on disk
type Manifest struct {
	Title             string            `yaml:"title" toml:"title"`
	Entry             string            `yaml:"entry" toml:"entry"`
	Include           []string          `yaml:"include" toml:"include"`
	Exclude           []string          `yaml:"exclude" toml:"exclude"`
	Prelude           string            `yaml:"prelude" toml:"prelude"` // path of the prelude script
	Vendor            map[string]string `yaml:"vendor" toml:"vendor"`   // module name -> path or URL of its CommonJS source
	Display           bool              `yaml:"display" toml:"display"`
	TypeInfo          *TypeInfo         `yaml:"typeInfo" toml:"typeInfo"`
	StrictGenerations *bool             `yaml:"strictGenerations" toml:"strictGenerations"`
	Assets            string            `yaml:"assets" toml:"assets"` // directory served behind asset URIs

	// file the manifest was read from, empty when defaulted
	path string
}

// Path returns the file the manifest was loaded from
func (m *Manifest) Path() string {
	return m.path
}

// LoadManifest reads the manifest of dir. A directory without one gets
// the default manifest.
func LoadManifest(dir string) (*Manifest, error) {
	for _, name := range ManifestNames {
		file := filepath.Join(dir, name)
		data, err := os.ReadFile(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}

		m, err := ParseManifest(name, data)
		if err != nil {
			return nil, err
		}
		m.path = file
		return m, nil
	}

	m := &Manifest{}
	m.applyDefaults()
	return m, nil
}

// ParseManifest decodes a manifest by file name: .toml as TOML, anything
// else as YAML
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest

	var err error
	if filepath.Ext(name) == ".toml" {
		err = toml.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}
	return &m, nil
}

// Matches reports whether a workspace relative, slash separated name is
// part of the playground
func (m *Manifest) Matches(name string) bool {
	for _, pattern := range m.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	for _, pattern := range m.Include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ResolveEntry picks the entry from files when the manifest names none
func (m *Manifest) ResolveEntry(files map[string]string) (string, error) {
	if m.Entry != "" {
		if _, ok := files[m.Entry]; !ok {
			return "", fmt.Errorf("%w: %s is not a workspace file", ErrNoEntry, m.Entry)
		}
		return m.Entry, nil
	}

	for _, candidate := range DefaultEntries {
		if _, ok := files[candidate]; ok {
			return candidate, nil
		}
	}
	return "", ErrNoEntry
}

// support returns the prelude and local vendor files, which are not
// modules of the playground itself
func (m *Manifest) support() []string {
	var names []string
	if m.Prelude != "" {
		names = append(names, path.Clean(m.Prelude))
	}
	for _, file := range m.Vendor {
		if !fetch.IsURL(file) {
			names = append(names, path.Clean(file))
		}
	}
	return names
}

// IsSupport reports whether name is the prelude or a local vendor file
func (m *Manifest) IsSupport(name string) bool {
	for _, support := range m.support() {
		if support == name {
			return true
		}
	}
	return false
}

func (m *Manifest) applyDefaults() {
	if len(m.Include) == 0 {
		m.Include = DefaultInclude
	}
	if m.Exclude == nil {
		m.Exclude = DefaultExclude
	}
}

func (m *Manifest) validate() error {
	for _, pattern := range append(append([]string{}, m.Include...), m.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("bad pattern %q", pattern)
		}
	}
	return nil
}
