// Package manifest handles runa.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "runa.toml"

// Default values applied by Load when a key is absent.
const (
	DefaultEntry     = "main.runa"
	DefaultMaxFrames = 64
	DefaultAddr      = "localhost:7878"
	DefaultGRPCAddr  = "localhost:7879"
)

// Manifest represents a runa.toml project configuration. The json tags name
// the fields for schema validation.
type Manifest struct {
	Project Project      `toml:"project" json:"project"`
	Source  Source       `toml:"source" json:"source"`
	Run     RunConfig    `toml:"run" json:"run"`
	Cache   CacheConfig  `toml:"cache" json:"cache"`
	Server  ServerConfig `toml:"server" json:"server"`

	// Dir is the directory containing the runa.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" json:"name,omitempty"`
	Version string `toml:"version" json:"version,omitempty"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs" json:"dirs,omitempty"`
	Entry string   `toml:"entry" json:"entry,omitempty"`
}

// RunConfig configures the VM.
type RunConfig struct {
	MaxFrames int    `toml:"max_frames" json:"max_frames,omitempty"`
	Trace     bool   `toml:"trace" json:"trace,omitempty"`
	Profile   string `toml:"profile" json:"profile,omitempty"` // DuckDB file for opcode profiles
}

// CacheConfig configures the compiled chunk cache.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled" json:"enabled,omitempty"`
	Path    string `toml:"path" json:"path,omitempty"`
}

// ServerConfig configures `runa serve`.
type ServerConfig struct {
	Addr     string `toml:"addr" json:"addr,omitempty"`
	GRPCAddr string `toml:"grpc_addr" json:"grpc_addr,omitempty"`
}

// Load parses and validates a runa.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text, applies defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %v", keys)
	}

	m.applyDefaults()
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = DefaultEntry
	}
	if m.Run.MaxFrames == 0 {
		m.Run.MaxFrames = DefaultMaxFrames
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.GRPCAddr == "" {
		m.Server.GRPCAddr = DefaultGRPCAddr
	}
}

// FindAndLoad walks up from startDir to find a runa.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Source.Entry)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// SourceFiles lists the .runa files under the source directories, sorted.
func (m *Manifest) SourceFiles() ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && filepath.Ext(path) == ".runa" && !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CacheEnabled reports whether the chunk cache is on. It defaults to true.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled == nil || *m.Cache.Enabled
}

// CachePath returns the configured cache database, resolved against the
// project directory, or "" to use the default location.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// ProfilePath returns the opcode profile store, resolved against the
// project directory, or "" when runs are not profiled to a store.
func (m *Manifest) ProfilePath() string {
	return m.resolve(m.Run.Profile)
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}
