// Package config loads the project file describing a bindings package. TOML
// and YAML files are accepted.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ardanlabs/ffi-bindgen/pipeline"
)

type Config struct {
	Package string `toml:"package" yaml:"package"`
	Library string `toml:"library" yaml:"library"`
	Facade  string `toml:"facade" yaml:"facade"`
	Runtime string `toml:"runtime" yaml:"runtime"`
	Output  string `toml:"output" yaml:"output"`

	Headers []string          `toml:"headers" yaml:"headers"`
	Include []string          `toml:"include" yaml:"include"`
	Defines map[string]string `toml:"defines" yaml:"defines"`

	// Modules overrides module names, keyed by header path or base name.
	Modules map[string]string `toml:"modules" yaml:"modules"`

	// dir is the directory of the file the config was loaded from. Relative
	// paths in the file are resolved against it.
	dir string
}

// Load reads the config file at path. The format follows the extension:
// .toml, .yaml or .yml. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file %s: unknown key %s", path, undecoded[0])
		}

	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

	default:
		return nil, fmt.Errorf("config file %s: unsupported format %q", path, ext)
	}

	cfg.dir = filepath.Dir(path)

	return &cfg, nil
}

func (c *Config) resolve(path string) string {
	if c.dir == "" || path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// Options converts the config to the options of a generation run. Relative
// paths are resolved against the directory of the config file.
func (c *Config) Options() pipeline.Options {
	opts := pipeline.Options{
		Package: c.Package,
		Library: c.Library,
		Facade:  c.Facade,
		Runtime: c.Runtime,
		Output:  c.resolve(c.Output),
		Defines: c.Defines,
	}

	for _, h := range c.Headers {
		opts.Headers = append(opts.Headers, c.resolve(h))
	}
	for _, dir := range c.Include {
		opts.IncludeDirs = append(opts.IncludeDirs, c.resolve(dir))
	}

	if len(c.Modules) > 0 {
		opts.Modules = make(map[string]string, len(c.Modules))
		for header, name := range c.Modules {
			opts.Modules[header] = name
			if strings.ContainsRune(header, filepath.Separator) || strings.Contains(header, "/") {
				opts.Modules[c.resolve(header)] = name
			}
		}
	}

	return opts
}

// Merge overlays the values set in other on c. Lists from other are appended
// after those of c.
func (c *Config) Merge(other Config) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&c.Package, other.Package},
		{&c.Library, other.Library},
		{&c.Facade, other.Facade},
		{&c.Runtime, other.Runtime},
		{&c.Output, other.Output},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}

	c.Headers = append(c.Headers, other.Headers...)
	for _, dir := range other.Include {
		if !slices.Contains(c.Include, dir) {
			c.Include = append(c.Include, dir)
		}
	}

	if len(other.Defines) > 0 && c.Defines == nil {
		c.Defines = make(map[string]string)
	}
	for k, v := range other.Defines {
		c.Defines[k] = v
	}

	if len(other.Modules) > 0 && c.Modules == nil {
		c.Modules = make(map[string]string)
	}
	for k, v := range other.Modules {
		c.Modules[k] = v
	}
}

// Example returns a commented example config in TOML.
func Example() string {
	return `# ffi-bindgen configuration file.
# Relative paths are resolved against the directory of this file.

# Go package name of the generated bindings.
package = "imobiledevice"

# Base name of the shared library: libimobiledevice-1.0.so,
# libimobiledevice-1.0.dylib or imobiledevice-1.0.dll.
library = "imobiledevice-1.0"

# Name of the aggregate interface (default: Go name of library).
# facade = "Imobiledevice"

# Directory the generated files are written to.
output = "bindings"

# Headers in processing order. A type shared by several headers is
# emitted by the first one that uses it.
headers = [
  "include/libimobiledevice/libimobiledevice.h",
  "include/libimobiledevice/lockdown.h",
]

# Include directories, searched in order.
include = ["include"]

[defines]
# HAVE_OPENSSL = "1"

[modules]
# Module name overrides, keyed by header path or base name.
"libideviceactivation.h" = "ideviceactivation"
`
}
