package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/ffi-bindgen/pipeline"
)

func write(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := write(t, "bindgen.toml", `
package = "bindings"
library = "imobiledevice"
output = "out"
headers = ["include/lockdown.h", "/abs/plist.h"]
include = ["include"]

[defines]
HAVE_OPENSSL = "1"

[modules]
"libideviceactivation.h" = "ideviceactivation"
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	want := pipeline.Options{
		Headers:     []string{filepath.Join(dir, "include", "lockdown.h"), "/abs/plist.h"},
		IncludeDirs: []string{filepath.Join(dir, "include")},
		Defines:     map[string]string{"HAVE_OPENSSL": "1"},
		Modules:     map[string]string{"libideviceactivation.h": "ideviceactivation"},
		Output:      filepath.Join(dir, "out"),
		Package:     "bindings",
		Library:     "imobiledevice",
	}
	if diff := cmp.Diff(want, cfg.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "bindgen.yaml", `
package: bindings
library: plist-2.0
facade: Plist
headers:
  - plist.h
modules:
  sub/plist.h: plistlib
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Plist", cfg.Facade)

	opts := cfg.Options()
	assert.Equal(t, []string{filepath.Join(dir, "plist.h")}, opts.Headers)
	assert.Equal(t, "plistlib", opts.Modules["sub/plist.h"])
	assert.Equal(t, "plistlib", opts.Modules[filepath.Join(dir, "sub", "plist.h")])
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]struct {
		name    string
		content string
		msg     string
	}{
		"unknown toml key": {"a.toml", "pakage = \"x\"\n", "unknown key pakage"},
		"unknown yaml key": {"a.yml", "pakage: x\n", "field pakage not found"},
		"bad toml":         {"a.toml", "package = \n", "parsing config file"},
		"format":           {"a.json", "{}", "unsupported format \".json\""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, tt.name, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(write(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Headers)
}

func TestMerge(t *testing.T) {
	cfg := Config{
		Package: "bindings",
		Library: "imobiledevice",
		Headers: []string{"a.h"},
		Include: []string{"include"},
	}

	cfg.Merge(Config{
		Library: "plist",
		Headers: []string{"b.h"},
		Include: []string{"include", "/usr/include"},
		Defines: map[string]string{"X": "1"},
	})

	want := Config{
		Package: "bindings",
		Library: "plist",
		Headers: []string{"a.h", "b.h"},
		Include: []string{"include", "/usr/include"},
		Defines: map[string]string{"X": "1"},
	}
	if diff := cmp.Diff(want, cfg, cmp.AllowUnexported(Config{})); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestExample(t *testing.T) {
	var cfg Config
	md, err := toml.Decode(Example(), &cfg)
	require.NoError(t, err)
	assert.Empty(t, md.Undecoded())

	assert.Equal(t, "imobiledevice", cfg.Package)
	assert.Len(t, cfg.Headers, 2)
	assert.Equal(t, "ideviceactivation", cfg.Modules["libideviceactivation.h"])
}
