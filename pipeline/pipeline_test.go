package pipeline

import (
	"context"
	"errors"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/ffi-bindgen/diag"
	cparser "github.com/ardanlabs/ffi-bindgen/parser"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func scenario(name string) string {
	return filepath.Join("..", "testdata", "scenarios", name)
}

func options(t *testing.T, headers ...string) Options {
	return Options{
		Headers:     headers,
		IncludeDirs: []string{filepath.Join("..", "testdata", "include")},
		Output:      t.TempDir(),
		Package:     "bindings",
		Library:     "scenarios",
	}
}

func fileNames(res *Result) []string {
	var out []string
	for _, f := range res.Files {
		out = append(out, f.Name)
	}
	return out
}

func readOutput(t *testing.T, opts Options, name string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(opts.Output, name))
	require.NoError(t, err)

	_, err = parser.ParseFile(token.NewFileSet(), name, b, 0)
	require.NoError(t, err, string(b))

	return string(b)
}

// moduleOutput returns an output directory inside the module, so that the
// generated package resolves its imports through go.mod.
func moduleOutput(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp(filepath.Join("..", "testdata"), "generated")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	return dir
}

// vet type-checks and vets the package generated into dir.
func vet(t *testing.T, dir string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping go vet of generated code in short mode")
	}
	goTool, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not found")
	}

	cmd := exec.Command(goTool, "vet", ".")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestRun(t *testing.T) {
	opts := options(t, scenario("foo.h"), scenario("bar.h"), scenario("baz.h"))

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"foo", "bar", "baz"}, res.Modules)
	assert.Equal(t, []string{"foo.go", "bar.go", "baz.go", "loader.go", "scenarios.go"}, fileNames(res))

	var declared int
	for _, name := range fileNames(res) {
		declared += strings.Count(readOutput(t, opts, name), "type BarHandle struct")
	}
	assert.Equal(t, 1, declared, "BarHandle is declared exactly once")

	facade := readOutput(t, opts, "scenarios.go")
	assert.Contains(t, facade, "\tBaz() BazAPI\n")
}

func TestRunAdoptsDependencies(t *testing.T) {
	opts := options(t, scenario("baz.h"))

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"baz"}, res.Modules)

	src := readOutput(t, opts, "baz.go")
	assert.Contains(t, src, "type BarHandle struct")
	assert.Contains(t, src, "type BazHandle struct")
	assert.Contains(t, src, `lib.Prep("bar_free"`)
}

func TestRunDependencyOrder(t *testing.T) {
	opts := options(t, scenario("baz.h"), scenario("bar.h"))

	_, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	assert.Contains(t, readOutput(t, opts, "baz.go"), "type BarHandle struct")
	assert.NotContains(t, readOutput(t, opts, "bar.go"), "type BarHandle struct")
}

func TestRunVariadic(t *testing.T) {
	opts := options(t, scenario("logging.h"))

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	skipped := res.Diagnostics.Filter(diag.Skipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "log_printf", skipped[0].Decl)
	assert.Equal(t, "logging.h", filepath.Base(skipped[0].File))

	assert.Contains(t, fileNames(res), "scenarios.go")
}

func TestRunIncludeError(t *testing.T) {
	opts := options(t, scenario("foo.h"), scenario("broken.h"), scenario("bar.h"))

	res, err := Run(context.Background(), opts, discard)
	require.Error(t, err)

	var incErr *cparser.IncludeError
	require.True(t, errors.As(err, &incErr), err)
	assert.Equal(t, "<does_not_exist.h>", incErr.Include)

	assert.Equal(t, []string{"foo"}, res.Modules)
	assert.NoFileExists(t, filepath.Join(opts.Output, "loader.go"))
}

func TestRunMissingHeader(t *testing.T) {
	opts := options(t, scenario("missing.h"))

	_, err := Run(context.Background(), opts, discard)

	var fileErr *cparser.FileError
	require.True(t, errors.As(err, &fileErr), err)
}

func TestRunModuleErrors(t *testing.T) {
	dir := t.TempDir()
	clash := filepath.Join(dir, "clash.h")
	require.NoError(t, os.WriteFile(clash, []byte("typedef struct clash *Foo_t;\nint clash_new(Foo_t *out);\n"), 0o644))

	opts := options(t, scenario("foo.h"), clash, scenario("foo.h"), scenario("bar.h"))

	res, err := Run(context.Background(), opts, discard)
	require.Error(t, err)

	var merr *ModuleError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "clash", merr.Module)
	assert.Contains(t, err.Error(), "FooHandle")
	assert.Contains(t, err.Error(), "module name already used by")

	assert.Equal(t, []string{"foo", "bar"}, res.Modules)
	assert.FileExists(t, filepath.Join(opts.Output, "bar.go"))
	assert.NoFileExists(t, filepath.Join(opts.Output, "loader.go"))
	assert.NoFileExists(t, filepath.Join(opts.Output, "scenarios.go"))
}

func TestRunDryRun(t *testing.T) {
	opts := options(t, scenario("foo.h"))
	opts.DryRun = true

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo.go", "loader.go", "scenarios.go"}, fileNames(res))

	entries, err := os.ReadDir(opts.Output)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunModuleOverride(t *testing.T) {
	opts := options(t, scenario("foo.h"))
	opts.Modules = map[string]string{"foo.h": "foolib"}

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"foolib"}, res.Modules)
	assert.Contains(t, readOutput(t, opts, "foolib.go"), "type FoolibAPI interface")
}

func TestRunLibimobiledevice(t *testing.T) {
	dir := filepath.Join("..", "testdata", "include", "libimobiledevice")

	opts := options(t,
		filepath.Join(dir, "libimobiledevice.h"),
		filepath.Join(dir, "lockdown.h"),
		filepath.Join(dir, "misagent.h"),
		filepath.Join(dir, "screenshotr.h"),
	)
	opts.Library = "imobiledevice"

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	for _, name := range fileNames(res) {
		readOutput(t, opts, name)
	}

	misagent := readOutput(t, opts, "misagent.go")
	assert.Contains(t, misagent, "MisagentClientNew(device *IdeviceHandle, service *LockdowndServiceDescriptorHandle) (MisagentError, *MisagentClientHandle)")
	assert.NotContains(t, misagent, "type IdeviceHandle struct")
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, options(t, scenario("foo.h")), discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunValidate(t *testing.T) {
	_, err := Run(context.Background(), Options{Package: "bindings", Library: "x"}, discard)
	assert.EqualError(t, err, "no headers to process")

	_, err = Run(context.Background(), Options{Headers: []string{"a.h"}, Library: "x"}, discard)
	assert.EqualError(t, err, "package name is required")

	_, err = Run(context.Background(), Options{Headers: []string{"a.h"}, Package: "bindings"}, discard)
	assert.EqualError(t, err, "library name is required")
}

func TestAdopt(t *testing.T) {
	table := cparser.NewTable()
	ex := cparser.NewExtractor(nil, nil, table)

	baz, err := ex.Extract(context.Background(), scenario("baz.h"), "")
	require.NoError(t, err)

	adopted := adopt(table, baz)
	require.Len(t, adopted, 1)
	assert.Equal(t, "bar_t", adopted[0].Name)

	table.Register("bar", adopted[0])
	assert.Empty(t, adopt(table, baz))
}

func TestRunCompiles(t *testing.T) {
	dir := filepath.Join("..", "testdata", "include")

	opts := options(t,
		filepath.Join(dir, "plist", "plist.h"),
		filepath.Join(dir, "libimobiledevice", "libimobiledevice.h"),
		filepath.Join(dir, "libimobiledevice", "lockdown.h"),
		filepath.Join(dir, "libimobiledevice", "misagent.h"),
		filepath.Join(dir, "libimobiledevice", "screenshotr.h"),
	)
	opts.Library = "imobiledevice"
	opts.Output = moduleOutput(t)

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)
	assert.Contains(t, fileNames(res), "loader.go")

	vet(t, opts.Output)
}

func TestRunEdgeCases(t *testing.T) {
	opts := options(t,
		scenario("foo.h"),
		scenario("bar.h"),
		scenario("baz.h"),
		scenario("logging.h"),
		scenario("edge.h"),
	)
	opts.Output = moduleOutput(t)

	res, err := Run(context.Background(), opts, discard)
	require.NoError(t, err)

	var skipped, warned []string
	for _, d := range res.Diagnostics {
		switch d.Severity {
		case diag.Skipped:
			skipped = append(skipped, d.Decl)
		case diag.Warning:
			warned = append(warned, d.Decl)
		}
	}
	assert.Contains(t, skipped, "names")
	assert.Contains(t, skipped, "log_printf")
	assert.Contains(t, warned, "names_fill")

	edge := readOutput(t, opts, "edge.go")
	assert.NotContains(t, edge, "Names struct")
	assert.Contains(t, edge, "NamesFill(n uintptr) int32")
	assert.Contains(t, edge, "OpaqueUse(o *OpaqueOnlyHandle) int32")

	vet(t, opts.Output)
}
