// Package pipeline drives a generation run: it extracts every header in
// order over one shared type table, generates and writes a file per module,
// then emits the loader and the facade tying the modules together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ardanlabs/ffi-bindgen/diag"
	"github.com/ardanlabs/ffi-bindgen/generator"
	"github.com/ardanlabs/ffi-bindgen/logutil"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

type Options struct {
	// Headers are processed in order. A type shared by several headers is
	// emitted by the first module that uses it.
	Headers     []string
	IncludeDirs []string
	Defines     map[string]string

	// Modules overrides the module name of a header, keyed by its path or
	// its base name.
	Modules map[string]string

	Output  string
	Package string
	Library string
	Facade  string
	Runtime string

	// DryRun generates every file without writing it.
	DryRun bool
}

func (o Options) validate() error {
	if len(o.Headers) == 0 {
		return errors.New("no headers to process")
	}
	if o.Package == "" {
		return errors.New("package name is required")
	}
	if o.Library == "" {
		return errors.New("library name is required")
	}
	return nil
}

// moduleName returns the module name of the header at path.
func (o Options) moduleName(path string) string {
	if name, ok := o.Modules[path]; ok {
		return name
	}
	if name, ok := o.Modules[filepath.Base(path)]; ok {
		return name
	}
	return parser.ModuleName(path)
}

// Result describes the outcome of a run. It is returned together with the
// error of a failed run so callers can still report what was produced.
type Result struct {
	Modules     []string
	Files       []generator.File
	Diagnostics diag.List
}

// ModuleError reports a module that could not be generated or written. The
// run continues with the next header but emits no loader or facade.
type ModuleError struct {
	Module string
	File   string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s (%s): %v", e.Module, e.File, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// Run generates the bindings described by opts. Errors reading or including
// headers abort the run. Errors of a single module are collected and returned
// joined once every header has been processed.
func Run(ctx context.Context, opts Options, logger *slog.Logger) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Output == "" {
		opts.Output = "."
	}

	r := run{
		opts:   opts,
		logger: logger,
		table:  parser.NewTable(),
		gen: generator.New(generator.Config{
			Package: opts.Package,
			Library: opts.Library,
			Facade:  opts.Facade,
			Runtime: opts.Runtime,
		}),
		headers: make(map[string]string),
	}
	r.extractor = parser.NewExtractor(opts.IncludeDirs, opts.Defines, r.table)

	for _, path := range opts.Headers {
		if err := ctx.Err(); err != nil {
			return &r.result, err
		}
		if err := r.module(ctx, path); err != nil {
			var merr *ModuleError
			if !errors.As(err, &merr) {
				return &r.result, err
			}
			logger.Error("module failed", "module", merr.Module, "file", merr.File, "error", merr.Err)
			r.errs = append(r.errs, err)
		}
	}

	if len(r.errs) > 0 {
		logger.Error("skipping loader and facade", "failed", len(r.errs))
		return &r.result, errors.Join(r.errs...)
	}

	if err := r.finish(); err != nil {
		return &r.result, err
	}

	return &r.result, nil
}

type run struct {
	opts      Options
	logger    *slog.Logger
	table     *parser.Table
	extractor *parser.Extractor
	gen       *generator.Generator

	// headers maps each module name to the header that claimed it.
	headers map[string]string

	result Result
	errs   []error
}

func (r *run) module(ctx context.Context, path string) error {
	name := r.opts.moduleName(path)
	if other, ok := r.headers[name]; ok {
		return &ModuleError{Module: name, File: path, Err: fmt.Errorf("module name already used by %s", other)}
	}
	r.headers[name] = path

	r.logger.Info("extracting module", "module", name, "header", path)

	m, err := r.extractor.Extract(ctx, path, name)
	if err != nil {
		return fmt.Errorf("extracting module %s: %w", name, err)
	}
	r.report(m.Diagnostics)

	for _, d := range m.Decls {
		logutil.Trace(r.logger, "declaration", "module", m.Name, "kind", d.Kind, "decl", d.Signature(), "line", d.Line)
		r.table.Register(m.Name, d)
	}

	adopted := adopt(r.table, m)
	for _, d := range adopted {
		r.table.Register(m.Name, d)
		r.logger.Debug("adopting declaration", "module", m.Name, "decl", d.Name, "file", d.File)
	}

	f, diags, err := r.gen.Module(m, adopted)
	r.report(diags)
	if err != nil {
		return &ModuleError{Module: m.Name, File: path, Err: err}
	}

	if err := r.write(f); err != nil {
		return &ModuleError{Module: m.Name, File: path, Err: err}
	}

	r.result.Modules = append(r.result.Modules, m.Name)
	r.logger.Debug("generated module", "module", m.Name, "decls", len(m.Decls), "adopted", len(adopted), "deps", m.Deps)

	return nil
}

// finish emits the loader and the facade of the modules generated so far.
func (r *run) finish() error {
	loader, err := r.gen.Loader(r.result.Modules)
	if err != nil {
		return err
	}
	if err := r.write(loader); err != nil {
		return err
	}

	facade, err := r.gen.Facade(r.result.Modules)
	if err != nil {
		return err
	}
	return r.write(facade)
}

func (r *run) write(f generator.File) error {
	if r.opts.DryRun {
		r.logger.Debug("dry run, not writing", "file", f.Name)
		r.result.Files = append(r.result.Files, f)
		return nil
	}

	if err := os.MkdirAll(r.opts.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(r.opts.Output, f.Name)
	if err := os.WriteFile(path, f.Source, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}
	r.logger.Info("generated", "path", path)
	r.result.Files = append(r.result.Files, f)

	return nil
}

func (r *run) report(diags diag.List) {
	diags.Log(r.logger)
	r.result.Diagnostics = append(r.result.Diagnostics, diags...)
}
