// Package cmd implements the bindgen command line.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/ffi-bindgen/config"
	"github.com/ardanlabs/ffi-bindgen/envconfig"
	"github.com/ardanlabs/ffi-bindgen/logutil"
	"github.com/ardanlabs/ffi-bindgen/pipeline"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bindgen",
		Short: "Generate Go bindings for a C library",
		Long: `bindgen reads the public headers of a C library and generates a Go package
that loads the shared library at run time and calls it through libffi.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (TOML or YAML)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-vv for trace)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log warnings and errors")

	cobra.EnableCommandSorting = false

	generateCmd := &cobra.Command{
		Use:   "generate [header ...]",
		Short: "Generate bindings",
		Long: `Generate one Go file per header, then the loader and the facade. Headers
given as arguments are processed after those of the config file.`,
		RunE: GenerateHandler,
	}
	generateFlags(generateCmd)
	generateCmd.Flags().Bool("dry-run", false, "Generate without writing any file")

	inspectCmd := &cobra.Command{
		Use:   "inspect header [header ...]",
		Short: "List the declarations of headers and how they map to Go",
		Args:  cobra.MinimumNArgs(1),
		RunE:  InspectHandler,
	}
	inspectCmd.Flags().StringSliceP("include", "I", nil, "Include directory, searched in order")
	inspectCmd.Flags().StringToStringP("define", "D", nil, "Preprocessor define NAME=VALUE")

	watchCmd := &cobra.Command{
		Use:   "watch [header ...]",
		Short: "Regenerate bindings whenever an input changes",
		RunE:  WatchHandler,
	}
	generateFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", defaultDebounce, "Quiet period before regenerating")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print an example config file",
		Args:  cobra.NoArgs,
		RunE:  ConfigHandler,
	}
	configCmd.Flags().Bool("env", false, "List the environment variables instead")

	rootCmd.AddCommand(
		generateCmd,
		inspectCmd,
		watchCmd,
		configCmd,
	)

	return rootCmd
}

func generateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "Output directory")
	cmd.Flags().StringP("package", "p", "", "Go package name (default \"bindings\")")
	cmd.Flags().StringP("library", "l", "", "Shared library base name (default: name of the first header)")
	cmd.Flags().String("facade", "", "Name of the aggregate interface")
	cmd.Flags().String("runtime", "", "Import path of the runtime package")
	cmd.Flags().StringSliceP("include", "I", nil, "Include directory, searched in order")
	cmd.Flags().StringToStringP("define", "D", nil, "Preprocessor define NAME=VALUE")
	cmd.Flags().StringToString("module", nil, "Module name override HEADER=NAME")
}

// newLogger builds the logger selected by the persistent flags and
// BINDGEN_DEBUG.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetCount("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	if envconfig.Debug && verbose == 0 {
		verbose = 1
	}

	return logutil.NewLogger(cmd.ErrOrStderr(), logutil.Level(quiet, verbose))
}

// loadConfig reads the config file named by --config or BINDGEN_CONFIG, if
// any, and overlays the generation flags and header arguments.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = envconfig.ConfigFile
	}

	cfg := &config.Config{}
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		cfg = c
	}

	var flags config.Config
	flags.Output, _ = cmd.Flags().GetString("output")
	flags.Package, _ = cmd.Flags().GetString("package")
	flags.Library, _ = cmd.Flags().GetString("library")
	flags.Facade, _ = cmd.Flags().GetString("facade")
	flags.Runtime, _ = cmd.Flags().GetString("runtime")
	flags.Include, _ = cmd.Flags().GetStringSlice("include")
	flags.Defines, _ = cmd.Flags().GetStringToString("define")
	flags.Modules, _ = cmd.Flags().GetStringToString("module")
	flags.Headers = args
	flags.Include = append(flags.Include, envconfig.IncludeDirs...)

	cfg.Merge(flags)

	return cfg, path, nil
}

// options returns the run options of cfg with defaults applied.
func options(cfg *config.Config) pipeline.Options {
	opts := cfg.Options()

	if opts.Package == "" {
		opts.Package = "bindings"
	}
	if opts.Library == "" && len(opts.Headers) > 0 {
		base := filepath.Base(opts.Headers[0])
		opts.Library = strings.TrimPrefix(strings.TrimSuffix(base, filepath.Ext(base)), "lib")
	}
	if opts.Runtime == "" {
		opts.Runtime = envconfig.Runtime
	}

	return opts
}

func GenerateHandler(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	opts := options(cfg)
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

	res, err := pipeline.Run(cmd.Context(), opts, newLogger(cmd))
	if res != nil {
		printResult(cmd, opts, res)
	}
	return err
}

func printResult(cmd *cobra.Command, opts pipeline.Options, res *pipeline.Result) {
	out := cmd.OutOrStdout()
	for _, f := range res.Files {
		if opts.DryRun {
			fmt.Fprintf(out, "Would generate: %s\n", filepath.Join(opts.Output, f.Name))
			continue
		}
		fmt.Fprintf(out, "Generated: %s\n", filepath.Join(opts.Output, f.Name))
	}
}
