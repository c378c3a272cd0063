package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ardanlabs/ffi-bindgen/pipeline"
)

const defaultDebounce = 250 * time.Millisecond

func WatchHandler(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	opts := options(cfg)
	logger := newLogger(cmd)
	debounce, _ := cmd.Flags().GetDuration("debounce")

	paths := append([]string{}, opts.Headers...)
	if cfgPath != "" {
		paths = append(paths, cfgPath)
	}

	generate := func(ctx context.Context) {
		res, err := pipeline.Run(ctx, opts, logger)
		if res != nil {
			printResult(cmd, opts, res)
		}
		if err != nil {
			logger.Error("generation failed", "error", err)
		}
	}

	return watch(cmd.Context(), logger, paths, debounce, generate)
}

// watch runs generate once, then again every time one of paths changes and
// debounce has passed without further changes. It returns when ctx is done.
// Directories are watched instead of the files so that editors replacing a
// file by renaming over it are still seen.
func watch(ctx context.Context, logger *slog.Logger, paths []string, debounce time.Duration, generate func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		files[abs] = true

		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	generate(ctx)
	logger.Info("watching for changes", "files", len(files))

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !files[abs] {
				continue
			}
			logger.Debug("change detected", "file", event.Name, "op", event.Op.String())
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-timer.C:
			logger.Info("regenerating")
			generate(ctx)
		}
	}
}
