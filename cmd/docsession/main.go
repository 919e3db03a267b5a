// Package main is the operational entry point for docsession deployments.
// It opens the configured document store and blob store and runs maintenance
// commands against them: archiving collection snapshots, listing stored
// archives, and counting documents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"docsession/internal/archive"
	"docsession/internal/blob"
	"docsession/internal/config"
	"docsession/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "docsession: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "docsession.yaml", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: docsession [flags] archive <collection> | archives [collection] | count <collection>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	exporter := archive.NewExporter(store, blobs, archive.WithLogger(logger))

	switch args[0] {
	case "archive":
		if len(args) != 2 {
			return fmt.Errorf("usage: docsession archive <collection>")
		}
		info, err := exporter.Export(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d bytes)\n", info.Key, info.Size)
		return nil
	case "archives":
		collection := ""
		if len(args) > 1 {
			collection = args[1]
		}
		infos, err := exporter.List(ctx, collection)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.Format("2006-01-02 15:04:05"))
		}
		return nil
	case "count":
		if len(args) != 2 {
			return fmt.Errorf("usage: docsession count <collection>")
		}
		n, err := store.Collection(args[1]).Count(ctx, nil, nil)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})), nil
}
