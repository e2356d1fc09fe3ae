package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	golem "github.com/nevindra/golem"
	"github.com/nevindra/golem/internal/config"
	"github.com/nevindra/golem/observer"
	"github.com/nevindra/golem/store/memory"
	"github.com/nevindra/golem/store/postgres"
	"github.com/nevindra/golem/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("GOLEM_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))

	// 2. Load and decode the bot document
	raw, err := os.ReadFile(cfg.Bot.Document)
	if err != nil {
		log.Fatalf("read document: %v", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		log.Fatalf("parse document: %v", err)
	}
	doc, err := golem.DecodeDocument(tree)
	if err != nil {
		log.Fatalf("decode document: %v", err)
	}
	if cfg.Bot.Locale != "" {
		doc.Locale.Default = cfg.Bot.Locale
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Create storage
	var storage golem.StorageAdapter
	switch cfg.Database.Driver {
	case "memory":
		storage = memory.New()
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		storage = postgres.New(pool, postgres.WithLogger(logger))
	default:
		storage = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}

	// 4. Optional tracing
	opts := []golem.RuntimeOption{golem.WithRuntimeLogger(logger)}
	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(context.Background())
		opts = append(opts, golem.WithRuntimeTracer(observer.NewTracer()))
	}

	// 5. Assemble and run. The platform adapter is wired here when one is
	// built for the target chat protocol; without it the runtime still
	// serves scheduler jobs, pipes, and emitted events.
	rt, err := golem.New(doc, storage, opts...)
	if err != nil {
		log.Fatalf("assemble runtime: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}
	logger.Info("runtime started", "document", cfg.Bot.Document, "driver", cfg.Database.Driver)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := rt.Close(); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
