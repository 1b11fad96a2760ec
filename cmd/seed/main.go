// Package main is the entry point for the seed loader. It writes a YAML
// fixture of projects, items, grants, views and scores into Postgres and Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onnwee/soup/internal/config"
	"github.com/onnwee/soup/internal/frecency"
	"github.com/onnwee/soup/internal/itemstore"
	"github.com/onnwee/soup/internal/middleware"
	"github.com/onnwee/soup/internal/soup"
	"github.com/onnwee/soup/migrations"
)

// store is the write side of the item store.
type store interface {
	PutProject(ctx context.Context, id string, parentID *string) error
	Put(ctx context.Context, it soup.Item) error
	Grant(ctx context.Context, userID, entityID string) error
	RecordView(ctx context.Context, userID, entityID string, at time.Time) error
}

type scoreRecorder interface {
	Record(ctx context.Context, userID, entityID string, score float64) error
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file (environment variables take precedence)")
	fixturePath := flag.String("fixture", "", "YAML fixture to load (required)")
	flag.Parse()

	if *help || *fixturePath == "" {
		fmt.Println("Soup Seed Loader")
		fmt.Println()
		fmt.Println("Usage: seed -fixture <file> [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		if *help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}
	logger := middleware.NewLogger(cfg.Env)

	if cfg.InMemory() {
		logger.Error("seed needs DATABASE_URL and REDIS_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *fixturePath, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, fixturePath string, logger *slog.Logger) error {
	f, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}

	db, err := itemstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := itemstore.Migrate(ctx, db, migrations.FS); err != nil {
		return err
	}

	scorer, err := frecency.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer scorer.Close()

	repo := itemstore.NewRepository(db, logger)
	return seed(ctx, f, repo, frecency.NewRecorder(scorer, repo), logger)
}

// seed writes the fixture in dependency order: projects, items, grants,
// views, then scores. Projects must be listed parents first.
func seed(ctx context.Context, f *Fixture, st store, rec scoreRecorder, logger *slog.Logger) error {
	for _, p := range f.Projects {
		var parent *string
		if p.ParentID != "" {
			parent = &p.ParentID
		}
		if err := st.PutProject(ctx, p.ID, parent); err != nil {
			return err
		}
	}

	for _, row := range f.Items {
		it, err := row.item()
		if err != nil {
			return err
		}
		if err := st.Put(ctx, it); err != nil {
			return err
		}
	}

	for _, g := range f.Grants {
		if err := st.Grant(ctx, g.UserID, g.EntityID); err != nil {
			return err
		}
	}

	for _, v := range f.Views {
		at, err := time.Parse(time.RFC3339, v.ViewedAt)
		if err != nil {
			return fmt.Errorf("view %s/%s viewed_at: %w", v.UserID, v.EntityID, err)
		}
		if err := st.RecordView(ctx, v.UserID, v.EntityID, at.UTC()); err != nil {
			return err
		}
	}

	for _, s := range f.Scores {
		if err := rec.Record(ctx, s.UserID, s.EntityID, s.Score); err != nil {
			return err
		}
	}

	logger.Info("seed complete",
		"projects", len(f.Projects),
		"items", len(f.Items),
		"grants", len(f.Grants),
		"views", len(f.Views),
		"scores", len(f.Scores),
	)
	return nil
}
