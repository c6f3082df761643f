// Package app is the host around the interaction engine. It owns
// durability: every event is appended to the SQLite log and every progress
// change is persisted, and all work for one user is serialized.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bdobrica/Sohayok/common/retry"
	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/catalog"
	"github.com/bdobrica/Sohayok/internal/sohayok/config"
	"github.com/bdobrica/Sohayok/internal/sohayok/content"
	"github.com/bdobrica/Sohayok/internal/sohayok/conversation"
	"github.com/bdobrica/Sohayok/internal/sohayok/engine"
	"github.com/bdobrica/Sohayok/internal/sohayok/store"
)

// App is the Sohayok host application.
type App struct {
	cfg     *config.Config
	store   *store.Store
	engine  *engine.Engine
	content *content.Manager
	locks   *userLocks
	retry   retry.Config
	now     func() time.Time
	logger  *slog.Logger
}

// New opens the store, resolves the vocabulary, builds the engine and
// restores stored progress. If logger is nil, the default slog logger is
// used.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	a := &App{
		cfg:     cfg,
		store:   st,
		content: content.NewManager(st, logger),
		locks:   newUserLocks(),
		retry:   cfg.RetryConfig(store.IsBusy, logger),
		now:     time.Now,
		logger:  logger,
	}

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	a.engine = engine.New(engine.Options{
		Catalog:         cat,
		Rand:            conversation.NewSource(cfg.Engine.Seed),
		Clock:           func() time.Time { return a.now() },
		SessionCooldown: cfg.Session.Cooldown,
		Logger:          logger,
	})

	records, err := st.ListProgress(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: load progress: %w", err)
	}
	a.engine.Restore(records...)

	logger.Info("app: ready",
		"categories", len(cat.Categories()),
		"users", len(records),
		"config", *cfg,
	)
	return a, nil
}

// loadCatalog layers the operator overlay file and active custom cards over
// the built-in vocabulary.
func (a *App) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat := catalog.Default()

	if path := a.cfg.Catalog.OverlayPath; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("app: open catalog overlay: %w", err)
		}
		overlay, err := catalog.ParseOverlay(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("app: catalog overlay %s: %w", path, err)
		}
		if cat, err = cat.Merge(overlay); err != nil {
			return nil, fmt.Errorf("app: merge catalog overlay: %w", err)
		}
		a.logger.Info("app: catalog overlay applied", "path", path)
	}

	custom, err := a.content.CatalogOverlay(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load custom cards: %w", err)
	}
	if len(custom.Categories) > 0 {
		if cat, err = cat.Merge(custom); err != nil {
			return nil, fmt.Errorf("app: merge custom cards: %w", err)
		}
		a.logger.Info("app: custom cards applied", "categories", len(custom.Categories))
	}
	return cat, nil
}

// Engine exposes the engine for read-only callers such as the CLI.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Content returns the custom content manager.
func (a *App) Content() *content.Manager {
	return a.content
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run sweeps idle sessions until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Session.SweepInterval)
	defer ticker.Stop()

	a.logger.Info("app: session sweeper started", "interval", a.cfg.Session.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("app: session sweeper stopped")
			return nil
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *App) sweep() []conversation.Ended {
	ended := a.engine.EndIdleSessions()
	for _, e := range ended {
		a.logger.Info("app: session ended after inactivity",
			"session_id", e.SessionID,
			"started_at", e.StartedAt,
			"last_active", e.LastActive,
			"interaction_count", e.Context.InteractionCount,
			"interests", e.Context.Interests,
		)
	}
	return ended
}

// Stop closes the store.
func (a *App) Stop() error {
	a.logger.Info("app: closing database")
	return a.store.Close()
}

func (a *App) write(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, a.retry, fn)
}

// appendEvent persists evt with retries.
func (a *App) appendEvent(ctx context.Context, evt interaction.Event) error {
	if err := a.write(ctx, func() error { return a.store.AppendEvent(ctx, evt) }); err != nil {
		return fmt.Errorf("app: append %s event: %w", evt.Kind, err)
	}
	return nil
}

// Shutdown closes the app when the injector shuts down.
func (a *App) Shutdown() error {
	return a.Stop()
}
