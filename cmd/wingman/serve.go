package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/api"
	"github.com/krishamaze/arin-bot-v2/pkg/audit"
	"github.com/krishamaze/arin-bot-v2/pkg/budget"
	"github.com/krishamaze/arin-bot-v2/pkg/cache"
	cachesqlite "github.com/krishamaze/arin-bot-v2/pkg/cache/sqlite"
	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/llm"
	"github.com/krishamaze/arin-bot-v2/pkg/logging"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/orchestrator"
	"github.com/krishamaze/arin-bot-v2/pkg/profile"
	"github.com/krishamaze/arin-bot-v2/pkg/prompt"
	"github.com/krishamaze/arin-bot-v2/pkg/repair"
	"github.com/krishamaze/arin-bot-v2/pkg/router"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
	"github.com/krishamaze/arin-bot-v2/pkg/tracker"
	"github.com/krishamaze/arin-bot-v2/pkg/wingman"
)

func newServeCmd(load configLoader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the wingman HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() { _ = st.Close() }()

	tr, err := tracker.New(ctx, st.DB(), st.Driver())
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}

	providers, err := llm.FromConfig(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}

	rt, err := router.New(cfg)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	deps := wingman.Deps{
		Store:    st,
		Chains:   rt,
		Usage:    tr,
		Selector: profile.NewSelector(log),
		Cache:    cfg.Cache,
		Log:      log,
	}
	deps.Cache.Enabled = cfg.Cache.Enabled && cfg.Models.Features.EnablePromptCaching

	var invalidator orchestrator.CacheInvalidator
	if deps.Cache.Enabled {
		mgr, closeCache, err := newCacheManager(cfg.Cache, providers, log)
		if err != nil {
			return err
		}
		defer closeCache()
		deps.Caches = mgr
		invalidator = mgr
	}

	if cfg.Audit.Enabled {
		al, err := audit.New(ctx, st.DB(), st.Driver(), cfg.Audit, log)
		if err != nil {
			return fmt.Errorf("init audit: %w", err)
		}
		al.Start(time.Hour)
		defer func() { _ = al.Close() }()
		deps.Audit = al
	}

	if cfg.Budget.Enabled {
		deps.Budget = budget.New(cfg.Budget.Policies, tr)
	}

	stats := &orchestrator.AtomicStats{}
	deps.Stats = stats
	deps.Generator = orchestrator.New(cfg.Orchestrator, providers, repair.New(log), stats, invalidator, log)

	prompts := prompt.NewLoader(cfg.Prompt, st, log)
	if cfg.Prompt.Watch && cfg.Prompt.File != "" {
		if err := prompts.Watch(ctx); err != nil {
			return err
		}
	}
	deps.Prompts = prompts

	log.Info("starting wingman",
		zap.String("version", version),
		zap.String("database", cfg.Database.Driver),
		zap.String("prompt_source", cfg.Prompt.Source),
		zap.Bool("prompt_cache", deps.Cache.Enabled),
		zap.Bool("budget", cfg.Budget.Enabled),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Strings("chains", rt.Names()),
	)
	return api.New(cfg.Listen, cfg.Server, wingman.New(deps), log).ListenAndServe(ctx)
}

// newCacheManager builds the prompt cache over the Gemini provider, the only
// backend with server-side cached content. Without it the manager still
// answers stats but never creates handles.
func newCacheManager(cfg config.CacheConfig, providers *llm.Registry, log *zap.Logger) (*cache.Manager, func(), error) {
	var backend cache.Backend
	if p, err := providers.Get(models.ProviderGemini); err == nil {
		backend, _ = p.(cache.Backend)
	}

	var handles cache.Store = cache.NewMemoryStore()
	closers := []func(){}
	if cfg.Store == "sqlite" {
		s, err := cachesqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("init cache store: %w", err)
		}
		handles = s
		closers = append(closers, func() { _ = s.Close() })
	}

	mgr := cache.NewManager(backend, handles, log)
	if cfg.PruneSchedule != "" {
		stopPrune, err := mgr.StartPruning(cfg.PruneSchedule)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		closers = append([]func(){stopPrune}, closers...)
	}

	return mgr, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
