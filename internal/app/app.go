// Package app wires configuration into the running agent: source registry,
// model chain, filter pipeline, storage, delivery channels and the checker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/katerpii/issue-agent/internal/config"
	"github.com/katerpii/issue-agent/internal/filter"
	"github.com/katerpii/issue-agent/internal/infrastructure/crawler"
	"github.com/katerpii/issue-agent/internal/infrastructure/llm"
	"github.com/katerpii/issue-agent/internal/infrastructure/notify"
	"github.com/katerpii/issue-agent/internal/infrastructure/storage"
	"github.com/katerpii/issue-agent/internal/infrastructure/ticker"
	"github.com/katerpii/issue-agent/internal/logging"
	"github.com/katerpii/issue-agent/internal/orchestrator"
	"github.com/katerpii/issue-agent/internal/ports"
	"github.com/katerpii/issue-agent/internal/source"
	"github.com/katerpii/issue-agent/internal/usecase"
)

// stopTimeout bounds how long shutdown waits for an in-flight check.
const stopTimeout = 30 * time.Second

// Application holds the assembled services and the connections they own.
type Application struct {
	cfg config.Config
	log *slog.Logger

	Queries       *usecase.QueryService
	Subscriptions *usecase.SubscriptionService
	Checker       *usecase.Checker

	closers []func() error
}

// New builds a runnable application instance. ctx bounds the handshakes done
// at construction time: the model client setup and the storage ping.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	app := &Application{cfg: cfg, log: baseLogger}

	registry := buildRegistry(cfg.Sources)

	chain, err := buildModelChain(ctx, cfg.LLM, baseLogger.With("component", "llm"))
	if err != nil {
		return nil, err
	}
	var scorer ports.Scorer
	var summarizer ports.Summarizer
	if chain != nil {
		scorer, summarizer = chain, chain
		app.closers = append(app.closers, chain.Close)
	} else {
		baseLogger.Warn("no model backend configured, relevance scoring is disabled and digests will be empty")
	}

	orch := orchestrator.New(registry, orchestrator.Options{
		SourceTimeout:  cfg.Orchestrator.SourceTimeout(),
		MaxAttempts:    cfg.Orchestrator.MaxAttempts,
		RetryBase:      cfg.Orchestrator.RetryBase(),
		PerSourceLimit: cfg.Orchestrator.PerSourceLimit,
	}, baseLogger.With("component", "orchestrator"))

	pipe := filter.New(scorer, summarizer, filter.Options{
		CandidateLimit: cfg.Filter.CandidateLimit,
		ScoreThreshold: cfg.Filter.ScoreThreshold,
		ContentLimit:   cfg.Filter.ContentLimit,
		SummaryTop:     cfg.Filter.SummaryTop,
		StrictTitle:    cfg.Filter.StrictTitle,
	}, baseLogger.With("component", "filter"))

	store, closeStore, err := buildStore(cfg.Storage)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closeStore)

	notifier, err := buildNotifier(cfg.Delivery, baseLogger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Queries = usecase.NewQueryService(orch, pipe, baseLogger.With("component", "query"))
	app.Subscriptions = usecase.NewSubscriptionService(store, app.Queries, notifier, baseLogger.With("component", "subscription"))

	tick := ticker.New(cfg.Scheduler.Tick(), baseLogger.With("component", "ticker"))
	app.Checker = usecase.NewChecker(store, app.Queries, notifier, tick, cfg.Scheduler.Location(), baseLogger.With("component", "checker"))

	return app, nil
}

// RunDaemon starts the subscription checker and blocks until ctx is
// cancelled, then shuts the checker down waiting for an in-flight check.
func (a *Application) RunDaemon(ctx context.Context) error {
	if err := a.Checker.Start(ctx); err != nil {
		return fmt.Errorf("start checker: %w", err)
	}
	a.log.Info("agent running",
		"tick", a.cfg.Scheduler.Tick(),
		"timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.Checker.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop checker: %w", err)
	}
	return nil
}

// Close releases the connections the application holds.
func (a *Application) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildRegistry(cfg config.SourcesConfig) *source.Registry {
	registry := source.NewRegistry()
	registry.Register(crawler.NewGoogle(nil))
	registry.Register(crawler.NewReddit(nil))
	registry.Register(crawler.NewGitHub(nil, cfg.GitHubToken))
	if len(cfg.RSSFeeds) > 0 {
		registry.Register(crawler.NewRSS(nil, cfg.RSSFeeds))
	}
	for _, site := range cfg.Sites {
		registry.Register(crawler.NewSelector(nil, site))
	}
	return registry
}

// buildModelChain assembles the scoring backends in preference order. A nil
// chain is a valid outcome: without credentials scoring is disabled and only
// scored items ever reach a digest, so queries come back empty.
func buildModelChain(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*llm.Fallback, error) {
	var backends []llm.Backend
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini backend: %w", err)
		}
		backends = append(backends, gemini)
	}
	if cfg.OpenAIAPIKey != "" {
		backends = append(backends, llm.NewOpenAI(cfg.OpenAIEndpoint, cfg.OpenAIModel, cfg.OpenAIAPIKey))
	}
	if len(backends) == 0 {
		return nil, nil
	}
	return llm.NewFallback(logger, cfg.MaxAttempts, cfg.RetryBase(), backends...), nil
}

func buildStore(cfg config.StorageConfig) (ports.SubscriptionStore, func() error, error) {
	switch cfg.Driver {
	case "", "sqlite":
		store, err := storage.NewSQLite(cfg.SQLitePath, cfg.SeenTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case "redis":
		store, err := storage.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SeenTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// buildNotifier returns the delivery channel for digests, fanning out when
// both email and telegram are configured. A nil notifier disables delivery;
// the checker logs the digests it could not send.
func buildNotifier(cfg config.DeliveryConfig, logger *slog.Logger) (ports.Notifier, error) {
	var channels []ports.Notifier
	if cfg.Email.SMTPHost != "" {
		channels = append(channels, notify.NewEmail(
			cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From,
			logger.With("component", "email")))
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		telegram, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger.With("component", "telegram"))
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		channels = append(channels, telegram)
	}
	switch len(channels) {
	case 0:
		return nil, nil
	case 1:
		return channels[0], nil
	default:
		return notify.Multi(channels...), nil
	}
}
