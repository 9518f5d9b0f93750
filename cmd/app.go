package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/ai/gemini"
	"github.com/spigell/autoapply/internal/ai/openai"
	"github.com/spigell/autoapply/internal/answer"
	"github.com/spigell/autoapply/internal/backend"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/metrics"
	"github.com/spigell/autoapply/internal/page/chrome"
	"github.com/spigell/autoapply/internal/quota"
	"github.com/spigell/autoapply/internal/runner"
	"github.com/spigell/autoapply/internal/secrets"
	"github.com/spigell/autoapply/internal/site"
	"github.com/spigell/autoapply/internal/state"
)

// application holds everything a run needs: one browser tab, the backend,
// the state store and the controller driving them.
type application struct {
	config   *Config
	logger   *zap.Logger
	tab      *chrome.Tab
	backend  *backend.Client
	store    state.Store
	adapter  site.Adapter
	filters  []filtering.Filter
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	fetcher  *form.HTTPFetcher
	oracle   ai.Oracle
	ctrl     *runner.Controller

	mu        sync.Mutex
	resolvers map[string]*answer.Resolver
}

// newApplication opens the browser and wires the controller. Events go to notifier.
func newApplication(ctx context.Context, config *Config, logger *zap.Logger, notifier runner.Notifier) (*application, error) {
	token, err := resolveToken(config)
	if err != nil {
		return nil, err
	}
	if token == "" {
		logger.Warn("backend token is not configured, requests are sent without authorization")
	}

	a := &application{
		config:    config,
		logger:    logger,
		backend:   backend.New(config.Backend, token, logger.Named("backend")),
		registry:  prometheus.NewRegistry(),
		fetcher:   form.NewHTTPFetcher(nil),
		filters:   filtering.Default(),
		resolvers: make(map[string]*answer.Resolver),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	a.oracle, err = newOracle(ctx, config.AI, a.backend, logger)
	if err != nil {
		return nil, fmt.Errorf("building ai oracle: %w", err)
	}

	a.store, err = openStore(ctx, config.State)
	if err != nil {
		return nil, err
	}

	a.tab, err = chrome.Open(ctx, config.Browser, logger.Named("chrome"))
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("opening browser: %w", err)
	}

	a.adapter, err = site.New(config.Site, a.tab, config.Board, logger.Named("site"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ctrl, err = runner.New(config.Run, runner.Deps{
		Backend:      a.backend,
		Store:        a.store,
		Adapter:      a.adapter,
		Page:         a.tab,
		Forms:        a.formRunner,
		Filters:      a.filters,
		FilterConfig: &config.Filters,
		Gate:         quota.NewGate(config.Limits, nil),
		Notifier:     a.notifier(notifier),
		Metrics:      a.metrics,
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// formRunner builds the filler of one job. Every run gets its own answer
// resolver so cached answers never leak between runs.
func (a *application) formRunner(runID string, profile state.Profile, scope string, onProgress func()) runner.FormRunner {
	a.mu.Lock()
	resolver, ok := a.resolvers[runID]
	var superseded []string
	if !ok {
		for id := range a.resolvers {
			superseded = append(superseded, id)
		}
		resolver = answer.New(a.oracle, a.logger.Named("answers"))
		a.resolvers[runID] = resolver
	}
	a.mu.Unlock()

	// single form fills never complete a search, so their resolvers go when a newer run starts
	for _, id := range superseded {
		a.releaseRun(id)
	}

	filler := form.New(a.tab, resolver, a.fetcher, profile, scope, a.config.Form, a.logger.Named("form"))
	filler.OnProgress = onProgress
	return filler
}

// notifier forwards events to next and closes the books of finished runs.
func (a *application) notifier(next runner.Notifier) runner.Notifier {
	return runner.NotifierFunc(func(ev runner.Event) {
		if next != nil {
			next.Notify(ev)
		}
		if ev.Type == runner.EventSearchCompleted {
			a.releaseRun(ev.RunID)
		}
	})
}

func (a *application) releaseRun(runID string) {
	a.mu.Lock()
	resolver, ok := a.resolvers[runID]
	delete(a.resolvers, runID)
	a.mu.Unlock()
	if !ok {
		return
	}

	stats := resolver.Stats()
	a.metrics.AddAnswers(stats.BySource())
	a.logger.Info("answers resolved",
		zap.String("run_id", runID),
		zap.Int("cache", stats.CacheHits),
		zap.Int("rules", stats.RuleHits),
		zap.Int("special", stats.SpecialHits),
		zap.Int("oracle", stats.OracleCalls),
		zap.Int("fallback", stats.Fallbacks),
	)
}

// Close releases the browser, downloaded files and the store.
func (a *application) Close() {
	a.mu.Lock()
	open := make([]string, 0, len(a.resolvers))
	for id := range a.resolvers {
		open = append(open, id)
	}
	a.mu.Unlock()
	for _, id := range open {
		a.releaseRun(id)
	}

	if a.tab != nil {
		a.tab.Close()
	}
	if err := a.fetcher.Cleanup(); err != nil {
		a.logger.Warn("removing downloaded files", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing state store", zap.Error(err))
		}
	}
}

func resolveToken(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	// a local backend may run without authentication
	return secrets.Optional(secrets.Source{
		Name: "backend token",
		File: strings.TrimSpace(config.TokenFile),
		Env:  envPrefix + "_TOKEN",
	})
}

func newOracle(ctx context.Context, cfg AIConfig, client *backend.Client, logger *zap.Logger) (ai.Oracle, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "backend":
		return client, nil
	case "none":
		return nil, nil
	case "gemini", "openai":
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}

	key, err := secrets.Load(secrets.Source{
		Name:  provider + " api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   strings.ToUpper(provider) + "_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	if provider == "openai" {
		return openai.New(key, cfg.Model, cfg.MaxLogLength, logger)
	}

	generator, err := gemini.NewGenerator(ctx, key, cfg.Model, cfg.MaxRetries, logger)
	if err != nil {
		return nil, err
	}
	return gemini.NewOracle(generator, cfg.MaxLogLength, logger), nil
}

func openStore(ctx context.Context, cfg StateConfig) (state.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return state.NewFileStore(cfg.Path), nil
	case "sqlite":
		store, err := state.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening state database: %w", err)
		}
		return store, nil
	case "memory":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported state driver %q", cfg.Driver)
	}
}
