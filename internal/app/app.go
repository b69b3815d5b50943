// Package app wires all Verbatim subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects the stores,
// the correction pipeline, the learning loop, and the prompt builder; Run
// serves the HTTP API until the context is cancelled; Shutdown tears
// everything down in order.
//
// For testing, inject in-memory stores via functional options
// (WithDictionaryStore, WithTenantStore, etc.). When an option is not
// provided, New creates real implementations from the config: PostgreSQL
// stores when postgres.dsn is set, in-memory stores otherwise.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verbatimhq/verbatim/internal/config"
	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/health"
	"github.com/verbatimhq/verbatim/internal/learning"
	"github.com/verbatimhq/verbatim/internal/ledger"
	"github.com/verbatimhq/verbatim/internal/observe"
	"github.com/verbatimhq/verbatim/internal/pipeline"
	"github.com/verbatimhq/verbatim/internal/prompt"
	"github.com/verbatimhq/verbatim/internal/tenant"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
)

const (
	// defaultListenAddr is used when server.listen_addr is empty.
	defaultListenAddr = ":8080"

	// readHeaderTimeout bounds how long a client may take to send headers.
	readHeaderTimeout = 10 * time.Second

	// drainTimeout bounds the HTTP server drain when Run's context ends.
	drainTimeout = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go from the config.
type Providers struct {
	// Corrector is the AI correction backend. When nil, the AI tier is
	// disabled and only dictionary correction runs.
	Corrector corrector.Provider
}

// App owns all subsystem lifetimes and serves the Verbatim correction API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Stores — injected or created in New, torn down in Shutdown.
	dict    dictionary.Store
	tenants tenant.Store
	history ledger.Store

	// Subsystems built over the stores.
	pipeline *pipeline.Pipeline
	feedback *learning.Feedback
	prompts  *prompt.Builder
	health   *health.Handler
	metrics  *observe.Metrics
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDictionaryStore injects a dictionary store instead of creating one from config.
func WithDictionaryStore(s dictionary.Store) Option {
	return func(a *App) { a.dict = s }
}

// WithTenantStore injects a tenant settings store instead of creating one from config.
func WithTenantStore(s tenant.Store) Option {
	return func(a *App) { a.tenants = s }
}

// WithHistoryStore injects a correction history store instead of creating one from config.
func WithHistoryStore(s ledger.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics injects a metrics sink instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (constructed from the corrector config). Use Option
// functions to inject test doubles for any store.
//
// New performs all initialisation synchronously: store connection and schema
// migration, dictionary seeding, and pipeline assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.providers == nil {
		a.providers = &Providers{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Dictionary seeds ──────────────────────────────────────────────
	if err := a.initSeeds(ctx); err != nil {
		return nil, fmt.Errorf("app: init seeds: %w", err)
	}

	// ── 3. Correction pipeline ───────────────────────────────────────────
	a.initPipeline()

	// ── 4. Learning loop + prompt builder ────────────────────────────────
	a.feedback = learning.New(a.dict, a.tenants, a.history, learning.WithMetrics(a.metrics))
	a.prompts = prompt.NewBuilder(a.dict, a.tenants, a.promptOptions()...)

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.buildHandler()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects the three persistence layers. Injected stores win; a
// configured DSN creates PostgreSQL stores; otherwise in-memory stores serve
// development setups.
func (a *App) initStores(ctx context.Context) error {
	allInjected := a.dict != nil && a.tenants != nil && a.history != nil
	if allInjected || a.cfg.Postgres.DSN == "" {
		if a.dict == nil {
			a.dict = dictionary.NewMemStore()
		}
		if a.tenants == nil {
			a.tenants = tenant.NewMemStore()
		}
		if a.history == nil {
			a.history = ledger.NewMemLedger()
		}
		a.health = health.New()
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	if a.dict == nil {
		store := dictionary.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate dictionary schema: %w", err)
		}
		a.dict = store
	}
	if a.tenants == nil {
		store := tenant.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate tenant schema: %w", err)
		}
		a.tenants = store
	}
	if a.history == nil {
		store := ledger.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
		a.history = store
	}

	a.health = health.New(health.DatabaseChecker(pool))
	slog.Info("connected to postgres")
	return nil
}

// initSeeds imports every configured dictionary seed file. Row failures are
// logged and skipped; a file that cannot be read at all fails startup.
func (a *App) initSeeds(ctx context.Context) error {
	for _, path := range a.cfg.Dictionary.SeedFiles {
		sf, err := dictionary.LoadSeedFile(path)
		if err != nil {
			return err
		}
		res, err := dictionary.ImportSeedFile(ctx, a.dict, sf)
		if err != nil {
			return err
		}
		for _, f := range res.Failures {
			slog.Warn("seed row rejected", "path", path, "original", f.Original, "err", f.Err)
		}
		slog.Info("imported dictionary seeds",
			"path", path,
			"scope", sf.Scope,
			"inserted", res.Inserted,
			"updated", res.Updated,
			"failed", len(res.Failures),
		)
	}
	return nil
}

// initPipeline assembles the correction pipeline from config and providers.
func (a *App) initPipeline() {
	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if a.providers.Corrector != nil {
		opts = append(opts, pipeline.WithCorrector(a.providers.Corrector))
	}
	if a.cfg.Pipeline.WorkerLimit > 0 {
		opts = append(opts, pipeline.WithWorkerLimit(a.cfg.Pipeline.WorkerLimit))
	}
	if a.cfg.Corrector.Timeout > 0 {
		opts = append(opts, pipeline.WithAITimeout(a.cfg.Corrector.Timeout))
	}
	a.pipeline = pipeline.New(a.dict, a.tenants, a.history, opts...)
}

// promptOptions translates the prompt config block into builder options.
func (a *App) promptOptions() []prompt.Option {
	var opts []prompt.Option
	if a.cfg.Prompt.Base != "" {
		opts = append(opts, prompt.WithBase(a.cfg.Prompt.Base))
	}
	if a.cfg.Prompt.Budget != 0 {
		opts = append(opts, prompt.WithBudget(a.cfg.Prompt.Budget))
	}
	if a.cfg.Prompt.TermLimit > 0 {
		opts = append(opts, prompt.WithTermLimit(a.cfg.Prompt.TermLimit))
	}
	return opts
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler. Exposed for tests driving the
// API through httptest without binding a socket.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation, in-flight requests are drained before Run returns
// the context error.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("app running", "addr", addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("server drain incomplete", "err", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
