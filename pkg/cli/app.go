package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/audit"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/cache"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/crypto"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/formatter"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/geocode"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/resolver"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/retriever"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/retry"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/services"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

// App holds the wired pipeline and everything that must be closed with it.
type App struct {
	Config   *config.Config
	Rules    *rules.RuleSet
	Pool     *database.Pool
	Catalog  *catalog.Catalog
	Executor *database.Executor
	Oracle   *llm.Oracle
	Sessions *session.Store
	Chat     services.ChatService

	closers []func() error
	logger  *zap.Logger
}

// loadRules returns the configured rule set, or the embedded one.
func loadRules(cfg *config.Config) (*rules.RuleSet, error) {
	if cfg.RulesPath != "" {
		return rules.Load(cfg.RulesPath)
	}
	return rules.Default()
}

// connect opens the pool and loads the catalog. A catalog that cannot be
// read is fatal.
func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.Pool, *catalog.Catalog, error) {
	pool, err := database.NewPool(ctx, database.PoolConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w",
			logging.SanitizeConnectionString(cfg.Database.ConnectionString()), err)
	}
	cat, err := catalog.Load(ctx, pool, cfg.Database.Schemas)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Schema catalog loaded", zap.Int("tables", len(cat.Tables())))
	return pool, cat, nil
}

// Build wires the whole pipeline. On error everything opened so far is
// closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			_ = app.Close()
		}
	}()

	var err error
	if app.Rules, err = loadRules(cfg); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	if app.Pool, app.Catalog, err = connect(ctx, cfg, logger); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() error { app.Pool.Close(); return nil })

	queryCache := cache.New(ctx, cfg.Cache, logger)
	app.closers = append(app.closers, queryCache.Close)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Executor.MaxRetries
	if cfg.Executor.RetryBase > 0 {
		retryCfg.InitialDelay = cfg.Executor.RetryBase
	}
	monitor := database.NewMonitor(cfg.Executor.SlowQueryThreshold, cfg.Executor.ErrorRateThreshold, cfg.Executor.ErrorRateWindow, logger)
	app.Executor = database.NewExecutor(app.Pool, database.ExecutorConfig{
		Retry:        retryCfg,
		Cache:        queryCache,
		TTL:          cache.NewTTLPolicy(cfg.Cache, app.Rules),
		CacheTimeout: cfg.Cache.Timeout,
		QueryTimeout: time.Duration(retryCfg.MaxRetries+1) * cfg.Database.StatementTimeout,
		Monitor:      monitor,
	}, logger)

	client, err := llm.NewFromConfig(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	app.Oracle = llm.NewOracle(client, llm.OracleConfig{Timeout: cfg.LLM.Timeout}, logger)

	tables := retriever.New(app.Catalog, app.Rules, logger)
	if cfg.LLM.Embeddings {
		if idx := buildEmbeddings(ctx, cfg, app.Catalog, logger); idx != nil {
			tables = tables.WithEmbeddings(idx)
		}
	}

	var geocoder geocode.Geocoder
	if cfg.Geocoder.Enabled {
		geocoder = geocode.NewNominatim(cfg.Geocoder, logger)
	}

	var persister session.Persister
	if cfg.Session.PersistPath != "" {
		var sealer session.Sealer
		if cfg.Session.EncryptionKey != "" {
			s, err := crypto.NewSealer(cfg.Session.EncryptionKey)
			if err != nil {
				return nil, err
			}
			sealer = s
		} else {
			logger.Warn("Session frames are persisted unencrypted; set SESSION_ENCRYPTION_KEY to seal them",
				zap.String("path", cfg.Session.PersistPath))
		}
		bp, err := session.OpenBadger(cfg.Session.PersistPath, cfg.Session.MaxFrames, sealer)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, bp.Close)
		persister = bp
	}
	app.Sessions = session.NewStore(session.StoreConfig{
		MaxFrames: cfg.Session.MaxFrames,
		TTL:       cfg.Session.TTL,
	}, persister, logger)
	app.closers = append(app.closers, app.Sessions.Close)

	app.Chat = services.NewChatService(services.ChatDeps{
		Rules:     app.Rules,
		Sessions:  app.Sessions,
		Resolver:  resolver.New(app.Rules, app.Oracle, resolver.Config{}, logger),
		Retriever: tables,
		Prompts:   prompts.NewAssembler(app.Catalog, app.Rules),
		Generator: app.Oracle,
		Validator: fleetsql.NewValidator(app.Catalog, app.Rules, logger),
		Executor:  app.Executor,
		Formatter: formatter.New(app.Rules, geocoder, app.Oracle, logger),
		Auditor:   audit.NewSecurityAuditor(logger),
		TopK:      cfg.Retriever.TopK,
	}, logger)

	built = true
	return app, nil
}

// buildEmbeddings precomputes table vectors. Retrieval works without them,
// so failures only log.
func buildEmbeddings(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, logger *zap.Logger) *retriever.EmbeddingIndex {
	embedder, err := llm.NewEmbedderFromConfig(cfg.LLM, logger)
	if err != nil {
		logger.Warn("Embeddings disabled", zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	descriptions := make(map[string]string, len(cat.Tables()))
	for _, name := range cat.TableNames() {
		descriptions[name] = cat.Describe(name)
	}
	idx, err := retriever.BuildEmbeddingIndex(ctx, embedder, cfg.LLM.EmbeddingModel, descriptions, cfg.LLM.Timeout, logger)
	if err != nil {
		logger.Warn("Failed to build embedding index, using keyword retrieval only",
			zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	return idx
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		a.logger.Warn("Errors while shutting down", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}
