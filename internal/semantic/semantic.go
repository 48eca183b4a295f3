// Package semantic assembles the semantic rule evaluation module: rule
// loading across precedence scopes, scope resolution, the two-tier
// evaluator and the HTTP surface.
package semantic

import (
	"context"

	rulesadapter "artifact-semantics/internal/rules/adapter"
	rulesparser "artifact-semantics/internal/rules/adapter/parser"
	"artifact-semantics/internal/rules/defaults"
	rulesdomain "artifact-semantics/internal/rules/domain"
	rulesusecase "artifact-semantics/internal/rules/usecase"
	"artifact-semantics/internal/semantic/adapter/cache"
	httpadapter "artifact-semantics/internal/semantic/adapter/http"
	"artifact-semantics/internal/semantic/adapter/persistence/sqlite"
	"artifact-semantics/internal/semantic/config"
	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/semantic/usecase"
	"artifact-semantics/internal/shared/eventbus"
	"artifact-semantics/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Module wires the semantic engine's components and owns their lifecycle.
type Module struct {
	Config    *config.Config
	Loader    *rulesusecase.Loader
	Resolver  *usecase.ScopeResolver
	Evaluator *usecase.Evaluator
	Patterns  *cache.PatternCache
	Bus       *eventbus.EventBus
	Logger    logger.Logger

	zlog *zap.Logger
}

// NewModule builds the module from configuration. The adapter layer logs
// through zap; everything above it through the shared logger.
func NewModule(cfg *config.Config, log logger.Logger, bus *eventbus.EventBus) (*Module, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewLogger()
	}
	if bus == nil {
		bus = eventbus.NewEventBus(log)
	}
	zlog, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	patterns := cache.NewPatternCache(cfg.Evaluation.PatternCacheSize, log.WithComponent("pattern_cache"))
	adapter := sqlite.NewStoreAdapter(patterns, zlog.Named("store_adapter"))
	prefilter := sqlite.NewPrefilter(adapter, zlog.Named("prefilter"))
	builder := sqlite.NewQueryBuilder()

	discovery := rulesadapter.NewDirectoryDiscovery(defaults.FS(), rulesadapter.DiscoveryPaths{
		GlobalDirs:  cfg.Rules.GlobalDirs,
		PipelineDir: cfg.Rules.PipelineDir,
		WingDir:     cfg.Rules.WingDir,
		CaseDir:     cfg.Rules.CaseDir,
	}, zlog.Named("rule_discovery"))
	parser := rulesparser.NewFileParser(zlog.Named("rule_parser"))
	loader := rulesusecase.NewLoader(discovery, parser, bus, zlog.Named("rule_loader"))

	resolver := usecase.NewScopeResolver(usecase.ScopeResolverOptions{}, log.WithComponent("scope_resolver"))

	evaluator := usecase.NewEvaluator(
		loader,
		resolver,
		adapter,
		prefilter,
		builder,
		patterns,
		usecase.EvaluatorConfig{
			MaxWorkers:        cfg.Evaluation.MaxWorkers,
			ParallelThreshold: cfg.Evaluation.ParallelThreshold,
			StoreQueryTimeout: cfg.Evaluation.StoreQueryTimeout,
			EnableParallel:    cfg.Evaluation.EnableParallel,
		},
		log.WithComponent("semantic_evaluator"),
	)

	return &Module{
		Config:    cfg,
		Loader:    loader,
		Resolver:  resolver,
		Evaluator: evaluator,
		Patterns:  patterns,
		Bus:       bus,
		Logger:    log,
		zlog:      zlog,
	}, nil
}

// LoadRules performs the initial load of every scope.
func (m *Module) LoadRules(ctx context.Context) error {
	_, err := m.Loader.Load(ctx)
	return err
}

// EvaluateIdentity is the module's primary operation.
func (m *Module) EvaluateIdentity(ctx context.Context, identity *model.Identity, ectx model.ExecutionContext) (*model.EvaluationResult, error) {
	return m.Evaluator.EvaluateIdentity(ctx, identity, ectx)
}

// Stats exposes the evaluator's lifetime counters.
func (m *Module) Stats() model.Statistics {
	return m.Evaluator.Stats()
}

// EffectiveRules resolves the active snapshot for a context.
func (m *Module) EffectiveRules(ectx model.ExecutionContext) *model.EffectiveRules {
	return m.Resolver.Resolve(m.Loader.RuleSets(), ectx)
}

// ConflictReport returns the conflicts found by the last load.
func (m *Module) ConflictReport() []model.Conflict {
	snap := m.Loader.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Report.Conflicts
}

// Coverage describes the active rule sets.
func (m *Module) Coverage() rulesdomain.CoverageStats {
	return m.Loader.Coverage()
}

// ReloadRules reloads every scope atomically and publishes a reload event.
func (m *Module) ReloadRules(ctx context.Context) (*rulesdomain.LoadReport, error) {
	return m.Loader.Reload(ctx)
}

// RegisterRoutes mounts the HTTP and websocket surface.
func (m *Module) RegisterRoutes(app *fiber.App) {
	app.Use(httpadapter.RequestIDMiddleware())
	app.Use(httpadapter.AuthMiddleware(m.Config.Auth.JWTSecret, m.Logger))

	handler := httpadapter.NewSemanticHandler(m, m, m.Logger)
	handler.RegisterRoutes(app)

	wsHandler := httpadapter.NewReloadEventHandler(m.Bus, m.Logger)
	wsHandler.RegisterRoutes(app)

	m.Logger.Info("Semantic routes and websocket handler registered")
}

// Stop flushes the adapter logger.
func (m *Module) Stop() error {
	if m.zlog != nil {
		_ = m.zlog.Sync()
	}
	return nil
}
