package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/semantic/domain/repository"
	sharederrors "artifact-semantics/internal/shared/errors"
	"artifact-semantics/internal/shared/logger"

	"golang.org/x/sync/errgroup"
)

// Evaluator defaults
const (
	DefaultMaxWorkers        = 4
	DefaultParallelThreshold = 3
)

// EvaluatorConfig tunes the record-level execution path.
type EvaluatorConfig struct {
	// MaxWorkers bounds concurrent store groups; 1 forces strictly
	// sequential execution.
	MaxWorkers int

	// ParallelThreshold is the minimum number of store groups before
	// workers are spawned at all.
	ParallelThreshold int

	// StoreQueryTimeout is the optional soft deadline per store query; zero
	// disables it. Expiry falls the affected rule back to the in-memory
	// path, nothing else.
	StoreQueryTimeout time.Duration

	// EnableParallel turns the worker pool off entirely for debugging.
	EnableParallel bool
}

// DefaultEvaluatorConfig mirrors the documented defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		MaxWorkers:        DefaultMaxWorkers,
		ParallelThreshold: DefaultParallelThreshold,
		EnableParallel:    true,
	}
}

func (c *EvaluatorConfig) normalize() {
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.ParallelThreshold < 1 {
		c.ParallelThreshold = 1
	}
}

// Evaluator is the two-tier semantic rule engine. Identity-scoped rules run
// in memory; record-scoped rules are translated to SQL and executed against
// each referenced store, in parallel across store groups. Any rule the
// optimized path cannot serve — untranslatable SQL, unavailable store,
// query failure, deadline — is answered by the in-memory path over the
// identity's anchor records, so the engine always returns the answer a pure
// in-memory evaluation would have produced.
type Evaluator struct {
	provider  repository.RuleProvider
	resolver  *ScopeResolver
	adapter   repository.StoreAdapter
	prefilter repository.MetadataPrefilter
	builder   repository.QueryBuilder
	patterns  repository.PatternCache

	cfg   EvaluatorConfig
	stats *StatsRecorder
	log   logger.Logger
}

// NewEvaluator wires the evaluator to its collaborators.
func NewEvaluator(
	provider repository.RuleProvider,
	resolver *ScopeResolver,
	adapter repository.StoreAdapter,
	prefilter repository.MetadataPrefilter,
	builder repository.QueryBuilder,
	patterns repository.PatternCache,
	cfg EvaluatorConfig,
	log logger.Logger,
) *Evaluator {
	cfg.normalize()
	if log == nil {
		log = logger.WithComponent("semantic_evaluator")
	}
	return &Evaluator{
		provider:  provider,
		resolver:  resolver,
		adapter:   adapter,
		prefilter: prefilter,
		builder:   builder,
		patterns:  patterns,
		cfg:       cfg,
		stats:     NewStatsRecorder(),
		log:       log,
	}
}

// Stats returns a snapshot of the lifetime counters.
func (e *Evaluator) Stats() model.Statistics {
	return e.stats.Snapshot(false)
}

// ResetStats zeroes the lifetime counters.
func (e *Evaluator) ResetStats() {
	e.stats.Reset()
}

// EvaluateIdentity evaluates every effective rule against one identity and
// returns the deduplicated matches, statistics and the decision log.
//
// Only a fatal adapter failure returns an error; every other failure mode is
// recovered internally. Cancellation returns the partial result with the
// cancelled flag set.
func (e *Evaluator) EvaluateIdentity(ctx context.Context, identity *model.Identity, ectx model.ExecutionContext) (*model.EvaluationResult, error) {
	if identity == nil {
		return nil, sharederrors.NewBadRequestError("identity is required", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	effective := e.resolver.Resolve(e.provider.RuleSets(), ectx)

	dlog := NewDecisionLog()
	dlog.Extend(effective.DecisionLog)
	collector := NewResultCollector()

	identityRules, recordRules := partitionRules(effective.Rules)
	e.stats.RulesEvaluated(len(identityRules) + len(recordRules))

	// Identity-level path: one in-memory bundle, no store access.
	for i := range identityRules {
		if ctx.Err() != nil {
			return e.finish(collector, dlog, true), nil
		}
		rule := &identityRules[i]
		if match, ok := evaluateIdentityLevel(rule, identity, e.patterns); ok {
			if collector.Add(match) {
				e.stats.RuleMatched(rule.Scope)
			}
		}
	}

	// Record-level path: SQL against each referenced store.
	fatal, cancelled := e.evaluateRecordRules(ctx, identity, recordRules, collector, dlog)
	if fatal != nil {
		e.log.WithContext(ctx).Errorf("adapter unusable, aborting evaluation: %v", fatal)
		return nil, fatal
	}

	result := e.finish(collector, dlog, cancelled || ctx.Err() != nil)
	return result, nil
}

func (e *Evaluator) finish(collector *ResultCollector, dlog *DecisionLog, cancelled bool) *model.EvaluationResult {
	matches := collector.Matches()
	e.stats.IdentityEvaluated(len(matches) > 0)
	return &model.EvaluationResult{
		Matches:     matches,
		Stats:       e.stats.Snapshot(cancelled),
		DecisionLog: dlog.Entries(),
	}
}

// partitionRules separates identity-level rules from record-level ones.
func partitionRules(rules []model.Rule) (identityRules, recordRules []model.Rule) {
	for _, r := range rules {
		if r.IsIdentityLevel() {
			identityRules = append(identityRules, r)
		} else {
			recordRules = append(recordRules, r)
		}
	}
	return identityRules, recordRules
}

// storeGroup is one worker's unit of work: a store and every rule that
// references it.
type storeGroup struct {
	storeID string
	path    string
	rules   []*model.Rule
}

// evaluateRecordRules groups record-level rules by referenced store and runs
// the groups, in parallel once the group count reaches the threshold.
func (e *Evaluator) evaluateRecordRules(ctx context.Context, identity *model.Identity, rules []model.Rule, collector *ResultCollector, dlog *DecisionLog) (fatal error, cancelled bool) {
	if len(rules) == 0 {
		return nil, false
	}

	paths := identity.StorePaths()
	if len(paths) == 0 {
		dlog.Addf("fallback: no store paths on identity, evaluating %d record-level rules in memory", len(rules))
		for i := range rules {
			if ctx.Err() != nil {
				return nil, true
			}
			e.fallbackRule(&rules[i], identity, collector, dlog, "no store paths")
		}
		return nil, false
	}

	groups, uncovered := groupRulesByStore(rules, paths)

	// Rules that reference no opened store can still match through anchors.
	for _, r := range uncovered {
		if ctx.Err() != nil {
			return nil, true
		}
		e.fallbackRule(r, identity, collector, dlog, "referenced stores not present on identity")
	}

	parallel := e.cfg.EnableParallel && e.cfg.MaxWorkers > 1 && len(groups) >= e.cfg.ParallelThreshold

	// Tracks the fatal-adapter contract: only when the REGEXP scalar cannot
	// be bound on any opened store is the adapter considered unusable.
	var probeMu sync.Mutex
	opened, probeFailed := 0, 0

	runGroup := func(g storeGroup) {
		ok, failed := e.processStoreGroup(ctx, g, identity, collector, dlog)
		probeMu.Lock()
		if ok {
			opened++
		}
		if failed {
			probeFailed++
		}
		probeMu.Unlock()
	}

	if parallel {
		eg := &errgroup.Group{}
		eg.SetLimit(e.cfg.MaxWorkers)
		for _, g := range groups {
			g := g
			eg.Go(func() error {
				runGroup(g)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for _, g := range groups {
			if ctx.Err() != nil {
				return nil, true
			}
			runGroup(g)
		}
	}

	if opened > 0 && probeFailed == opened {
		return errors.Join(sharederrors.ErrFatalAdapter,
			errors.New("REGEXP function could not be registered for any store")), ctx.Err() != nil
	}
	return nil, ctx.Err() != nil
}

// groupRulesByStore builds one group per store present on the identity. A
// rule touching N stores appears in N groups; rules touching none of the
// identity's stores are returned separately.
func groupRulesByStore(rules []model.Rule, paths map[string]string) ([]storeGroup, []*model.Rule) {
	byStore := make(map[string][]*model.Rule)
	var uncovered []*model.Rule

	for i := range rules {
		r := &rules[i]
		covered := false
		for _, storeID := range r.StoreIDs() {
			if storeID == model.IdentityStoreID {
				continue
			}
			if _, ok := paths[storeID]; ok {
				byStore[storeID] = append(byStore[storeID], r)
				covered = true
			}
		}
		if !covered {
			uncovered = append(uncovered, r)
		}
	}

	storeIDs := make([]string, 0, len(byStore))
	for id := range byStore {
		storeIDs = append(storeIDs, id)
	}
	sort.Strings(storeIDs)

	groups := make([]storeGroup, 0, len(storeIDs))
	for _, id := range storeIDs {
		groups = append(groups, storeGroup{storeID: id, path: paths[id], rules: byStore[id]})
	}
	return groups, uncovered
}

// processStoreGroup runs every rule of one store group on a dedicated
// adapter handle. Returns whether the store opened, and whether the REGEXP
// probe failed on it.
func (e *Evaluator) processStoreGroup(ctx context.Context, g storeGroup, identity *model.Identity, collector *ResultCollector, dlog *DecisionLog) (openedOK, probeFailed bool) {
	if ctx.Err() != nil {
		return false, false
	}

	clog := e.log.WithFields(map[string]interface{}{"store_id": g.storeID, "store_path": g.path})

	handle, err := e.adapter.Open(ctx, g.path)
	if err != nil {
		clog.Errorf("store unavailable, falling back to in-memory: %v", err)
		dlog.Addf("fallback: store %q unavailable (%v), %d rules evaluated in memory", g.storeID, err, len(g.rules))
		for _, r := range g.rules {
			if ctx.Err() != nil {
				return false, false
			}
			e.fallbackRule(r, identity, collector, dlog, "store unavailable")
		}
		return false, false
	}
	defer func() {
		if cerr := e.adapter.Close(handle); cerr != nil {
			clog.Warnf("store close failed: %v", cerr)
		}
	}()

	if err := e.adapter.RegisterRegexp(ctx, handle); err != nil {
		clog.Errorf("REGEXP registration failed on store: %v", err)
		dlog.Addf("fallback: REGEXP unavailable on store %q, %d rules evaluated in memory", g.storeID, len(g.rules))
		for _, r := range g.rules {
			e.fallbackRule(r, identity, collector, dlog, "REGEXP unavailable")
		}
		return true, true
	}

	for _, rule := range g.rules {
		// Cancellation is observed at rule boundaries at the latest.
		if ctx.Err() != nil {
			return true, false
		}
		e.processRuleOnStore(ctx, rule, g, handle, identity, collector, dlog, clog)
	}
	return true, false
}

// processRuleOnStore runs the optimized path for one rule on one store:
// pre-filter, build, execute. Every failure funnels into the in-memory
// fallback for this rule only.
func (e *Evaluator) processRuleOnStore(ctx context.Context, rule *model.Rule, g storeGroup, handle repository.StoreHandle, identity *model.Identity, collector *ResultCollector, dlog *DecisionLog, clog logger.Logger) {
	requiredColumns := rule.FieldsForStore(g.storeID)
	if len(requiredColumns) == 0 {
		return
	}

	if ok, reason := e.prefilter.Check(ctx, handle, requiredColumns, rule.ArtifactType); !ok {
		e.stats.StoreSkipped()
		dlog.Addf("skip: store %q for rule %q: %s", g.storeID, rule.RuleID, reason)
		return
	}

	query, params, err := e.builder.BuildRuleQuery(rule)
	if err != nil {
		// Untranslatable is a routing decision, not an error.
		dlog.Addf("fallback: rule %q not translatable (%v)", rule.RuleID, err)
		e.fallbackRule(rule, identity, collector, dlog, "untranslatable")
		return
	}

	qctx := ctx
	var cancel context.CancelFunc
	if e.cfg.StoreQueryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, e.cfg.StoreQueryTimeout)
		defer cancel()
	}

	iter, err := e.adapter.Execute(qctx, handle, query, params)
	if err != nil {
		clog.Errorf("query failed for rule %q: %v", rule.RuleID, err)
		dlog.Addf("fallback: query failed for rule %q on store %q (%v)", rule.RuleID, g.storeID, err)
		e.fallbackRule(rule, identity, collector, dlog, "query execution failed")
		return
	}
	matched := iter.Next()
	iterErr := iter.Err()
	_ = iter.Close()

	if iterErr != nil {
		clog.Errorf("row iteration failed for rule %q: %v", rule.RuleID, iterErr)
		dlog.Addf("fallback: row iteration failed for rule %q on store %q (%v)", rule.RuleID, g.storeID, iterErr)
		e.fallbackRule(rule, identity, collector, dlog, "row iteration failed")
		return
	}

	if matched {
		if collector.Add(model.NewMatch(rule, []string{g.storeID})) {
			e.stats.RuleMatched(rule.Scope)
		}
	}
}

// fallbackRule answers one rule through the in-memory path over the
// identity's anchor records. This is the graceful-degradation contract:
// whatever kept the rule off the optimized path, the result equals a pure
// in-memory evaluation.
func (e *Evaluator) fallbackRule(rule *model.Rule, identity *model.Identity, collector *ResultCollector, dlog *DecisionLog, reason string) {
	e.stats.Fallback()
	if len(identity.AnchorRecords) == 0 {
		return
	}
	if match, ok := evaluateRuleInMemory(rule, identity.AnchorRecords, e.patterns); ok {
		dlog.Addf("fallback match: rule %q via in-memory (%s)", rule.RuleID, reason)
		if collector.Add(match) {
			e.stats.RuleMatched(rule.Scope)
		}
	}
}
