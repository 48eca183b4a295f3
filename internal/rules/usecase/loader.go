package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"artifact-semantics/internal/rules/domain"
	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/shared/eventbus"

	"go.uber.org/zap"
)

// Snapshot is one immutable load outcome: the per-scope rule sets, the
// merged weight profiles and the report describing how they were produced.
// Reload swaps the active snapshot atomically, so an ongoing evaluation
// keeps whatever snapshot it started with.
type Snapshot struct {
	Sets    map[model.Scope]model.RuleSet
	Weights map[model.Scope]model.WeightProfile
	Report  domain.LoadReport
}

// Loader owns the authoritative rule state for every scope. It discovers
// rule files, parses them, detects conflicts and publishes a reload event
// once a new snapshot is active. A failed load never replaces a good one.
type Loader struct {
	discovery domain.Discovery
	parser    domain.Parser
	bus       *eventbus.EventBus
	log       *zap.Logger

	active atomic.Pointer[Snapshot]
}

// NewLoader wires a loader. The event bus may be nil when nothing needs
// reload notifications.
func NewLoader(discovery domain.Discovery, parser domain.Parser, bus *eventbus.EventBus, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		discovery: discovery,
		parser:    parser,
		bus:       bus,
		log:       log,
	}
}

// RuleSets returns the active snapshot's sets, implementing the evaluator's
// RuleProvider port. Before the first load it returns an empty map.
func (l *Loader) RuleSets() map[model.Scope]model.RuleSet {
	snap := l.active.Load()
	if snap == nil {
		return map[model.Scope]model.RuleSet{}
	}
	return snap.Sets
}

// WeightProfiles returns the active snapshot's weight profiles per scope.
func (l *Loader) WeightProfiles() map[model.Scope]model.WeightProfile {
	snap := l.active.Load()
	if snap == nil {
		return map[model.Scope]model.WeightProfile{}
	}
	return snap.Weights
}

// Snapshot returns the active snapshot, or nil before the first load.
func (l *Loader) Snapshot() *Snapshot {
	return l.active.Load()
}

// Load discovers and parses every source, then atomically activates the new
// snapshot. Parse errors are reported but never abort the batch; a
// discovery failure aborts without touching the active snapshot.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	started := time.Now()

	sources, err := l.discovery.Discover(ctx)
	if err != nil {
		l.log.Error("rule discovery failed, keeping previous snapshot", zap.Error(err))
		return nil, fmt.Errorf("rule discovery failed: %w", err)
	}

	report := domain.LoadReport{Sources: sources}
	sets := make(map[model.Scope]model.RuleSet)
	weights := make(map[model.Scope]model.WeightProfile)
	var allRules []model.Rule

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if src.Format == domain.FormatScript {
			report.DecisionLog = append(report.DecisionLog,
				fmt.Sprintf("skipped scripted rule file %s (form not supported)", src.Path))
			continue
		}

		content, err := l.discovery.Read(src)
		if err != nil {
			// One unreadable file does not abort the batch.
			l.log.Warn("rule file unreadable",
				zap.String("path", src.Path),
				zap.Error(err))
			report.Skipped = append(report.Skipped, domain.ParseError{
				Path: src.Path, Entry: -1, Message: err.Error(),
			})
			continue
		}

		parsed := l.parser.Parse(src, content)
		report.Skipped = append(report.Skipped, parsed.Skipped...)
		report.Mappings += parsed.Mappings
		report.RulesLoaded += len(parsed.Rules)

		set := sets[src.Scope]
		set.Scope = src.Scope
		set.Rules = append(set.Rules, parsed.Rules...)
		set.Weights = append(set.Weights, parsed.Weights...)
		set.Sources = append(set.Sources, src)
		set.LoadedAt = started
		sets[src.Scope] = set

		for _, w := range parsed.Weights {
			weights[src.Scope] = mergeWeights(weights[src.Scope], w)
		}
		allRules = append(allRules, parsed.Rules...)
	}

	report.Conflicts = ConflictReport(allRules)
	for _, c := range report.Conflicts {
		l.log.Warn("rule conflict detected", zap.String("conflict", c.String()))
		report.DecisionLog = append(report.DecisionLog, c.String())
	}
	for _, pe := range report.Skipped {
		report.DecisionLog = append(report.DecisionLog, "parse error: "+pe.String())
	}
	report.Duration = time.Since(started)
	report.LoadedAt = started

	snap := &Snapshot{Sets: sets, Weights: weights, Report: report}
	l.active.Store(snap)

	l.log.Info("rule snapshot activated",
		zap.Int("sources", len(sources)),
		zap.Int("rules", report.RulesLoaded),
		zap.Int("conflicts", len(report.Conflicts)),
		zap.Duration("duration", report.Duration))

	if l.bus != nil {
		l.bus.PublishAndForget(ctx, eventbus.NewBasicEventWithSource(
			eventbus.EventTypeRulesReloaded,
			map[string]interface{}{
				"rules_loaded": report.RulesLoaded,
				"conflicts":    len(report.Conflicts),
				"loaded_at":    report.LoadedAt,
			},
			"rule_loader",
		))
	}
	return snap, nil
}

// Reload re-runs Load over every scope; the contract is identical.
func (l *Loader) Reload(ctx context.Context) (*domain.LoadReport, error) {
	snap, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &snap.Report, nil
}

// ConflictReport finds rules that map the same (store, field, technical
// value) tuple to different semantic values, across all scopes.
func ConflictReport(rules []model.Rule) []model.Conflict {
	type bucket struct {
		storeID, field, value string
		semantics             map[string]struct{}
		ruleIDs               []string
	}
	byKey := make(map[string]*bucket)

	for i := range rules {
		storeID, field, value, ok := model.ConflictKey(&rules[i])
		if !ok {
			continue
		}
		key := storeID + "\x00" + field + "\x00" + value
		b, seen := byKey[key]
		if !seen {
			b = &bucket{storeID: storeID, field: field, value: value, semantics: map[string]struct{}{}}
			byKey[key] = b
		}
		b.semantics[rules[i].SemanticValue] = struct{}{}
		b.ruleIDs = append(b.ruleIDs, rules[i].RuleID)
	}

	var conflicts []model.Conflict
	for _, b := range byKey {
		if len(b.semantics) < 2 {
			continue
		}
		values := make([]string, 0, len(b.semantics))
		for v := range b.semantics {
			values = append(values, v)
		}
		sort.Strings(values)
		sort.Strings(b.ruleIDs)
		conflicts = append(conflicts, model.Conflict{
			StoreID:        b.storeID,
			FieldName:      b.field,
			TechnicalValue: b.value,
			SemanticValues: values,
			RuleIDs:        b.ruleIDs,
		})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].StoreID != conflicts[j].StoreID {
			return conflicts[i].StoreID < conflicts[j].StoreID
		}
		if conflicts[i].FieldName != conflicts[j].FieldName {
			return conflicts[i].FieldName < conflicts[j].FieldName
		}
		return conflicts[i].TechnicalValue < conflicts[j].TechnicalValue
	})
	return conflicts
}

// Coverage summarizes what the active snapshot covers.
func (l *Loader) Coverage() domain.CoverageStats {
	stats := domain.CoverageStats{
		RulesByScope:    map[model.Scope]int{},
		RulesByCategory: map[string]int{},
	}
	snap := l.active.Load()
	if snap == nil {
		return stats
	}
	for scope, set := range snap.Sets {
		stats.RulesByScope[scope] += len(set.Rules)
		stats.Sources += len(set.Sources)
		for i := range set.Rules {
			if cat := set.Rules[i].Category; cat != "" {
				stats.RulesByCategory[cat]++
			}
			if set.Rules[i].IsIdentityLevel() {
				stats.IdentityLevel++
			} else {
				stats.RecordLevel++
			}
		}
	}
	return stats
}

// mergeWeights overlays one profile onto another within a single scope;
// later files in the same scope win per key.
func mergeWeights(base, next model.WeightProfile) model.WeightProfile {
	if base.Thresholds == nil {
		return next.Clone()
	}
	merged := base.Clone()
	if merged.ProfileID == "" {
		merged.ProfileID = next.ProfileID
	}
	merged.Scope = next.Scope
	for k, v := range next.Thresholds {
		merged.Thresholds[k] = v
	}
	return merged
}
