package usecase

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/shared/logger"
)

// ResolutionStrategy selects how the resolver settles value conflicts
// between scopes.
type ResolutionStrategy string

const (
	// StrategyCasePrecedence lets the deepest scope win outright (default).
	StrategyCasePrecedence ResolutionStrategy = "case_precedence"

	// StrategyAdditiveMerge overlays dictionary-valued configuration:
	// deeper scopes override shallower entries but never remove them.
	StrategyAdditiveMerge ResolutionStrategy = "additive_merge"

	// StrategyGlobalPrecedence pins operator-declared immutable keys to the
	// global value regardless of deeper overrides.
	StrategyGlobalPrecedence ResolutionStrategy = "global_precedence"

	// StrategyAverage merges numeric weight fields by arithmetic mean.
	// Valid for weight profiles only.
	StrategyAverage ResolutionStrategy = "average"
)

// ScopeResolverOptions tunes a resolver instance.
type ScopeResolverOptions struct {
	Strategy ResolutionStrategy

	// ImmutableRuleIDs are operator-declared keys resolved with global
	// precedence even when the strategy is case precedence.
	ImmutableRuleIDs []string
}

// ScopeResolver folds per-scope rule sets into one effective, deduplicated,
// priority-ordered rule list for an execution context. Inputs are never
// modified; every call produces a fresh list and a decision log.
type ScopeResolver struct {
	opts      ScopeResolverOptions
	immutable map[string]struct{}
	log       logger.Logger
}

// NewScopeResolver creates a resolver. A zero options value yields the
// default case-precedence behavior.
func NewScopeResolver(opts ScopeResolverOptions, log logger.Logger) *ScopeResolver {
	if opts.Strategy == "" {
		opts.Strategy = StrategyCasePrecedence
	}
	immutable := make(map[string]struct{}, len(opts.ImmutableRuleIDs))
	for _, id := range opts.ImmutableRuleIDs {
		immutable[id] = struct{}{}
	}
	if log == nil {
		log = logger.WithComponent("scope_resolver")
	}
	return &ScopeResolver{opts: opts, immutable: immutable, log: log}
}

// Resolve merges the scoped rule sets applicable to the context. Priority
// order, highest first: case, wing, pipeline, global, built-in. Rules
// sharing a rule_id collapse to the highest-priority one; rules sharing a
// technical key with disagreeing semantic values are logged and settled by
// the active strategy.
func (sr *ScopeResolver) Resolve(sets map[model.Scope]model.RuleSet, ectx model.ExecutionContext) *model.EffectiveRules {
	var decisions []string
	byID := make(map[string]model.Rule)

	// Walk scopes from lowest priority upward so later writes win.
	for _, scope := range model.Scopes() {
		set, ok := sets[scope]
		if !ok {
			continue
		}
		for _, rule := range set.Rules {
			if reason, applies := ruleApplies(&rule, ectx); !applies {
				decisions = append(decisions, fmt.Sprintf("excluded rule %q: %s", rule.RuleID, reason))
				continue
			}
			if existing, seen := byID[rule.RuleID]; seen {
				if sr.globalWins(rule.RuleID) {
					decisions = append(decisions, fmt.Sprintf(
						"kept rule %q from scope %s: immutable key, %s override ignored",
						rule.RuleID, existing.Scope, rule.Scope))
					continue
				}
				decisions = append(decisions, fmt.Sprintf(
					"override: rule %q from scope %s replaced by scope %s",
					rule.RuleID, existing.Scope, rule.Scope))
			}
			byID[rule.RuleID] = rule
		}
	}

	rules := make([]model.Rule, 0, len(byID))
	for _, r := range byID {
		rules = append(rules, r)
	}

	rules, conflictDecisions := sr.settleKeyConflicts(rules)
	decisions = append(decisions, conflictDecisions...)

	// Highest priority first; rule_id breaks ties deterministically.
	sort.Slice(rules, func(i, j int) bool {
		pi, pj := rules[i].Scope.Priority(), rules[j].Scope.Priority()
		if pi != pj {
			return pi > pj
		}
		return rules[i].RuleID < rules[j].RuleID
	})

	return &model.EffectiveRules{
		Rules:       rules,
		Handle:      contentHandle(rules),
		ResolvedAt:  time.Now(),
		DecisionLog: decisions,
	}
}

// settleKeyConflicts finds rules sharing a (store, field, technical value)
// tuple with different semantic values and keeps one per tuple according to
// the strategy.
func (sr *ScopeResolver) settleKeyConflicts(rules []model.Rule) ([]model.Rule, []string) {
	type slot struct {
		rule      model.Rule
		semantics map[string]struct{}
		ruleIDs   []string
	}
	var decisions []string
	byKey := make(map[string]*slot)
	var out []model.Rule

	for _, r := range rules {
		storeID, field, value, keyed := model.ConflictKey(&r)
		if !keyed {
			out = append(out, r)
			continue
		}
		key := storeID + "\x00" + field + "\x00" + value
		s, seen := byKey[key]
		if !seen {
			byKey[key] = &slot{
				rule:      r,
				semantics: map[string]struct{}{r.SemanticValue: {}},
				ruleIDs:   []string{r.RuleID},
			}
			continue
		}
		s.semantics[r.SemanticValue] = struct{}{}
		s.ruleIDs = append(s.ruleIDs, r.RuleID)
		if len(s.semantics) > 1 {
			winner := sr.pickWinner(s.rule, r)
			loser := r
			if winner.RuleID == r.RuleID {
				loser = s.rule
			}
			decisions = append(decisions, fmt.Sprintf(
				"conflict on (%s, %s, %s): %q from scope %s wins over %q from scope %s",
				storeID, field, value,
				winner.SemanticValue, winner.Scope, loser.SemanticValue, loser.Scope))
			sr.log.Warnf("rule conflict on (%s, %s, %s): keeping %q", storeID, field, value, winner.RuleID)
			s.rule = winner
		} else if sr.pickWinner(s.rule, r).RuleID == r.RuleID {
			s.rule = r
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, byKey[k].rule)
	}
	return out, decisions
}

// pickWinner applies the strategy to two rules contending for one key.
func (sr *ScopeResolver) pickWinner(a, b model.Rule) model.Rule {
	if sr.globalWins(a.RuleID) || sr.globalWins(b.RuleID) {
		// Immutable keys: the shallowest scope wins.
		if a.Scope.Priority() <= b.Scope.Priority() {
			return a
		}
		return b
	}
	if b.Scope.Priority() > a.Scope.Priority() {
		return b
	}
	return a
}

func (sr *ScopeResolver) globalWins(ruleID string) bool {
	if sr.opts.Strategy == StrategyGlobalPrecedence {
		return true
	}
	_, ok := sr.immutable[ruleID]
	return ok
}

// ResolveWeights merges weight profiles across scopes. Unlike rules, weight
// thresholds are dictionary-valued, so additive merge and numeric averaging
// are meaningful here.
func (sr *ScopeResolver) ResolveWeights(profiles map[model.Scope]model.WeightProfile, strategy ResolutionStrategy) (model.WeightProfile, []string) {
	if strategy == "" {
		strategy = sr.opts.Strategy
	}
	var decisions []string
	merged := model.WeightProfile{Thresholds: map[string]float64{}}
	counts := map[string]int{}

	for _, scope := range model.Scopes() {
		p, ok := profiles[scope]
		if !ok {
			continue
		}
		if merged.ProfileID == "" || strategy != StrategyGlobalPrecedence {
			merged.ProfileID = p.ProfileID
			merged.Scope = scope
		}
		for k, v := range p.Thresholds {
			switch strategy {
			case StrategyAverage:
				merged.Thresholds[k] += v
				counts[k]++
			case StrategyGlobalPrecedence:
				if _, exists := merged.Thresholds[k]; !exists {
					merged.Thresholds[k] = v
				} else {
					decisions = append(decisions, fmt.Sprintf(
						"weights: key %q from scope %s ignored (global precedence)", k, scope))
				}
			default:
				// Case precedence and additive merge both overlay deeper
				// scopes onto shallower ones; additive merge never removes.
				if _, exists := merged.Thresholds[k]; exists {
					decisions = append(decisions, fmt.Sprintf(
						"weights: key %q overridden by scope %s", k, scope))
				}
				merged.Thresholds[k] = v
			}
		}
	}

	if strategy == StrategyAverage {
		for k, n := range counts {
			if n > 1 {
				merged.Thresholds[k] /= float64(n)
				decisions = append(decisions, fmt.Sprintf(
					"weights: key %q averaged across %d scopes", k, n))
			}
		}
	}
	return merged, decisions
}

// ruleApplies checks a rule's scope tags against the execution context.
func ruleApplies(r *model.Rule, ectx model.ExecutionContext) (string, bool) {
	if r.WingID != "" && r.WingID != ectx.WingID {
		return fmt.Sprintf("wing %q not in context", r.WingID), false
	}
	if r.PipelineID != "" && r.PipelineID != ectx.PipelineID {
		return fmt.Sprintf("pipeline %q not in context", r.PipelineID), false
	}
	if r.CaseID != "" && r.CaseID != ectx.CaseID {
		return fmt.Sprintf("case %q not in context", r.CaseID), false
	}
	return "", true
}

// contentHandle fingerprints the resolved rule content so holders can tell
// whether a reload actually changed anything. Identical content yields an
// identical handle, which keeps reloads idempotent.
func contentHandle(rules []model.Rule) string {
	h := fnv.New64a()
	for _, r := range rules {
		h.Write([]byte(r.RuleID))
		h.Write([]byte{0})
		h.Write([]byte(r.SemanticValue))
		h.Write([]byte{0})
		h.Write([]byte(r.Scope))
		h.Write([]byte{0})
		for _, c := range r.Conditions {
			h.Write([]byte(c.String()))
			h.Write([]byte{0})
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
