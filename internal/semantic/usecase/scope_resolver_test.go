package usecase

import (
	"strings"
	"testing"

	"artifact-semantics/internal/semantic/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopedRule(id string, scope model.Scope, semantic string) model.Rule {
	return model.Rule{
		RuleID:        id,
		Name:          id,
		Scope:         scope,
		Severity:      model.SeverityInfo,
		Confidence:    1,
		LogicOperator: model.LogicAnd,
		SemanticValue: semantic,
		Conditions: []model.Condition{
			{StoreID: "logs", FieldName: "EventID", Operator: model.OperatorEquals, Value: "4624"},
		},
	}
}

func TestResolveScopeOverrideByRuleID(t *testing.T) {
	// S5: a wing rule with the same rule_id overrides the global one.
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Scope: model.ScopeGlobal, Rules: []model.Rule{scopedRule("R1", model.ScopeGlobal, "A")}},
		model.ScopeWing:   {Scope: model.ScopeWing, Rules: []model.Rule{scopedRule("R1", model.ScopeWing, "B")}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{WingID: "wing-7"})
	require.Len(t, effective.Rules, 1)
	assert.Equal(t, "B", effective.Rules[0].SemanticValue)
	assert.Equal(t, model.ScopeWing, effective.Rules[0].Scope)

	// The override is recorded in the decision log.
	var logged bool
	for _, entry := range effective.DecisionLog {
		if entry == `override: rule "R1" from scope global replaced by scope wing` {
			logged = true
		}
	}
	assert.True(t, logged, "decision log records the override: %v", effective.DecisionLog)
}

func TestResolveScopeMonotonicity(t *testing.T) {
	// An overridden rule never contributes, whatever else is in the sets.
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	global := scopedRule("R1", model.ScopeGlobal, "A")
	caseRule := scopedRule("R1", model.ScopeCase, "C")
	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{global}},
		model.ScopeCase:   {Rules: []model.Rule{caseRule}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{CaseID: "case-1"})
	require.Len(t, effective.Rules, 1)
	for _, r := range effective.Rules {
		assert.NotEqual(t, "A", r.SemanticValue)
	}
}

func TestResolveKeyConflictHigherScopeWins(t *testing.T) {
	// Two rules with different IDs map the same technical key to different
	// labels: the deeper scope's semantic value wins, the loser is dropped.
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	globalRule := scopedRule("global-login", model.ScopeGlobal, "User Login")
	wingRule := scopedRule("wing-login", model.ScopeWing, "Interactive Login")

	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{globalRule}},
		model.ScopeWing:   {Rules: []model.Rule{wingRule}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{})
	require.Len(t, effective.Rules, 1)
	assert.Equal(t, "Interactive Login", effective.Rules[0].SemanticValue)

	var conflictLogged bool
	for _, entry := range effective.DecisionLog {
		if strings.Contains(entry, "conflict on") && strings.Contains(entry, "Interactive Login") {
			conflictLogged = true
		}
	}
	assert.True(t, conflictLogged, "conflict decision missing: %v", effective.DecisionLog)
}

func TestResolveExcludesForeignContextRules(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	tagged := scopedRule("wing-rule", model.ScopeWing, "X")
	tagged.WingID = "wing-1"
	other := scopedRule("other-wing-rule", model.ScopeWing, "Y")
	other.WingID = "wing-2"

	sets := map[model.Scope]model.RuleSet{
		model.ScopeWing: {Rules: []model.Rule{tagged, other}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{WingID: "wing-1"})
	require.Len(t, effective.Rules, 1)
	assert.Equal(t, "wing-rule", effective.Rules[0].RuleID)
}

func TestResolveImmutableKeyKeepsGlobal(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{
		ImmutableRuleIDs: []string{"R1"},
	}, nil)

	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{scopedRule("R1", model.ScopeGlobal, "A")}},
		model.ScopeCase:   {Rules: []model.Rule{scopedRule("R1", model.ScopeCase, "C")}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{CaseID: "case-1"})
	require.Len(t, effective.Rules, 1)
	assert.Equal(t, "A", effective.Rules[0].SemanticValue)
}

func TestResolveHandleIsContentDerived(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)
	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{scopedRule("R1", model.ScopeGlobal, "A")}},
	}

	first := resolver.Resolve(sets, model.ExecutionContext{})
	second := resolver.Resolve(sets, model.ExecutionContext{})
	assert.Equal(t, first.Handle, second.Handle, "same content, same handle")

	changed := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{scopedRule("R1", model.ScopeGlobal, "B")}},
	}
	third := resolver.Resolve(changed, model.ExecutionContext{})
	assert.NotEqual(t, first.Handle, third.Handle, "changed content, changed handle")
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)
	rule := scopedRule("R1", model.ScopeGlobal, "A")
	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{rule}},
	}

	_ = resolver.Resolve(sets, model.ExecutionContext{})
	assert.Equal(t, "A", sets[model.ScopeGlobal].Rules[0].SemanticValue)
	assert.Len(t, sets[model.ScopeGlobal].Rules, 1)
}

func TestResolveOrdersByPriority(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	// Distinct keys so no conflict pruning occurs.
	caseRule := scopedRule("case-rule", model.ScopeCase, "C")
	caseRule.Conditions[0].Value = "1102"
	globalRule := scopedRule("global-rule", model.ScopeGlobal, "G")

	sets := map[model.Scope]model.RuleSet{
		model.ScopeGlobal: {Rules: []model.Rule{globalRule}},
		model.ScopeCase:   {Rules: []model.Rule{caseRule}},
	}

	effective := resolver.Resolve(sets, model.ExecutionContext{CaseID: "c"})
	require.Len(t, effective.Rules, 2)
	assert.Equal(t, "case-rule", effective.Rules[0].RuleID, "higher priority first")
}

func TestResolveWeightsAverage(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	profiles := map[model.Scope]model.WeightProfile{
		model.ScopeGlobal: {Thresholds: map[string]float64{"confirmed": 0.8, "probable": 0.5}},
		model.ScopeCase:   {Thresholds: map[string]float64{"confirmed": 0.6}},
	}

	merged, decisions := resolver.ResolveWeights(profiles, StrategyAverage)
	assert.InDelta(t, 0.7, merged.Thresholds["confirmed"], 1e-9)
	assert.InDelta(t, 0.5, merged.Thresholds["probable"], 1e-9)
	assert.NotEmpty(t, decisions)
}

func TestResolveWeightsAdditiveMerge(t *testing.T) {
	resolver := NewScopeResolver(ScopeResolverOptions{}, nil)

	profiles := map[model.Scope]model.WeightProfile{
		model.ScopeGlobal: {Thresholds: map[string]float64{"confirmed": 0.8, "probable": 0.5}},
		model.ScopeCase:   {Thresholds: map[string]float64{"confirmed": 0.9}},
	}

	merged, _ := resolver.ResolveWeights(profiles, StrategyAdditiveMerge)
	// Deeper scope overrides but never removes.
	assert.Equal(t, 0.9, merged.Thresholds["confirmed"])
	assert.Equal(t, 0.5, merged.Thresholds["probable"])
}
