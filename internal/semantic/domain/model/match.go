package model

import "sort"

// SemanticMatch is the evaluation output for one matched rule
type SemanticMatch struct {
	RuleID        string        `json:"rule_id"`
	RuleName      string        `json:"rule_name"`
	SemanticValue string        `json:"semantic_value"`
	LogicOperator LogicOperator `json:"logic_operator"`
	Category      string        `json:"category,omitempty"`
	Severity      Severity      `json:"severity"`
	Confidence    float64       `json:"confidence"`
	Scope         Scope         `json:"scope"`

	// MatchedStores lists the store identifiers that contributed evidence.
	// Order carries no meaning; the slice is kept sorted for determinism.
	MatchedStores []string `json:"matched_stores"`

	// Conditions carries the rule's conditions in human-readable audit form.
	Conditions []string `json:"conditions"`
}

// AddStores unions more contributing stores into the match.
func (m *SemanticMatch) AddStores(storeIDs ...string) {
	seen := make(map[string]struct{}, len(m.MatchedStores)+len(storeIDs))
	for _, s := range m.MatchedStores {
		seen[s] = struct{}{}
	}
	for _, s := range storeIDs {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			m.MatchedStores = append(m.MatchedStores, s)
		}
	}
	sort.Strings(m.MatchedStores)
}

// NewMatch builds a SemanticMatch from a rule and its contributing stores.
func NewMatch(r *Rule, storeIDs []string) SemanticMatch {
	m := SemanticMatch{
		RuleID:        r.RuleID,
		RuleName:      r.Name,
		SemanticValue: r.SemanticValue,
		LogicOperator: r.LogicOperator,
		Category:      r.Category,
		Severity:      r.Severity,
		Confidence:    r.Confidence,
		Scope:         r.Scope,
		Conditions:    r.ConditionStrings(),
	}
	m.AddStores(storeIDs...)
	return m
}

// Statistics aggregates counters across evaluations
type Statistics struct {
	RulesEvaluated        int64 `json:"rules_evaluated"`
	RulesMatched          int64 `json:"rules_matched"`
	IdentitiesEvaluated   int64 `json:"identities_evaluated"`
	IdentitiesWithMatches int64 `json:"identities_with_matches"`
	Fallbacks             int64 `json:"fallbacks"`
	StoresSkipped         int64 `json:"stores_skipped"`

	// MatchesByScope counts matches per rule scope.
	MatchesByScope map[Scope]int64 `json:"matches_by_scope"`

	// Cancelled is set when the evaluation was cut short cooperatively.
	Cancelled bool `json:"cancelled,omitempty"`
}

// EvaluationResult is the full output of one identity evaluation
type EvaluationResult struct {
	Matches     []SemanticMatch `json:"matches"`
	Stats       Statistics      `json:"stats"`
	DecisionLog []string        `json:"decision_log"`
}
