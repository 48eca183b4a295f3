package model

import (
	"fmt"
	"time"
)

// SourceDescriptor identifies one rule file discovered on disk (or bundled
// with the binary) together with its precedence.
type SourceDescriptor struct {
	Path     string `json:"path"`
	Scope    Scope  `json:"scope"`
	Format   string `json:"format"`
	Priority int    `json:"priority"`
}

// RuleSet is the authoritative rule collection for one scope, tagged with
// its provenance. The loader owns it; everything downstream borrows.
type RuleSet struct {
	Scope    Scope              `json:"scope"`
	Rules    []Rule             `json:"rules"`
	Weights  []WeightProfile    `json:"weights,omitempty"`
	Sources  []SourceDescriptor `json:"sources"`
	LoadedAt time.Time          `json:"loaded_at"`
}

// Conflict records two or more rules that map the same technical key to
// different semantic values.
type Conflict struct {
	StoreID        string   `json:"store_id"`
	FieldName      string   `json:"field_name"`
	TechnicalValue string   `json:"technical_value"`
	SemanticValues []string `json:"semantic_values"`
	RuleIDs        []string `json:"rule_ids"`

	// WinningRuleID names the rule precedence selected, when resolved.
	WinningRuleID string `json:"winning_rule_id,omitempty"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("conflict on (%s, %s, %s): %v", c.StoreID, c.FieldName, c.TechnicalValue, c.SemanticValues)
}

// ConflictKey extracts the identifying tuple used for conflict detection.
// Only rules whose primary shape is a single-store equality test carry a
// key; compound rules cannot conflict by value.
func ConflictKey(r *Rule) (storeID, fieldName, technicalValue string, ok bool) {
	var equals []Condition
	for _, c := range r.Conditions {
		if c.Operator == OperatorEquals {
			equals = append(equals, c)
		}
	}
	if len(equals) != 1 {
		return "", "", "", false
	}
	return equals[0].StoreID, equals[0].FieldName, ValueString(equals[0].Value), true
}

// EffectiveRules is the deduplicated, priority-ordered rule list for one
// execution context. It is immutable once produced; Handle changes whenever
// the underlying content changes, so holders can compare snapshots.
type EffectiveRules struct {
	Rules       []Rule    `json:"rules"`
	Handle      string    `json:"handle"`
	ResolvedAt  time.Time `json:"resolved_at"`
	DecisionLog []string  `json:"decision_log"`
}
