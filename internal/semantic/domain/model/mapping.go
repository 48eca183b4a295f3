package model

import (
	"errors"
	"fmt"
)

// Mapping is the one-condition authoring form: a technical value (or regex
// pattern) in one store's field maps directly to a semantic value. Mappings
// are converted to rules at load time; the evaluator only ever sees rules.
type Mapping struct {
	Source string `json:"source" yaml:"source"`
	Field  string `json:"field" yaml:"field"`

	// TechnicalValue matches by equality; Pattern matches by regex. Exactly
	// one of the two must be set.
	TechnicalValue string `json:"technical_value,omitempty" yaml:"technical_value,omitempty"`
	Pattern        string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	SemanticValue string   `json:"semantic_value" yaml:"semantic_value"`
	ArtifactType  string   `json:"artifact_type,omitempty" yaml:"artifact_type,omitempty"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
	Severity      Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Confidence    float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	// Conditions optionally narrows the mapping; all must hold in addition
	// to the primary match.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Mapping validation errors
var (
	ErrMappingSource   = errors.New("mapping source must not be empty")
	ErrMappingField    = errors.New("mapping field must not be empty")
	ErrMappingValue    = errors.New("mapping needs exactly one of technical_value or pattern")
	ErrMappingSemantic = errors.New("mapping semantic_value must not be empty")
)

// Validate checks the mapping before conversion.
func (m Mapping) Validate() error {
	if m.Source == "" {
		return ErrMappingSource
	}
	if m.Field == "" {
		return ErrMappingField
	}
	if (m.TechnicalValue == "") == (m.Pattern == "") {
		return ErrMappingValue
	}
	if m.SemanticValue == "" {
		return ErrMappingSemantic
	}
	return nil
}

// ToRule converts the mapping into its rule form. The rule identifier is
// derived from the mapping key so it stays stable across reloads.
func (m Mapping) ToRule(scope Scope) (Rule, error) {
	if err := m.Validate(); err != nil {
		return Rule{}, err
	}

	primary := Condition{
		StoreID:   m.Source,
		FieldName: m.Field,
	}
	keyValue := m.TechnicalValue
	if m.Pattern != "" {
		primary.Operator = OperatorRegex
		primary.Value = m.Pattern
		keyValue = m.Pattern
	} else {
		primary.Operator = OperatorEquals
		primary.Value = m.TechnicalValue
	}

	conditions := append([]Condition{primary}, m.Conditions...)

	severity := m.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	confidence := m.Confidence
	if confidence == 0 {
		confidence = 1
	}

	r := Rule{
		RuleID:        fmt.Sprintf("mapping:%s:%s:%s", m.Source, m.Field, keyValue),
		Name:          m.SemanticValue,
		Category:      m.Category,
		Severity:      severity,
		Confidence:    confidence,
		Conditions:    conditions,
		LogicOperator: LogicAnd,
		SemanticValue: m.SemanticValue,
		ArtifactType:  m.ArtifactType,
		Scope:         scope,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}
