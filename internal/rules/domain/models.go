package domain

import (
	"fmt"
	"time"

	"artifact-semantics/internal/semantic/domain/model"
)

// File formats the loader understands. The scripted form is recognized
// during discovery but not loaded; YAML and JSON cover authoring.
const (
	FormatYAML   = "yaml"
	FormatJSON   = "json"
	FormatScript = "script"
)

// ParseError describes one malformed entry or file. Parse errors never
// abort a load; the offending entry is dropped and reported.
type ParseError struct {
	Path    string `json:"path"`
	Entry   int    `json:"entry"`
	Message string `json:"message"`
}

func (e ParseError) String() string {
	if e.Entry >= 0 {
		return fmt.Sprintf("%s entry %d: %s", e.Path, e.Entry, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParsedFile is the outcome of parsing one rule file: converted mappings,
// compound rules and weight profiles, plus whatever was skipped.
type ParsedFile struct {
	Rules    []model.Rule
	Weights  []model.WeightProfile
	Skipped  []ParseError
	Mappings int
}

// LoadReport summarizes one load or reload across all scopes.
type LoadReport struct {
	Sources     []model.SourceDescriptor `json:"sources"`
	RulesLoaded int                      `json:"rules_loaded"`
	Mappings    int                      `json:"mappings_converted"`
	Skipped     []ParseError             `json:"skipped,omitempty"`
	Conflicts   []model.Conflict         `json:"conflicts,omitempty"`
	DecisionLog []string                 `json:"decision_log,omitempty"`
	Duration    time.Duration            `json:"duration"`
	LoadedAt    time.Time                `json:"loaded_at"`
}

// CoverageStats describes what the active rule sets cover.
type CoverageStats struct {
	RulesByScope    map[model.Scope]int `json:"rules_by_scope"`
	RulesByCategory map[string]int      `json:"rules_by_category"`
	IdentityLevel   int                 `json:"identity_level"`
	RecordLevel     int                 `json:"record_level"`
	Sources         int                 `json:"sources"`
}
