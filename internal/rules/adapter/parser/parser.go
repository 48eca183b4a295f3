package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"artifact-semantics/internal/rules/domain"
	"artifact-semantics/internal/semantic/domain/model"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk schema shared by the YAML and JSON forms.
type ruleFile struct {
	Settings fileSettings          `yaml:"settings" json:"settings"`
	Mappings []model.Mapping       `yaml:"mappings" json:"mappings"`
	Rules    []model.Rule          `yaml:"rules" json:"rules"`
	Weights  []model.WeightProfile `yaml:"weights" json:"weights"`
}

type fileSettings struct {
	InheritGlobal  *bool `yaml:"inherit_global" json:"inherit_global"`
	OverrideGlobal *bool `yaml:"override_global" json:"override_global"`
}

// FileParser parses YAML and JSON rule files into validated rules. One bad
// entry never poisons its file, and one bad file never poisons the batch.
type FileParser struct {
	log *zap.Logger
}

// NewFileParser creates a parser.
func NewFileParser(log *zap.Logger) *FileParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileParser{log: log}
}

// Parse converts one rule file. Malformed entries are dropped and reported
// in the result; the returned ParsedFile is never nil.
func (p *FileParser) Parse(src model.SourceDescriptor, content []byte) *domain.ParsedFile {
	out := &domain.ParsedFile{}

	var file ruleFile
	var err error
	switch src.Format {
	case domain.FormatJSON:
		err = json.Unmarshal(content, &file)
	case domain.FormatYAML:
		err = yaml.Unmarshal(content, &file)
	default:
		out.Skipped = append(out.Skipped, domain.ParseError{
			Path: src.Path, Entry: -1,
			Message: fmt.Sprintf("unsupported format %q", src.Format),
		})
		return out
	}
	if err != nil {
		p.log.Warn("rule file unparseable",
			zap.String("path", src.Path),
			zap.Error(err))
		out.Skipped = append(out.Skipped, domain.ParseError{
			Path: src.Path, Entry: -1, Message: err.Error(),
		})
		return out
	}

	// Contradictory inheritance flags invalidate the whole file; guessing
	// the intended semantics would be worse than rejecting.
	if file.Settings.InheritGlobal != nil && file.Settings.OverrideGlobal != nil &&
		*file.Settings.InheritGlobal && *file.Settings.OverrideGlobal {
		out.Skipped = append(out.Skipped, domain.ParseError{
			Path: src.Path, Entry: -1,
			Message: "settings declare both inherit_global and override_global",
		})
		return out
	}

	for i, mapping := range file.Mappings {
		rule, err := mapping.ToRule(src.Scope)
		if err != nil {
			out.Skipped = append(out.Skipped, domain.ParseError{
				Path: src.Path, Entry: i, Message: err.Error(),
			})
			continue
		}
		out.Rules = append(out.Rules, rule)
		out.Mappings++
	}

	for i, rule := range file.Rules {
		normalizeRule(&rule, src.Scope)
		if err := rule.Validate(); err != nil {
			out.Skipped = append(out.Skipped, domain.ParseError{
				Path: src.Path, Entry: i, Message: err.Error(),
			})
			continue
		}
		out.Rules = append(out.Rules, rule)
	}

	for _, w := range file.Weights {
		if len(w.Thresholds) == 0 {
			continue
		}
		w.Scope = src.Scope
		out.Weights = append(out.Weights, w)
	}

	return out
}

// normalizeRule fills authoring shorthand before validation: lower-case
// logic operators, omitted severity and confidence, and the file's scope.
func normalizeRule(r *model.Rule, scope model.Scope) {
	r.Scope = scope
	r.LogicOperator = model.LogicOperator(strings.ToUpper(string(r.LogicOperator)))
	if r.LogicOperator == "" {
		r.LogicOperator = model.LogicAnd
	}
	if r.Severity == "" {
		r.Severity = model.SeverityInfo
	}
	if r.Confidence == 0 {
		r.Confidence = 1
	}
	if r.Name == "" {
		r.Name = r.RuleID
	}
}
