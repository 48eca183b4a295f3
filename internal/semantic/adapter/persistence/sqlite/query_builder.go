package sqlite

import (
	"fmt"
	"strings"

	"artifact-semantics/internal/semantic/domain/model"
	sharederrors "artifact-semantics/internal/shared/errors"
)

// QueryBuilder translates a compound semantic rule into a single
// parameterized SELECT against a store's record table. Rules it cannot
// express are rejected with ErrUntranslatable, which sends the rule to the
// in-memory path instead of failing the evaluation.
//
// Every condition value is bound positionally; no value ever reaches the SQL
// text. The builder only inspects values to type-check them.
type QueryBuilder struct {
	table string
}

// NewQueryBuilder builds queries against the conventional record table.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{table: model.RecordTable}
}

// NewQueryBuilderForTable overrides the record table name, for stores that
// materialize under a different convention.
func NewQueryBuilderForTable(table string) *QueryBuilder {
	return &QueryBuilder{table: table}
}

// sqlOperators maps condition operators to their SQL comparison fragments.
// contains and wildcard are handled specially.
var sqlOperators = map[model.Operator]string{
	model.OperatorEquals:       "=",
	model.OperatorNotEquals:    "!=",
	model.OperatorContains:     "LIKE",
	model.OperatorRegex:        "REGEXP",
	model.OperatorGreaterThan:  ">",
	model.OperatorLessThan:     "<",
	model.OperatorGreaterEqual: ">=",
	model.OperatorLessEqual:    "<=",
}

// BuildRuleQuery returns the SQL text and positional parameters for a rule,
// or an error wrapping ErrUntranslatable with the rejection reason. The
// query asks for row existence only; matches are set-valued, rows are never
// returned to the caller.
func (b *QueryBuilder) BuildRuleQuery(rule *model.Rule) (string, []interface{}, error) {
	if len(rule.Conditions) == 0 {
		return "", nil, sharederrors.Untranslatable(rule.RuleID, "rule has no conditions")
	}
	if len(rule.Conditions) > model.MaxConditions {
		return "", nil, sharederrors.Untranslatable(rule.RuleID,
			fmt.Sprintf("rule has %d conditions (max %d)", len(rule.Conditions), model.MaxConditions))
	}
	if rule.LogicOperator != model.LogicAnd && rule.LogicOperator != model.LogicOr {
		return "", nil, sharederrors.Untranslatable(rule.RuleID,
			fmt.Sprintf("unsupported logic operator %q", string(rule.LogicOperator)))
	}

	clauses := make([]string, 0, len(rule.Conditions))
	params := make([]interface{}, 0, len(rule.Conditions))

	for _, cond := range rule.Conditions {
		clause, param, hasParam, err := b.translateCondition(rule.RuleID, cond)
		if err != nil {
			return "", nil, err
		}
		// Each clause is parenthesized so AND/OR precedence never leaks.
		clauses = append(clauses, "("+clause+")")
		if hasParam {
			params = append(params, param)
		}
	}

	where := strings.Join(clauses, " "+string(rule.LogicOperator)+" ")
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", b.table, where)
	return query, params, nil
}

// translateCondition converts one condition into a WHERE fragment. The field
// name is validated against the identifier charset and quoted; the value is
// returned as a bind parameter, never inlined.
func (b *QueryBuilder) translateCondition(ruleID string, cond model.Condition) (string, interface{}, bool, error) {
	if err := validFieldName(cond.FieldName); err != nil {
		return "", nil, false, sharederrors.Untranslatable(ruleID, err.Error())
	}
	field := quoteIdentifier(cond.FieldName)

	if cond.Operator == model.OperatorWildcard {
		// Present and non-empty; no parameter bound.
		return fmt.Sprintf("%s IS NOT NULL AND %s != ''", field, field), nil, false, nil
	}

	sqlOp, ok := sqlOperators[cond.Operator]
	if !ok {
		return "", nil, false, sharederrors.Untranslatable(ruleID,
			fmt.Sprintf("unsupported operator %q on field %q", string(cond.Operator), cond.FieldName))
	}

	if cond.Value == nil {
		return "", nil, false, sharederrors.Untranslatable(ruleID,
			fmt.Sprintf("operator %q on field %q requires a value", string(cond.Operator), cond.FieldName))
	}
	param, err := bindableValue(cond.Value)
	if err != nil {
		return "", nil, false, sharederrors.Untranslatable(ruleID,
			fmt.Sprintf("field %q: %v", cond.FieldName, err))
	}

	if cond.Operator == model.OperatorContains {
		// Substring match; the %% wrapping happens in the parameter, so a
		// literal % inside the value stays literal for equality elsewhere.
		param = "%" + model.ValueString(param) + "%"
	}

	return fmt.Sprintf("%s %s ?", field, sqlOp), param, true, nil
}

// CanTranslate is the cheap pre-check mirroring BuildRuleQuery's rejections.
func (b *QueryBuilder) CanTranslate(rule *model.Rule) bool {
	if len(rule.Conditions) == 0 || len(rule.Conditions) > model.MaxConditions {
		return false
	}
	if rule.LogicOperator != model.LogicAnd && rule.LogicOperator != model.LogicOr {
		return false
	}
	for _, cond := range rule.Conditions {
		if validFieldName(cond.FieldName) != nil {
			return false
		}
		if cond.Operator == model.OperatorWildcard {
			continue
		}
		if _, ok := sqlOperators[cond.Operator]; !ok {
			return false
		}
		if cond.Value == nil {
			return false
		}
		if _, err := bindableValue(cond.Value); err != nil {
			return false
		}
	}
	return true
}

// validFieldName enforces the identifier rules: charset [A-Za-z0-9_.], no
// parentheses, at most one dot. A single dot is a literal column name.
func validFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name")
	}
	dots := 0
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case r == '.':
			dots++
		default:
			return fmt.Errorf("field name %q contains invalid character %q", name, string(r))
		}
	}
	if dots > 1 {
		return fmt.Errorf("field name %q has more than one dot", name)
	}
	return nil
}

// quoteIdentifier double-quotes a validated identifier so dotted column
// names resolve as literal columns rather than table references.
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

// bindableValue narrows a condition value to the driver-supported kinds.
func bindableValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string, int, int64, float64, bool:
		return t, nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
