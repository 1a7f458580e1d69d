package dirsync

import (
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"go.uber.org/zap"
)

// applyTransform runs one named transform over a string value. Unknown names
// pass the value through unchanged so stale rules degrade instead of failing.
func applyTransform(name, value string) string {
	switch name {
	case "lowercase":
		return strings.ToLower(value)
	case "uppercase":
		return strings.ToUpper(value)
	case "trim":
		return strings.TrimSpace(value)
	case "first_name":
		parts := strings.Split(value, " ")
		return parts[0]
	case "last_name":
		parts := strings.Split(value, " ")
		if len(parts) < 2 {
			return ""
		}
		return strings.Join(parts[1:], " ")
	default:
		return value
	}
}

// resolvePath walks a dot-separated path through nested maps. The second
// return is false when any segment is absent or a non-map intermediate is
// reached.
func resolvePath(attrs map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = attrs
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// mapper evaluates attribute mapping rules for one connection. Conditions
// are compiled once per rule; records vary per user, so the environment stays
// untyped.
type mapper struct {
	rules      []AttributeMapping
	conditions map[string]*vm.Program
	logger     *zap.Logger
}

func newMapper(rules []AttributeMapping, logger *zap.Logger) *mapper {
	m := &mapper{
		rules:      rules,
		conditions: make(map[string]*vm.Program),
		logger:     logger,
	}
	for _, rule := range rules {
		if rule.Condition == "" {
			continue
		}
		program, err := expr.Compile(rule.Condition, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			logger.Warn("Attribute mapping condition failed to compile",
				zap.String("mapping_id", rule.ID),
				zap.String("condition", rule.Condition),
				zap.Error(err))
			continue
		}
		m.conditions[rule.ID] = program
	}
	return m
}

// apply produces target column values from a raw provider record. Rules whose
// source path resolves to nothing are skipped; a failing condition skips the
// rule; a failing transform falls back to the untransformed value. Rules run
// in creation order, so a later rule writing the same target wins.
func (m *mapper) apply(attrs map[string]interface{}) map[string]interface{} {
	if len(m.rules) == 0 {
		return nil
	}

	out := make(map[string]interface{})
	for _, rule := range m.rules {
		value, ok := resolvePath(attrs, rule.SourceAttribute)
		if !ok {
			continue
		}

		if rule.Condition != "" && !m.conditionHolds(rule, attrs) {
			continue
		}

		if rule.TransformFunction != "" {
			if str, isStr := value.(string); isStr {
				value = applyTransform(rule.TransformFunction, str)
			} else {
				m.logger.Warn("Transform skipped for non-string value",
					zap.String("source", rule.SourceAttribute),
					zap.String("transform", rule.TransformFunction))
			}
		}

		out[rule.TargetAttribute] = value
	}
	return out
}

// conditionHolds evaluates the rule's expression against the raw record. An
// expression that failed to compile, errors at runtime or yields a non-bool
// skips the rule rather than failing the entity.
func (m *mapper) conditionHolds(rule AttributeMapping, attrs map[string]interface{}) bool {
	program, ok := m.conditions[rule.ID]
	if !ok {
		return false
	}

	result, err := expr.Run(program, attrs)
	if err != nil {
		m.logger.Warn("Attribute mapping condition failed to evaluate",
			zap.String("mapping_id", rule.ID),
			zap.Error(err))
		return false
	}

	holds, ok := result.(bool)
	return ok && holds
}

// knownTransforms is the set of transform names the save-time validator
// accepts.
var knownTransforms = map[string]bool{
	"lowercase":  true,
	"uppercase":  true,
	"trim":       true,
	"first_name": true,
	"last_name":  true,
}
