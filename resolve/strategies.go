package resolve

import (
	"sort"

	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/schema"
)

// Strategy is one auto-resolution rule. Apply inspects a candidate and
// returns the merged value; false means the rule does not cover this
// particular divergence and the conflict stays unresolved. Strategies are
// plain data in a lookup table, so adding one never touches the resolver.
type Strategy struct {
	Name     string
	Severity Severity
	Apply    func(c Candidate) (any, bool)
}

// strategyKey addresses the table: what kind of entity, which field, and
// what both sides did to it.
type strategyKey struct {
	Kind   schema.EntityKind
	Field  string
	Change diff.ChangeKind
}

// Built-in strategy names, usable in policy files.
const (
	StrategyWidenType          = "widen_type"
	StrategyUnionAllowedValues = "union_allowed_values"
	StrategyRelaxMin           = "relax_min"
	StrategyRelaxMax           = "relax_max"
	StrategyWidenCardinality   = "widen_cardinality"
	StrategyKeepTargetOrder    = "keep_target_order"
)

func builtinStrategies() map[strategyKey]Strategy {
	widenType := Strategy{Name: StrategyWidenType, Severity: Warning, Apply: applyWidenType}
	union := Strategy{Name: StrategyUnionAllowedValues, Severity: Info, Apply: applyUnionAllowedValues}
	relaxMin := Strategy{Name: StrategyRelaxMin, Severity: Warning, Apply: applyRelaxMin}
	relaxMax := Strategy{Name: StrategyRelaxMax, Severity: Warning, Apply: applyRelaxMax}
	widenCard := Strategy{Name: StrategyWidenCardinality, Severity: Warning, Apply: applyWidenCardinality}
	keepOrder := Strategy{Name: StrategyKeepTargetOrder, Severity: Info, Apply: applyKeepTargetOrder}

	return map[strategyKey]Strategy{
		{schema.KindProperty, diff.FieldType, diff.Modify}:          widenType,
		{schema.KindProperty, diff.FieldAllowedValues, diff.Modify}: union,
		{schema.KindProperty, diff.FieldAllowedValues, diff.Add}:    union,
		{schema.KindProperty, diff.ConstraintField(schema.ConstraintMin), diff.Modify}: relaxMin,
		{schema.KindProperty, diff.ConstraintField(schema.ConstraintMax), diff.Modify}: relaxMax,
		{schema.KindLinkType, diff.FieldCardinality, diff.Modify}:                      widenCard,
		{schema.KindObjectType, diff.FieldPropertyOrder, diff.Reorder}:                 keepOrder,
	}
}

// knownStrategy reports whether name is a built-in, for policy validation.
func knownStrategy(name string) bool {
	switch name {
	case StrategyWidenType, StrategyUnionAllowedValues, StrategyRelaxMin,
		StrategyRelaxMax, StrategyWidenCardinality, StrategyKeepTargetOrder:
		return true
	default:
		return false
	}
}

// applyWidenType resolves a type divergence when both sides widened from
// the base and one side's type contains the other's: integer -> long ->
// double for numerics, length and precision growth for sized types. The
// merged value is the wider of the two.
func applyWidenType(c Candidate) (any, bool) {
	base, ok1 := c.Base.(*schema.TypeSpec)
	src, ok2 := c.Source.(*schema.TypeSpec)
	tgt, ok3 := c.Target.(*schema.TypeSpec)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	if !widens(base, src) || !widens(base, tgt) {
		return nil, false
	}
	if widens(src, tgt) {
		return tgt, true
	}
	if widens(tgt, src) {
		return src, true
	}
	// Both widened, but along incomparable axes.
	return nil, false
}

// widens reports whether to accepts every value from does.
func widens(from, to *schema.TypeSpec) bool {
	if from.IsNumeric() && to.IsNumeric() {
		return to.Base.NumericRank() >= from.Base.NumericRank()
	}
	if from.Base != to.Base {
		return false
	}
	switch from.Base {
	case schema.TypeString, schema.TypeText:
		return boundWidens(from.Length, to.Length)
	case schema.TypeDecimal:
		return boundWidens(from.Precision, to.Precision) && boundWidens(from.Scale, to.Scale)
	default:
		return false
	}
}

// boundWidens compares optional size bounds; nil means unbounded.
func boundWidens(from, to *int) bool {
	if to == nil {
		return true
	}
	if from == nil {
		return false
	}
	return *to >= *from
}

// applyUnionAllowedValues merges diverging enumerations into their sorted
// union. A side that dropped the list lifted the restriction entirely, and
// no restriction wins.
func applyUnionAllowedValues(c Candidate) (any, bool) {
	src, ok := stringListOrNil(c.Source)
	if !ok {
		return nil, false
	}
	tgt, ok := stringListOrNil(c.Target)
	if !ok {
		return nil, false
	}
	if src == nil || tgt == nil {
		return nil, true
	}

	seen := make(map[string]bool, len(src)+len(tgt))
	out := make([]string, 0, len(src)+len(tgt))
	for _, v := range src {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range tgt {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, true
}

// stringListOrNil unwraps a change value into a list, treating absent and
// empty as nil (unrestricted).
func stringListOrNil(v any) ([]string, bool) {
	if v == nil {
		return nil, true
	}
	list, ok := v.([]string)
	if !ok {
		return nil, false
	}
	if len(list) == 0 {
		return nil, true
	}
	return list, true
}

// applyRelaxMin resolves a min-constraint divergence when both sides moved
// it in the permissive direction (down, or dropped it). The merged value is
// the furthest from base; nil means the constraint goes away. Two sides
// adding a floor where base had none both narrowed, so that never
// auto-resolves.
func applyRelaxMin(c Candidate) (any, bool) {
	base, ok := numeric(c.Base)
	if !ok {
		return nil, false
	}
	if c.Source == nil || c.Target == nil {
		other := c.Source
		if other == nil {
			other = c.Target
		}
		if other == nil {
			return nil, true
		}
		v, ok := numeric(other)
		if !ok || v > base {
			return nil, false
		}
		return nil, true
	}

	src, ok1 := numeric(c.Source)
	tgt, ok2 := numeric(c.Target)
	if !ok1 || !ok2 || src > base || tgt > base {
		return nil, false
	}
	if src < tgt {
		return c.Source, true
	}
	return c.Target, true
}

// applyRelaxMax mirrors applyRelaxMin for the upper bound: raised or
// dropped on both sides resolves to the loosest cap.
func applyRelaxMax(c Candidate) (any, bool) {
	base, ok := numeric(c.Base)
	if !ok {
		return nil, false
	}
	if c.Source == nil || c.Target == nil {
		other := c.Source
		if other == nil {
			other = c.Target
		}
		if other == nil {
			return nil, true
		}
		v, ok := numeric(other)
		if !ok || v < base {
			return nil, false
		}
		return nil, true
	}

	src, ok1 := numeric(c.Source)
	tgt, ok2 := numeric(c.Target)
	if !ok1 || !ok2 || src < base || tgt < base {
		return nil, false
	}
	if src > tgt {
		return c.Source, true
	}
	return c.Target, true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// applyWidenCardinality resolves a cardinality divergence when both sides
// moved in the permissive direction (one_to_one -> one_to_many ->
// many_to_many). Narrowing is never automatic: it can orphan instance data.
func applyWidenCardinality(c Candidate) (any, bool) {
	base, ok1 := c.Base.(schema.Cardinality)
	src, ok2 := c.Source.(schema.Cardinality)
	tgt, ok3 := c.Target.(schema.Cardinality)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	if src.PermissiveRank() < base.PermissiveRank() || tgt.PermissiveRank() < base.PermissiveRank() {
		return nil, false
	}
	if src.PermissiveRank() >= tgt.PermissiveRank() {
		return src, true
	}
	return tgt, true
}

// applyKeepTargetOrder settles diverging property orders by keeping the
// target branch's order. Position carries no data semantics, so this is
// always safe; the source side's moves are reported, not applied.
func applyKeepTargetOrder(c Candidate) (any, bool) {
	if _, ok := c.Target.([]string); !ok {
		return nil, false
	}
	return c.Target, true
}
