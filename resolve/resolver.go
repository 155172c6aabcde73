package resolve

import (
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/schema"
)

// Resolver grades conflict candidates and applies the strategy table.
type Resolver struct {
	table  map[strategyKey]Strategy
	policy *Policy
}

// NewResolver creates a resolver with the built-in strategy table. A nil
// policy applies no overrides.
func NewResolver(policy *Policy) *Resolver {
	return &Resolver{
		table:  builtinStrategies(),
		policy: policy,
	}
}

// Resolve produces the verdict for one candidate. Entity-level contests
// (removed on one side, changed on the other) are always Blocking: nothing
// can honor both intents. Field contests go through the strategy table;
// a lookup miss or inapplicable strategy leaves the record unresolved at
// the field's classified severity.
func (r *Resolver) Resolve(c Candidate) Record {
	rec := Record{
		Entity: c.Entity,
		Field:  c.Field,
		Base:   c.Base,
		Source: c.Source,
		Target: c.Target,
	}

	if c.Field == "" {
		rec.Severity = Blocking
		return rec
	}

	key := strategyKey{Kind: c.Entity.Kind, Field: c.Field, Change: effectiveKind(c)}
	if s, ok := r.table[key]; ok && !r.strategyDisabled(s.Name) {
		if v, applied := s.Apply(c); applied {
			rec.Resolved = true
			rec.Strategy = s.Name
			rec.Value = v
			rec.Severity = r.severityFor(c.Field, s.Severity)
			return rec
		}
	}

	rec.Severity = r.severityFor(c.Field, classify(c.Field))
	if rec.Severity <= Warning {
		// Cosmetic divergence does not stop a merge; keep the target side.
		rec.Value = c.Target
	}
	return rec
}

// effectiveKind normalizes the pair of change kinds for table lookup.
// Mixed pairs (remove on one side, modify on the other) behave like a
// modify: there is a base value and two different outcomes.
func effectiveKind(c Candidate) diff.ChangeKind {
	if c.SourceKind == c.TargetKind {
		return c.SourceKind
	}
	return diff.Modify
}

func (r *Resolver) strategyDisabled(name string) bool {
	return r.policy != nil && r.policy.Disabled[name]
}

func (r *Resolver) severityFor(field string, fallback Severity) Severity {
	if r.policy != nil {
		if sev, ok := r.policy.Severities[field]; ok {
			return sev
		}
	}
	return fallback
}

// classify grades an unresolved field contest by what the field touches.
// Fields that change what instance data is valid are errors; labels and
// positions are not.
func classify(field string) Severity {
	switch field {
	case diff.FieldPrimaryKey:
		return Blocking
	case diff.FieldDisplayName:
		return Warning
	case diff.FieldDescription:
		return Info
	case diff.FieldPropertyOrder:
		return Info
	case diff.ConstraintField(schema.ConstraintIndexed):
		return Warning
	default:
		// type, required, allowed_values, cardinality, link endpoints,
		// on_delete, remaining constraints: all data compatibility.
		return Error
	}
}
