package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError aggregates every problem found in a schema so callers can
// report all of them at once instead of fixing one at a time.
type ValidationError struct {
	Issues []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schema: %s", strings.Join(e.Issues, "; "))
}

// Validate checks the schema for internal consistency: name collisions,
// dangling link endpoints, missing primary keys, and malformed type specs.
// It returns a *ValidationError listing every issue, or nil.
func (s *Schema) Validate() error {
	var issues []string

	for _, name := range sortedKeys(s.ObjectTypes) {
		issues = append(issues, validateObjectType(s.ObjectTypes[name])...)
	}
	for _, name := range sortedKeys(s.LinkTypes) {
		issues = append(issues, s.validateLinkType(s.LinkTypes[name])...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateObjectType(o *ObjectType) []string {
	var issues []string

	if o.Name == "" {
		issues = append(issues, "object type with empty name")
		return issues
	}
	if len(o.Properties) == 0 {
		issues = append(issues, fmt.Sprintf("object type %s has no properties", o.Name))
	}

	seen := make(map[string]bool, len(o.Properties))
	for _, p := range o.Properties {
		if p.Name == "" {
			issues = append(issues, fmt.Sprintf("object type %s has a property with empty name", o.Name))
			continue
		}
		if seen[p.Name] {
			issues = append(issues, fmt.Sprintf("object type %s declares property %s twice", o.Name, p.Name))
		}
		seen[p.Name] = true
		issues = append(issues, validateProperty(o.Name, p)...)
	}

	if o.PrimaryKey == "" {
		issues = append(issues, fmt.Sprintf("object type %s has no primary key", o.Name))
	} else if !seen[o.PrimaryKey] {
		issues = append(issues, fmt.Sprintf("object type %s primary key %s is not a property", o.Name, o.PrimaryKey))
	}

	return issues
}

func validateProperty(owner string, p *Property) []string {
	var issues []string
	ref := fmt.Sprintf("%s.%s", owner, p.Name)

	if p.Type == nil {
		issues = append(issues, fmt.Sprintf("property %s has no type", ref))
		return issues
	}
	issues = append(issues, validateTypeSpec(ref, p.Type)...)

	if len(p.AllowedValues) > 0 {
		switch p.Type.Base {
		case TypeString, TypeText:
		default:
			issues = append(issues, fmt.Sprintf("property %s has allowed values but is not a string type", ref))
		}
	}

	min, hasMin := p.Constraint(ConstraintMin)
	max, hasMax := p.Constraint(ConstraintMax)
	if hasMin && hasMax {
		minF, minOK := toFloat(min.Value)
		maxF, maxOK := toFloat(max.Value)
		if minOK && maxOK && minF > maxF {
			issues = append(issues, fmt.Sprintf("property %s min %v exceeds max %v", ref, min.Value, max.Value))
		}
	}
	for _, c := range p.Constraints {
		switch c.Kind {
		case ConstraintMin, ConstraintMax:
			if _, ok := toFloat(c.Value); !ok {
				issues = append(issues, fmt.Sprintf("property %s %s constraint is not numeric", ref, c.Kind))
			}
		case ConstraintUnique, ConstraintIndexed:
			if _, ok := c.Value.(bool); !ok {
				issues = append(issues, fmt.Sprintf("property %s %s constraint is not boolean", ref, c.Kind))
			}
		case ConstraintPattern:
			if _, ok := c.Value.(string); !ok {
				issues = append(issues, fmt.Sprintf("property %s pattern constraint is not a string", ref))
			}
		}
	}

	return issues
}

func validateTypeSpec(ref string, t *TypeSpec) []string {
	var issues []string

	switch t.Base {
	case TypeArray:
		if t.Element == nil {
			issues = append(issues, fmt.Sprintf("property %s is an array without an element type", ref))
		} else {
			issues = append(issues, validateTypeSpec(ref+"[]", t.Element)...)
		}
	case TypeDecimal:
		if t.Precision != nil && t.Scale != nil && *t.Scale > *t.Precision {
			issues = append(issues, fmt.Sprintf("property %s decimal scale %d exceeds precision %d", ref, *t.Scale, *t.Precision))
		}
	}
	if t.Length != nil && *t.Length <= 0 {
		issues = append(issues, fmt.Sprintf("property %s has non-positive length %d", ref, *t.Length))
	}

	return issues
}

func (s *Schema) validateLinkType(l *LinkType) []string {
	var issues []string

	if l.Name == "" {
		issues = append(issues, "link type with empty name")
		return issues
	}
	if _, ok := s.ObjectTypes[l.Source]; !ok {
		issues = append(issues, fmt.Sprintf("link type %s references unknown source %s", l.Name, l.Source))
	}
	if _, ok := s.ObjectTypes[l.Target]; !ok {
		issues = append(issues, fmt.Sprintf("link type %s references unknown target %s", l.Name, l.Target))
	}

	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
