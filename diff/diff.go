// Package diff computes the three-way merge vocabulary: field-level changes
// between a base schema and one derived side. Two diffs against a common
// base, keyed by (entity, field), are what the merge engine partitions into
// cleanly-applicable changes and conflict candidates.
package diff

import (
	"fmt"
	"strings"

	"github.com/trellis-data/trellis/schema"
)

// Field names as they appear in FieldChange.Field and conflict records.
// Constraint fields are prefixed, e.g. "constraint:unique".
const (
	FieldDisplayName   = "display_name"
	FieldDescription   = "description"
	FieldPrimaryKey    = "primary_key"
	FieldType          = "type"
	FieldRequired      = "required"
	FieldAllowedValues = "allowed_values"
	FieldSource        = "source"
	FieldTarget        = "target"
	FieldCardinality   = "cardinality"
	FieldOnDelete      = "on_delete"
	FieldPropertyOrder = "property_order"

	constraintPrefix = "constraint:"
)

// ConstraintField returns the field name for a constraint kind.
func ConstraintField(kind schema.ConstraintKind) string {
	return constraintPrefix + kind.String()
}

// IsConstraintField reports whether the field names a constraint.
func IsConstraintField(field string) bool {
	return strings.HasPrefix(field, constraintPrefix)
}

// EntityRef identifies one schema entity. Properties carry their object
// type in Owner; object types and link types leave it empty.
type EntityRef struct {
	Kind  schema.EntityKind
	Owner string
	Name  string
}

// ObjectTypeRef returns the ref for an object type.
func ObjectTypeRef(name string) EntityRef {
	return EntityRef{Kind: schema.KindObjectType, Name: name}
}

// PropertyRef returns the ref for a property of an object type.
func PropertyRef(owner, name string) EntityRef {
	return EntityRef{Kind: schema.KindProperty, Owner: owner, Name: name}
}

// LinkTypeRef returns the ref for a link type.
func LinkTypeRef(name string) EntityRef {
	return EntityRef{Kind: schema.KindLinkType, Name: name}
}

// ParentRef returns the enclosing entity: the object type for a property.
// Object types and link types have no parent.
func (r EntityRef) ParentRef() (EntityRef, bool) {
	if r.Kind == schema.KindProperty && r.Owner != "" {
		return ObjectTypeRef(r.Owner), true
	}
	return EntityRef{}, false
}

// Key returns a stable string identity, e.g. "property/User.email". Keys
// order changes deterministically and serve as map keys in the merge
// partition.
func (r EntityRef) Key() string {
	if r.Owner != "" {
		return fmt.Sprintf("%s/%s.%s", r.Kind, r.Owner, r.Name)
	}
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

// String returns the entity key.
func (r EntityRef) String() string {
	return r.Key()
}

// ChangeKind classifies what happened to an entity or field.
type ChangeKind int

const (
	Add ChangeKind = iota
	Remove
	Modify
	Reorder
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Modify:
		return "modify"
	case Reorder:
		return "reorder"
	default:
		return "unknown"
	}
}

// FieldChange is one semantic change between base and a derived side.
// Field is empty for whole-entity adds and removes; From holds the base
// value and To the side value (nil on the missing side of adds/removes).
// Property order changes use Field "property_order" with []string orders
// restricted to the property names both versions share.
type FieldChange struct {
	Entity EntityRef
	Field  string
	Kind   ChangeKind
	From   any
	To     any
}

// Path returns the partition key for the change: entity key plus field.
func (c FieldChange) Path() string {
	return c.Entity.Key() + "#" + c.Field
}

// String returns a short human-readable form for logs.
func (c FieldChange) String() string {
	if c.Field == "" {
		return fmt.Sprintf("%s %s", c.Kind, c.Entity)
	}
	return fmt.Sprintf("%s %s.%s", c.Kind, c.Entity, c.Field)
}

// ValuesEqual compares two change values structurally. It understands the
// types Compute places in From/To; everything else falls back to the
// numeric-coercing comparison used for constraint values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case *schema.TypeSpec:
		bv, ok := b.(*schema.TypeSpec)
		return ok && av.Equal(bv)
	case *schema.ObjectType:
		bv, ok := b.(*schema.ObjectType)
		return ok && av.Equal(bv)
	case *schema.Property:
		bv, ok := b.(*schema.Property)
		return ok && av.Equal(bv)
	case *schema.LinkType:
		bv, ok := b.(*schema.LinkType)
		return ok && av.Equal(bv)
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return schema.ValueEqual(a, b)
	}
}
