package diff

import (
	"sort"

	"github.com/trellis-data/trellis/schema"
)

// constraintKinds is every constraint a property can carry, in diff order.
var constraintKinds = []schema.ConstraintKind{
	schema.ConstraintUnique,
	schema.ConstraintIndexed,
	schema.ConstraintMin,
	schema.ConstraintMax,
	schema.ConstraintPattern,
}

// Compute returns every semantic change from base to side. Added and
// removed entities yield a single whole-entity change; surviving entities
// yield one change per differing field. Output is sorted by entity key,
// then field, so identical inputs always produce identical output.
func Compute(base, side *schema.Schema) []FieldChange {
	var changes []FieldChange

	baseObjs := sortedNames(base.ObjectTypes)
	sideObjs := sortedNames(side.ObjectTypes)

	for _, name := range setDifference(sideObjs, baseObjs) {
		changes = append(changes, FieldChange{
			Entity: ObjectTypeRef(name),
			Kind:   Add,
			To:     side.ObjectTypes[name],
		})
	}
	for _, name := range setDifference(baseObjs, sideObjs) {
		changes = append(changes, FieldChange{
			Entity: ObjectTypeRef(name),
			Kind:   Remove,
			From:   base.ObjectTypes[name],
		})
	}
	for _, name := range setIntersection(baseObjs, sideObjs) {
		changes = append(changes, diffObjectType(base.ObjectTypes[name], side.ObjectTypes[name])...)
	}

	baseLinks := sortedNames(base.LinkTypes)
	sideLinks := sortedNames(side.LinkTypes)

	for _, name := range setDifference(sideLinks, baseLinks) {
		changes = append(changes, FieldChange{
			Entity: LinkTypeRef(name),
			Kind:   Add,
			To:     side.LinkTypes[name],
		})
	}
	for _, name := range setDifference(baseLinks, sideLinks) {
		changes = append(changes, FieldChange{
			Entity: LinkTypeRef(name),
			Kind:   Remove,
			From:   base.LinkTypes[name],
		})
	}
	for _, name := range setIntersection(baseLinks, sideLinks) {
		changes = append(changes, diffLinkType(base.LinkTypes[name], side.LinkTypes[name])...)
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Entity.Key() != changes[j].Entity.Key() {
			return changes[i].Entity.Key() < changes[j].Entity.Key()
		}
		return changes[i].Field < changes[j].Field
	})
	return changes
}

func diffObjectType(base, side *schema.ObjectType) []FieldChange {
	var changes []FieldChange
	ref := ObjectTypeRef(base.Name)

	changes = appendScalar(changes, ref, FieldDisplayName, base.DisplayName, side.DisplayName)
	changes = appendScalar(changes, ref, FieldDescription, base.Description, side.Description)
	changes = appendScalar(changes, ref, FieldPrimaryKey, base.PrimaryKey, side.PrimaryKey)

	baseProps := base.PropertyOrder()
	sideProps := side.PropertyOrder()
	sort.Strings(baseProps)
	sort.Strings(sideProps)

	for _, name := range setDifference(sideProps, baseProps) {
		changes = append(changes, FieldChange{
			Entity: PropertyRef(base.Name, name),
			Kind:   Add,
			To:     side.Property(name),
		})
	}
	for _, name := range setDifference(baseProps, sideProps) {
		changes = append(changes, FieldChange{
			Entity: PropertyRef(base.Name, name),
			Kind:   Remove,
			From:   base.Property(name),
		})
	}
	for _, name := range setIntersection(baseProps, sideProps) {
		changes = append(changes, diffProperty(base.Name, base.Property(name), side.Property(name))...)
	}

	if change, ok := diffOrder(ref, base, side); ok {
		changes = append(changes, change)
	}
	return changes
}

// diffOrder compares property order over the names both versions share,
// aligned by longest common subsequence. Adds and removes shift positions
// without being reorders; only a relative-order change among surviving
// names counts.
func diffOrder(ref EntityRef, base, side *schema.ObjectType) (FieldChange, bool) {
	baseOrder := restrictOrder(base.PropertyOrder(), side)
	sideOrder := restrictOrder(side.PropertyOrder(), base)

	if sameOrder(baseOrder, sideOrder) {
		return FieldChange{}, false
	}
	return FieldChange{
		Entity: ref,
		Field:  FieldPropertyOrder,
		Kind:   Reorder,
		From:   baseOrder,
		To:     sideOrder,
	}, true
}

// restrictOrder filters an ordered name list down to the names the other
// version also has.
func restrictOrder(order []string, other *schema.ObjectType) []string {
	out := make([]string, 0, len(order))
	for _, name := range order {
		if other.HasProperty(name) {
			out = append(out, name)
		}
	}
	return out
}

func diffProperty(owner string, base, side *schema.Property) []FieldChange {
	var changes []FieldChange
	ref := PropertyRef(owner, base.Name)

	changes = appendScalar(changes, ref, FieldDisplayName, base.DisplayName, side.DisplayName)
	changes = appendScalar(changes, ref, FieldDescription, base.Description, side.Description)

	if !base.Type.Equal(side.Type) {
		changes = append(changes, FieldChange{
			Entity: ref,
			Field:  FieldType,
			Kind:   Modify,
			From:   base.Type,
			To:     side.Type,
		})
	}
	if base.Required != side.Required {
		changes = append(changes, FieldChange{
			Entity: ref,
			Field:  FieldRequired,
			Kind:   Modify,
			From:   base.Required,
			To:     side.Required,
		})
	}
	if !ValuesEqual(base.AllowedValues, side.AllowedValues) {
		changes = append(changes, FieldChange{
			Entity: ref,
			Field:  FieldAllowedValues,
			Kind:   Modify,
			From:   base.AllowedValues,
			To:     side.AllowedValues,
		})
	}

	// Constraints are tri-state: absent, present false, present true are
	// three different facts about a property.
	for _, kind := range constraintKinds {
		baseC, inBase := base.Constraint(kind)
		sideC, inSide := side.Constraint(kind)
		switch {
		case !inBase && inSide:
			changes = append(changes, FieldChange{
				Entity: ref,
				Field:  ConstraintField(kind),
				Kind:   Add,
				To:     sideC.Value,
			})
		case inBase && !inSide:
			changes = append(changes, FieldChange{
				Entity: ref,
				Field:  ConstraintField(kind),
				Kind:   Remove,
				From:   baseC.Value,
			})
		case inBase && inSide && !schema.ValueEqual(baseC.Value, sideC.Value):
			changes = append(changes, FieldChange{
				Entity: ref,
				Field:  ConstraintField(kind),
				Kind:   Modify,
				From:   baseC.Value,
				To:     sideC.Value,
			})
		}
	}
	return changes
}

func diffLinkType(base, side *schema.LinkType) []FieldChange {
	var changes []FieldChange
	ref := LinkTypeRef(base.Name)

	changes = appendScalar(changes, ref, FieldDisplayName, base.DisplayName, side.DisplayName)
	changes = appendScalar(changes, ref, FieldDescription, base.Description, side.Description)
	changes = appendScalar(changes, ref, FieldSource, base.Source, side.Source)
	changes = appendScalar(changes, ref, FieldTarget, base.Target, side.Target)

	if base.Cardinality != side.Cardinality {
		changes = append(changes, FieldChange{
			Entity: ref,
			Field:  FieldCardinality,
			Kind:   Modify,
			From:   base.Cardinality,
			To:     side.Cardinality,
		})
	}
	if base.OnDelete != side.OnDelete {
		changes = append(changes, FieldChange{
			Entity: ref,
			Field:  FieldOnDelete,
			Kind:   Modify,
			From:   base.OnDelete,
			To:     side.OnDelete,
		})
	}
	return changes
}

func appendScalar(changes []FieldChange, ref EntityRef, field, from, to string) []FieldChange {
	if from == to {
		return changes
	}
	return append(changes, FieldChange{
		Entity: ref,
		Field:  field,
		Kind:   Modify,
		From:   from,
		To:     to,
	})
}

// Set operations over sorted name lists.
func setDifference(a, b []string) []string {
	mb := make(map[string]bool, len(b))
	for _, x := range b {
		mb[x] = true
	}

	var out []string
	for _, x := range a {
		if !mb[x] {
			out = append(out, x)
		}
	}
	return out
}

func setIntersection(a, b []string) []string {
	mb := make(map[string]bool, len(b))
	for _, x := range b {
		mb[x] = true
	}

	var out []string
	for _, x := range a {
		if mb[x] {
			out = append(out, x)
		}
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
