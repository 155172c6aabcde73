package merge

import (
	"fmt"
	"strings"

	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/schema"
)

// construct builds the merged schema: a clone of the target with the clean
// source changes applied, resolved conflict values written over both, and
// property orders merged last, once membership is final. Unresolved records
// that reach this point are cosmetic and keep the target value, which the
// clone already carries.
func construct(tgt, src *schema.Schema, plan mergePlan, records []resolve.Record) (*schema.Schema, error) {
	merged := tgt.Clone()

	for _, c := range plan.apply {
		if err := applyChange(merged, c); err != nil {
			return nil, err
		}
	}
	for _, rec := range records {
		if !rec.Resolved || rec.Field == diff.FieldPropertyOrder {
			continue
		}
		if err := setField(merged, rec.Entity, rec.Field, rec.Value); err != nil {
			return nil, fmt.Errorf("apply resolution %s: %w", rec.Strategy, err)
		}
	}

	mergeOrders(merged, src, tgt, plan)
	return merged, nil
}

func applyChange(s *schema.Schema, c diff.FieldChange) error {
	if c.Field == "" {
		switch c.Kind {
		case diff.Add:
			return addEntity(s, c.Entity, c.To)
		case diff.Remove:
			removeEntity(s, c.Entity)
			return nil
		default:
			return fmt.Errorf("apply %s: unexpected whole-entity %s", c.Entity, c.Kind)
		}
	}
	if c.Field == diff.FieldPropertyOrder {
		// Orders merge in a dedicated pass once membership is final.
		return nil
	}
	return setField(s, c.Entity, c.Field, c.To)
}

// addEntity inserts a cloned entity. When both sides added the same entity
// the partition guarantees the copies are equal, so the one already present
// stays.
func addEntity(s *schema.Schema, ref diff.EntityRef, value any) error {
	switch ref.Kind {
	case schema.KindObjectType:
		ot, ok := value.(*schema.ObjectType)
		if !ok {
			return fmt.Errorf("add %s: unexpected value %T", ref, value)
		}
		if s.ObjectTypes[ref.Name] == nil {
			s.AddObjectType(ot.Clone())
		}
	case schema.KindProperty:
		owner := s.ObjectTypes[ref.Owner]
		if owner == nil {
			return fmt.Errorf("add %s: object type %s not present", ref, ref.Owner)
		}
		p, ok := value.(*schema.Property)
		if !ok {
			return fmt.Errorf("add %s: unexpected value %T", ref, value)
		}
		if owner.Property(ref.Name) == nil {
			owner.Properties = append(owner.Properties, p.Clone())
		}
	case schema.KindLinkType:
		lt, ok := value.(*schema.LinkType)
		if !ok {
			return fmt.Errorf("add %s: unexpected value %T", ref, value)
		}
		if s.LinkTypes[ref.Name] == nil {
			s.AddLinkType(lt.Clone())
		}
	}
	return nil
}

func removeEntity(s *schema.Schema, ref diff.EntityRef) {
	switch ref.Kind {
	case schema.KindObjectType:
		delete(s.ObjectTypes, ref.Name)
	case schema.KindProperty:
		owner := s.ObjectTypes[ref.Owner]
		if owner == nil {
			return
		}
		for i, p := range owner.Properties {
			if p.Name == ref.Name {
				owner.Properties = append(owner.Properties[:i], owner.Properties[i+1:]...)
				return
			}
		}
	case schema.KindLinkType:
		delete(s.LinkTypes, ref.Name)
	}
}

func setField(s *schema.Schema, ref diff.EntityRef, field string, value any) error {
	switch ref.Kind {
	case schema.KindObjectType:
		ot := s.ObjectTypes[ref.Name]
		if ot == nil {
			return fmt.Errorf("set %s.%s: object type not present", ref, field)
		}
		return setObjectTypeField(ot, field, value)
	case schema.KindProperty:
		owner := s.ObjectTypes[ref.Owner]
		if owner == nil {
			return fmt.Errorf("set %s.%s: object type %s not present", ref, field, ref.Owner)
		}
		p := owner.Property(ref.Name)
		if p == nil {
			return fmt.Errorf("set %s.%s: property not present", ref, field)
		}
		return setPropertyField(p, field, value)
	case schema.KindLinkType:
		lt := s.LinkTypes[ref.Name]
		if lt == nil {
			return fmt.Errorf("set %s.%s: link type not present", ref, field)
		}
		return setLinkTypeField(lt, field, value)
	}
	return fmt.Errorf("set %s.%s: unknown entity kind", ref, field)
}

func setObjectTypeField(ot *schema.ObjectType, field string, value any) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("set %s on %s: unexpected value %T", field, ot.Name, value)
	}
	switch field {
	case diff.FieldDisplayName:
		ot.DisplayName = v
	case diff.FieldDescription:
		ot.Description = v
	case diff.FieldPrimaryKey:
		ot.PrimaryKey = v
	default:
		return fmt.Errorf("set %s on %s: unknown field", field, ot.Name)
	}
	return nil
}

func setPropertyField(p *schema.Property, field string, value any) error {
	if diff.IsConstraintField(field) {
		kind, err := schema.ParseConstraintKind(strings.TrimPrefix(field, "constraint:"))
		if err != nil {
			return fmt.Errorf("set %s on %s: %w", field, p.Name, err)
		}
		if value == nil {
			p.RemoveConstraint(kind)
		} else {
			p.SetConstraint(kind, value)
		}
		return nil
	}

	switch field {
	case diff.FieldDisplayName:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, p.Name, value)
		}
		p.DisplayName = v
	case diff.FieldDescription:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, p.Name, value)
		}
		p.Description = v
	case diff.FieldType:
		v, ok := value.(*schema.TypeSpec)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, p.Name, value)
		}
		p.Type = v.Clone()
	case diff.FieldRequired:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, p.Name, value)
		}
		p.Required = v
	case diff.FieldAllowedValues:
		if value == nil {
			p.AllowedValues = nil
			return nil
		}
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, p.Name, value)
		}
		if v == nil {
			p.AllowedValues = nil
		} else {
			p.AllowedValues = append([]string(nil), v...)
		}
	default:
		return fmt.Errorf("set %s on %s: unknown field", field, p.Name)
	}
	return nil
}

func setLinkTypeField(lt *schema.LinkType, field string, value any) error {
	switch field {
	case diff.FieldDisplayName, diff.FieldDescription, diff.FieldSource, diff.FieldTarget:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, lt.Name, value)
		}
		switch field {
		case diff.FieldDisplayName:
			lt.DisplayName = v
		case diff.FieldDescription:
			lt.Description = v
		case diff.FieldSource:
			lt.Source = v
		case diff.FieldTarget:
			lt.Target = v
		}
	case diff.FieldCardinality:
		v, ok := value.(schema.Cardinality)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, lt.Name, value)
		}
		lt.Cardinality = v
	case diff.FieldOnDelete:
		v, ok := value.(schema.DeleteRule)
		if !ok {
			return fmt.Errorf("set %s on %s: unexpected value %T", field, lt.Name, value)
		}
		lt.OnDelete = v
	default:
		return fmt.Errorf("set %s on %s: unknown field", field, lt.Name)
	}
	return nil
}

// mergeOrders settles property order for object types both branches carry.
// The spine is the target's order, or the source's when only the source
// reordered. Properties the spine side never had keep their position
// relative to the other side: each goes after its nearest predecessor that
// made it into the merged order.
func mergeOrders(merged, src, tgt *schema.Schema, plan mergePlan) {
	for name, obj := range merged.ObjectTypes {
		srcObj := src.ObjectTypes[name]
		tgtObj := tgt.ObjectTypes[name]
		if srcObj == nil || tgtObj == nil {
			// Single-side types keep their own order.
			continue
		}
		spine, other := tgtObj, srcObj
		if plan.srcReorder[name] && !plan.tgtReorder[name] {
			spine, other = srcObj, tgtObj
		}
		applyOrder(obj, spine.PropertyOrder(), other.PropertyOrder())
	}
}

func applyOrder(obj *schema.ObjectType, spine, other []string) {
	final := make([]string, 0, len(obj.Properties))
	inFinal := make(map[string]bool, len(obj.Properties))
	for _, n := range spine {
		if obj.HasProperty(n) {
			final = append(final, n)
			inFinal[n] = true
		}
	}
	for _, n := range other {
		if obj.HasProperty(n) && !inFinal[n] {
			final = insertAfterPredecessor(final, n, other)
			inFinal[n] = true
		}
	}
	for _, p := range obj.Properties {
		if !inFinal[p.Name] {
			final = append(final, p.Name)
			inFinal[p.Name] = true
		}
	}

	props := make([]*schema.Property, 0, len(final))
	for _, n := range final {
		props = append(props, obj.Property(n))
	}
	obj.Properties = props
}

// insertAfterPredecessor places name into final directly after the nearest
// name preceding it in sideOrder that is already present; names with no
// placed predecessor go first.
func insertAfterPredecessor(final []string, name string, sideOrder []string) []string {
	pos := -1
	for i, n := range sideOrder {
		if n == name {
			pos = i
			break
		}
	}
	for i := pos - 1; i >= 0; i-- {
		for j, f := range final {
			if f == sideOrder[i] {
				out := make([]string, 0, len(final)+1)
				out = append(out, final[:j+1]...)
				out = append(out, name)
				out = append(out, final[j+1:]...)
				return out
			}
		}
	}
	return append([]string{name}, final...)
}
