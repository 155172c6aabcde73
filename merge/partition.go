package merge

import (
	"sort"

	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/schema"
)

// mergePlan is the partition of two diffs against a common base. apply holds
// source changes the target never contested, candidates the paths both sides
// touched with different outcomes. The reorder maps record which object
// types each side reordered, which picks the spine for the order merge.
type mergePlan struct {
	apply      []diff.FieldChange
	candidates []resolve.Candidate
	srcReorder map[string]bool
	tgtReorder map[string]bool
}

// partition splits the source diff into changes that apply cleanly and
// conflict candidates. An entity removed on one side and touched in any way
// on the other is a single entity-level candidate; its member changes are
// suppressed so one contest produces one record. Everything else pairs by
// path: a path only the source changed applies as-is, identical outcomes
// apply once, and differing outcomes become field-level candidates.
func partition(ds, dt []diff.FieldChange, srcS, tgtS *schema.Schema) mergePlan {
	plan := mergePlan{
		srcReorder: make(map[string]bool),
		tgtReorder: make(map[string]bool),
	}

	dtByPath := make(map[string]diff.FieldChange, len(dt))
	for _, tc := range dt {
		dtByPath[tc.Path()] = tc
	}

	srcRemoved, srcEntity, srcTouched := indexSide(ds)
	tgtRemoved, tgtEntity, tgtTouched := indexSide(dt)

	// Entity-level contests: removed on one side, touched on the other.
	// Identical removes are not contests; the path loop applies them once.
	conflicted := make(map[string]bool)
	for key, sc := range srcRemoved {
		if _, ok := tgtRemoved[key]; ok {
			continue
		}
		if !tgtTouched[key] {
			continue
		}
		kind := diff.Modify
		if tc, ok := tgtEntity[key]; ok {
			kind = tc.Kind
		}
		conflicted[key] = true
		plan.candidates = append(plan.candidates, resolve.Candidate{
			Entity:     sc.Entity,
			Base:       sc.From,
			Source:     nil,
			Target:     entityValue(tgtS, sc.Entity),
			SourceKind: diff.Remove,
			TargetKind: kind,
		})
	}
	for key, tc := range tgtRemoved {
		if _, ok := srcRemoved[key]; ok {
			continue
		}
		if !srcTouched[key] {
			continue
		}
		kind := diff.Modify
		if sc, ok := srcEntity[key]; ok {
			kind = sc.Kind
		}
		conflicted[key] = true
		plan.candidates = append(plan.candidates, resolve.Candidate{
			Entity:     tc.Entity,
			Base:       tc.From,
			Source:     entityValue(srcS, tc.Entity),
			Target:     nil,
			SourceKind: kind,
			TargetKind: diff.Remove,
		})
	}

	for _, sc := range ds {
		if conflicted[sc.Entity.Key()] {
			continue
		}
		if parent, ok := sc.Entity.ParentRef(); ok && conflicted[parent.Key()] {
			continue
		}
		tc, ok := dtByPath[sc.Path()]
		if !ok {
			plan.apply = append(plan.apply, sc)
			continue
		}
		if diff.ValuesEqual(sc.To, tc.To) {
			// Both sides made the same change; record it once.
			plan.apply = append(plan.apply, sc)
			continue
		}
		plan.candidates = append(plan.candidates, resolve.Candidate{
			Entity:     sc.Entity,
			Field:      sc.Field,
			Base:       sc.From,
			Source:     sc.To,
			Target:     tc.To,
			SourceKind: sc.Kind,
			TargetKind: tc.Kind,
		})
	}

	for _, sc := range ds {
		if sc.Field == diff.FieldPropertyOrder {
			plan.srcReorder[sc.Entity.Name] = true
		}
	}
	for _, tc := range dt {
		if tc.Field == diff.FieldPropertyOrder {
			plan.tgtReorder[tc.Entity.Name] = true
		}
	}

	sort.Slice(plan.candidates, func(i, j int) bool {
		a, b := plan.candidates[i], plan.candidates[j]
		if ak, bk := a.Entity.Key(), b.Entity.Key(); ak != bk {
			return ak < bk
		}
		return a.Field < b.Field
	})
	return plan
}

// indexSide extracts the whole-entity removes and adds of one diff plus the
// set of entity keys the side touched at all. A property change also marks
// its owning object type as touched, so removing a type contests any edit
// inside it.
func indexSide(changes []diff.FieldChange) (removed, entity map[string]diff.FieldChange, touched map[string]bool) {
	removed = make(map[string]diff.FieldChange)
	entity = make(map[string]diff.FieldChange)
	touched = make(map[string]bool)
	for _, c := range changes {
		key := c.Entity.Key()
		touched[key] = true
		if parent, ok := c.Entity.ParentRef(); ok {
			touched[parent.Key()] = true
		}
		if c.Field != "" {
			continue
		}
		entity[key] = c
		if c.Kind == diff.Remove {
			removed[key] = c
		}
	}
	return removed, entity, touched
}

// entityValue looks up the current value of an entity in a schema, returning
// an untyped nil when it is absent.
func entityValue(s *schema.Schema, ref diff.EntityRef) any {
	switch ref.Kind {
	case schema.KindObjectType:
		if ot := s.ObjectTypes[ref.Name]; ot != nil {
			return ot
		}
	case schema.KindProperty:
		if ot := s.ObjectTypes[ref.Owner]; ot != nil {
			if p := ot.Property(ref.Name); p != nil {
				return p
			}
		}
	case schema.KindLinkType:
		if lt := s.LinkTypes[ref.Name]; lt != nil {
			return lt
		}
	}
	return nil
}
