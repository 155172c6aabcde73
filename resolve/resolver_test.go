package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/schema"
)

func intPtr(v int) *int { return &v }

func typeCandidate(base, source, target *schema.TypeSpec) Candidate {
	return Candidate{
		Entity:     diff.PropertyRef("User", "age"),
		Field:      diff.FieldType,
		Base:       base,
		Source:     source,
		Target:     target,
		SourceKind: diff.Modify,
		TargetKind: diff.Modify,
	}
}

func TestWidenType(t *testing.T) {
	r := NewResolver(nil)

	t.Run("NumericBothWiden", func(t *testing.T) {
		rec := r.Resolve(typeCandidate(
			&schema.TypeSpec{Base: schema.TypeInteger},
			&schema.TypeSpec{Base: schema.TypeLong},
			&schema.TypeSpec{Base: schema.TypeDouble},
		))
		require.True(t, rec.Resolved)
		assert.Equal(t, StrategyWidenType, rec.Strategy)
		assert.Equal(t, &schema.TypeSpec{Base: schema.TypeDouble}, rec.Value)
		assert.Equal(t, Warning, rec.Severity)
		assert.False(t, rec.Blocks())
	})

	t.Run("LengthBothWiden", func(t *testing.T) {
		rec := r.Resolve(typeCandidate(
			&schema.TypeSpec{Base: schema.TypeString, Length: intPtr(50)},
			&schema.TypeSpec{Base: schema.TypeString, Length: intPtr(200)},
			&schema.TypeSpec{Base: schema.TypeString, Length: intPtr(100)},
		))
		require.True(t, rec.Resolved)
		assert.Equal(t, &schema.TypeSpec{Base: schema.TypeString, Length: intPtr(200)}, rec.Value)
	})

	t.Run("UnboundedWins", func(t *testing.T) {
		rec := r.Resolve(typeCandidate(
			&schema.TypeSpec{Base: schema.TypeString, Length: intPtr(50)},
			&schema.TypeSpec{Base: schema.TypeString},
			&schema.TypeSpec{Base: schema.TypeString, Length: intPtr(100)},
		))
		require.True(t, rec.Resolved)
		assert.Equal(t, &schema.TypeSpec{Base: schema.TypeString}, rec.Value)
	})

	t.Run("OneSideNarrowsStaysUnresolved", func(t *testing.T) {
		rec := r.Resolve(typeCandidate(
			&schema.TypeSpec{Base: schema.TypeLong},
			&schema.TypeSpec{Base: schema.TypeInteger},
			&schema.TypeSpec{Base: schema.TypeDouble},
		))
		assert.False(t, rec.Resolved)
		assert.Equal(t, Error, rec.Severity)
		assert.True(t, rec.Blocks())
	})

	t.Run("IncomparableAxesStayUnresolved", func(t *testing.T) {
		rec := r.Resolve(typeCandidate(
			&schema.TypeSpec{Base: schema.TypeInteger},
			&schema.TypeSpec{Base: schema.TypeLong},
			&schema.TypeSpec{Base: schema.TypeString},
		))
		assert.False(t, rec.Resolved)
		assert.True(t, rec.Blocks())
	})
}

func TestUnionAllowedValues(t *testing.T) {
	r := NewResolver(nil)

	t.Run("UnionSortedDeduped", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity:     diff.PropertyRef("User", "status"),
			Field:      diff.FieldAllowedValues,
			Base:       []string{"active"},
			Source:     []string{"active", "banned"},
			Target:     []string{"suspended", "active"},
			SourceKind: diff.Modify,
			TargetKind: diff.Modify,
		})
		require.True(t, rec.Resolved)
		assert.Equal(t, StrategyUnionAllowedValues, rec.Strategy)
		assert.Equal(t, []string{"active", "banned", "suspended"}, rec.Value)
		assert.Equal(t, Info, rec.Severity)
	})

	t.Run("DroppedListLiftsRestriction", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity:     diff.PropertyRef("User", "status"),
			Field:      diff.FieldAllowedValues,
			Base:       []string{"active", "banned"},
			Source:     nil,
			Target:     []string{"active", "banned", "new"},
			SourceKind: diff.Remove,
			TargetKind: diff.Modify,
		})
		require.True(t, rec.Resolved)
		assert.Nil(t, rec.Value)
	})

	t.Run("BothAddedDifferentEnums", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity:     diff.PropertyRef("User", "status"),
			Field:      diff.FieldAllowedValues,
			Base:       nil,
			Source:     []string{"a"},
			Target:     []string{"b"},
			SourceKind: diff.Add,
			TargetKind: diff.Add,
		})
		require.True(t, rec.Resolved)
		assert.Equal(t, []string{"a", "b"}, rec.Value)
	})
}

func TestRelaxMinMax(t *testing.T) {
	r := NewResolver(nil)
	minField := diff.ConstraintField(schema.ConstraintMin)
	maxField := diff.ConstraintField(schema.ConstraintMax)

	t.Run("BothLowerMin", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: minField,
			Base: 18, Source: 13, Target: 16,
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		})
		require.True(t, rec.Resolved)
		assert.Equal(t, StrategyRelaxMin, rec.Strategy)
		assert.Equal(t, 13, rec.Value)
	})

	t.Run("DroppedMinWins", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: minField,
			Base: 18, Source: nil, Target: 16,
			SourceKind: diff.Remove, TargetKind: diff.Modify,
		})
		require.True(t, rec.Resolved)
		assert.Nil(t, rec.Value, "dropping the constraint is the furthest relaxation")
	})

	t.Run("OneSideRaisesMinStaysUnresolved", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: minField,
			Base: 18, Source: 21, Target: 16,
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		})
		assert.False(t, rec.Resolved)
		assert.True(t, rec.Blocks())
	})

	t.Run("BothAddFloorsStaysUnresolved", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: minField,
			Base: nil, Source: 5, Target: 10,
			SourceKind: diff.Add, TargetKind: diff.Add,
		})
		assert.False(t, rec.Resolved, "two new floors both narrow from unconstrained")
		assert.True(t, rec.Blocks())
	})

	t.Run("BothRaiseMax", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: maxField,
			Base: 100, Source: 150, Target: float64(120),
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		})
		require.True(t, rec.Resolved)
		assert.Equal(t, StrategyRelaxMax, rec.Strategy)
		assert.Equal(t, 150, rec.Value)
	})

	t.Run("OneSideLowersMaxStaysUnresolved", func(t *testing.T) {
		rec := r.Resolve(Candidate{
			Entity: diff.PropertyRef("User", "age"), Field: maxField,
			Base: 100, Source: 90, Target: 150,
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		})
		assert.False(t, rec.Resolved)
	})
}

func TestWidenCardinality(t *testing.T) {
	r := NewResolver(nil)
	candidate := func(base, src, tgt schema.Cardinality) Candidate {
		return Candidate{
			Entity: diff.LinkTypeRef("member_of"), Field: diff.FieldCardinality,
			Base: base, Source: src, Target: tgt,
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		}
	}

	rec := r.Resolve(candidate(schema.OneToOne, schema.OneToMany, schema.ManyToMany))
	require.True(t, rec.Resolved)
	assert.Equal(t, StrategyWidenCardinality, rec.Strategy)
	assert.Equal(t, schema.ManyToMany, rec.Value)
	assert.Equal(t, Warning, rec.Severity)

	rec = r.Resolve(candidate(schema.OneToMany, schema.OneToOne, schema.ManyToMany))
	assert.False(t, rec.Resolved, "narrowing can orphan instance data")
	assert.True(t, rec.Blocks())
}

func TestKeepTargetOrder(t *testing.T) {
	r := NewResolver(nil)

	rec := r.Resolve(Candidate{
		Entity:     diff.ObjectTypeRef("User"),
		Field:      diff.FieldPropertyOrder,
		Base:       []string{"id", "email", "age"},
		Source:     []string{"email", "id", "age"},
		Target:     []string{"age", "id", "email"},
		SourceKind: diff.Reorder,
		TargetKind: diff.Reorder,
	})
	require.True(t, rec.Resolved)
	assert.Equal(t, StrategyKeepTargetOrder, rec.Strategy)
	assert.Equal(t, []string{"age", "id", "email"}, rec.Value)
	assert.Equal(t, Info, rec.Severity)
}

func TestEntityLevelContestIsBlocking(t *testing.T) {
	r := NewResolver(nil)

	rec := r.Resolve(Candidate{
		Entity:     diff.ObjectTypeRef("Team"),
		Field:      "",
		Base:       &schema.ObjectType{Name: "Team"},
		Source:     nil,
		Target:     &schema.ObjectType{Name: "Team", DisplayName: "Teams"},
		SourceKind: diff.Remove,
		TargetKind: diff.Modify,
	})
	assert.False(t, rec.Resolved)
	assert.Equal(t, Blocking, rec.Severity)
	assert.True(t, rec.Blocks())
}

func TestClassifiedSeverities(t *testing.T) {
	r := NewResolver(nil)
	candidate := func(entity diff.EntityRef, field string, base, src, tgt any) Candidate {
		return Candidate{
			Entity: entity, Field: field, Base: base, Source: src, Target: tgt,
			SourceKind: diff.Modify, TargetKind: diff.Modify,
		}
	}

	t.Run("PrimaryKeyIsBlocking", func(t *testing.T) {
		rec := r.Resolve(candidate(diff.ObjectTypeRef("User"), diff.FieldPrimaryKey, "id", "uuid", "email"))
		assert.False(t, rec.Resolved)
		assert.Equal(t, Blocking, rec.Severity)
	})

	t.Run("DisplayNameKeepsTarget", func(t *testing.T) {
		rec := r.Resolve(candidate(diff.PropertyRef("User", "email"), diff.FieldDisplayName, "Email", "E-Mail", "Mail"))
		assert.False(t, rec.Resolved)
		assert.Equal(t, Warning, rec.Severity)
		assert.Equal(t, "Mail", rec.Value, "merge keeps the target side for cosmetics")
		assert.False(t, rec.Blocks())
	})

	t.Run("DescriptionIsInfo", func(t *testing.T) {
		rec := r.Resolve(candidate(diff.PropertyRef("User", "email"), diff.FieldDescription, "a", "b", "c"))
		assert.Equal(t, Info, rec.Severity)
		assert.Equal(t, "c", rec.Value)
	})

	t.Run("RequiredIsError", func(t *testing.T) {
		rec := r.Resolve(candidate(diff.PropertyRef("User", "email"), diff.FieldRequired, false, true, false))
		assert.False(t, rec.Resolved)
		assert.Equal(t, Error, rec.Severity)
		assert.Nil(t, rec.Value)
	})

	t.Run("UniqueConstraintIsError", func(t *testing.T) {
		rec := r.Resolve(candidate(
			diff.PropertyRef("User", "email"),
			diff.ConstraintField(schema.ConstraintUnique),
			nil, true, false,
		))
		assert.False(t, rec.Resolved)
		assert.Equal(t, Error, rec.Severity)
	})
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(nil)
	c := Candidate{
		Entity:     diff.PropertyRef("User", "status"),
		Field:      diff.FieldAllowedValues,
		Base:       []string{"a"},
		Source:     []string{"a", "c", "b"},
		Target:     []string{"a", "d"},
		SourceKind: diff.Modify,
		TargetKind: diff.Modify,
	}

	first := r.Resolve(c)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve(c))
	}
}

func TestSeverityParseRoundTrip(t *testing.T) {
	for _, s := range []Severity{Info, Warning, Error, Blocking} {
		parsed, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)
}
