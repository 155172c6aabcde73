package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestBaseTypeRoundTrip(t *testing.T) {
	for _, b := range []BaseType{
		TypeString, TypeText, TypeInteger, TypeLong, TypeDouble,
		TypeDecimal, TypeBool, TypeTimestamp, TypeDate, TypeUUID,
		TypeJSON, TypeArray,
	} {
		parsed, err := ParseBaseType(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}

	_, err := ParseBaseType("widget")
	assert.Error(t, err)
}

func TestConstraintKindRoundTrip(t *testing.T) {
	for _, k := range []ConstraintKind{
		ConstraintUnique, ConstraintIndexed, ConstraintMin, ConstraintMax, ConstraintPattern,
	} {
		parsed, err := ParseConstraintKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseConstraintKind("checksum")
	assert.Error(t, err)
}

func TestNumericRank(t *testing.T) {
	assert.Equal(t, 0, TypeInteger.NumericRank())
	assert.Equal(t, 1, TypeLong.NumericRank())
	assert.Equal(t, 2, TypeDouble.NumericRank())
	assert.Equal(t, -1, TypeString.NumericRank())
	assert.Equal(t, -1, TypeDecimal.NumericRank())
}

func TestTypeSpecString(t *testing.T) {
	assert.Equal(t, "string(50)", (&TypeSpec{Base: TypeString, Length: intPtr(50)}).String())
	assert.Equal(t, "decimal(10,2)", (&TypeSpec{Base: TypeDecimal, Precision: intPtr(10), Scale: intPtr(2)}).String())
	assert.Equal(t, "array<integer>", (&TypeSpec{Base: TypeArray, Element: &TypeSpec{Base: TypeInteger}}).String())
	assert.Equal(t, "bool", (&TypeSpec{Base: TypeBool}).String())
}

func TestTypeSpecEqual(t *testing.T) {
	a := &TypeSpec{Base: TypeString, Length: intPtr(50)}
	b := &TypeSpec{Base: TypeString, Length: intPtr(50)}
	c := &TypeSpec{Base: TypeString, Length: intPtr(100)}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(&TypeSpec{Base: TypeText, Length: intPtr(50)}))
	assert.False(t, a.Equal(nil))

	arr := &TypeSpec{Base: TypeArray, Element: &TypeSpec{Base: TypeInteger}}
	assert.True(t, arr.Equal(arr.Clone()))
	assert.False(t, arr.Equal(&TypeSpec{Base: TypeArray, Element: &TypeSpec{Base: TypeLong}}))
}

func TestTypeSpecCloneIsDeep(t *testing.T) {
	orig := &TypeSpec{Base: TypeDecimal, Precision: intPtr(10), Scale: intPtr(2)}
	cp := orig.Clone()
	*cp.Precision = 20

	assert.Equal(t, 10, *orig.Precision)
}

func TestValueEqualNumericCoercion(t *testing.T) {
	assert.True(t, ValueEqual(5, float64(5)))
	assert.True(t, ValueEqual(int64(3), 3))
	assert.True(t, ValueEqual(true, true))
	assert.True(t, ValueEqual("a", "a"))
	assert.False(t, ValueEqual(5, 6))
	assert.False(t, ValueEqual(true, false))
	assert.False(t, ValueEqual(nil, false))
	assert.True(t, ValueEqual(nil, nil))
}

func TestPropertyConstraints(t *testing.T) {
	p := &Property{Name: "email", Type: &TypeSpec{Base: TypeString}}

	_, ok := p.Constraint(ConstraintUnique)
	assert.False(t, ok, "absent constraint should not be found")

	p.SetConstraint(ConstraintUnique, true)
	c, ok := p.Constraint(ConstraintUnique)
	require.True(t, ok)
	assert.Equal(t, true, c.Value)

	p.SetConstraint(ConstraintUnique, false)
	c, _ = p.Constraint(ConstraintUnique)
	assert.Equal(t, false, c.Value, "set should replace, not append")
	assert.Len(t, p.Constraints, 1)

	p.SetConstraint(ConstraintMin, 1)
	p.RemoveConstraint(ConstraintUnique)
	_, ok = p.Constraint(ConstraintUnique)
	assert.False(t, ok)
	_, ok = p.Constraint(ConstraintMin)
	assert.True(t, ok, "removing one kind must not disturb others")

	p.RemoveConstraint(ConstraintPattern)
	assert.Len(t, p.Constraints, 1, "removing an absent kind is a no-op")
}

func TestPropertyEqualConstraintOrderInsensitive(t *testing.T) {
	a := &Property{Name: "age", Type: &TypeSpec{Base: TypeInteger}}
	a.SetConstraint(ConstraintMin, 0)
	a.SetConstraint(ConstraintMax, 150)

	b := &Property{Name: "age", Type: &TypeSpec{Base: TypeInteger}}
	b.SetConstraint(ConstraintMax, 150)
	b.SetConstraint(ConstraintMin, 0)

	assert.True(t, a.Equal(b))

	b.SetConstraint(ConstraintMax, 200)
	assert.False(t, a.Equal(b))
}

func TestPropertyEqualDistinguishesAbsentFromFalse(t *testing.T) {
	bare := &Property{Name: "email", Type: &TypeSpec{Base: TypeString}}
	explicit := bare.Clone()
	explicit.SetConstraint(ConstraintUnique, false)

	assert.False(t, bare.Equal(explicit))
}

func TestObjectTypePropertyOrder(t *testing.T) {
	o := &ObjectType{
		Name:       "user",
		PrimaryKey: "id",
		Properties: []*Property{
			{Name: "id", Type: &TypeSpec{Base: TypeUUID}},
			{Name: "email", Type: &TypeSpec{Base: TypeString}},
			{Name: "name", Type: &TypeSpec{Base: TypeString}},
		},
	}

	assert.Equal(t, []string{"id", "email", "name"}, o.PropertyOrder())
	assert.True(t, o.HasProperty("email"))
	assert.False(t, o.HasProperty("missing"))
	require.NotNil(t, o.Property("name"))
	assert.Nil(t, o.Property("missing"))
}

func TestObjectTypeEqualIsOrderSensitive(t *testing.T) {
	a := &ObjectType{
		Name:       "user",
		PrimaryKey: "id",
		Properties: []*Property{
			{Name: "id", Type: &TypeSpec{Base: TypeUUID}},
			{Name: "email", Type: &TypeSpec{Base: TypeString}},
		},
	}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Properties[0], b.Properties[1] = b.Properties[1], b.Properties[0]
	assert.False(t, a.Equal(b), "property order is part of the definition")
}

func TestObjectTypeCloneIsDeep(t *testing.T) {
	a := &ObjectType{
		Name:       "user",
		PrimaryKey: "id",
		Properties: []*Property{
			{Name: "id", Type: &TypeSpec{Base: TypeUUID}},
		},
	}
	b := a.Clone()
	b.Properties[0].Required = true

	assert.False(t, a.Properties[0].Required)
}

func TestSchemaCloneAndEqual(t *testing.T) {
	s := New()
	s.AddObjectType(&ObjectType{
		Name:       "user",
		PrimaryKey: "id",
		Properties: []*Property{
			{Name: "id", Type: &TypeSpec{Base: TypeUUID}},
		},
	})
	s.AddObjectType(&ObjectType{
		Name:       "team",
		PrimaryKey: "id",
		Properties: []*Property{
			{Name: "id", Type: &TypeSpec{Base: TypeUUID}},
		},
	})
	s.AddLinkType(&LinkType{
		Name:        "member_of",
		Source:      "user",
		Target:      "team",
		Cardinality: ManyToMany,
		OnDelete:    DeleteCascade,
	})

	cp := s.Clone()
	assert.True(t, s.Equal(cp))

	cp.ObjectTypes["user"].Properties[0].Required = true
	assert.False(t, s.Equal(cp))
	assert.False(t, s.ObjectTypes["user"].Properties[0].Required, "clone must not share property state")

	short := s.Clone()
	delete(short.LinkTypes, "member_of")
	assert.False(t, s.Equal(short))
}

func TestCardinalityAndDeleteRuleRoundTrip(t *testing.T) {
	for _, c := range []Cardinality{OneToOne, OneToMany, ManyToMany} {
		parsed, err := ParseCardinality(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	for _, d := range []DeleteRule{DeleteRestrict, DeleteCascade, DeleteSetNull} {
		parsed, err := ParseDeleteRule(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}

	assert.Less(t, OneToOne.PermissiveRank(), OneToMany.PermissiveRank())
	assert.Less(t, OneToMany.PermissiveRank(), ManyToMany.PermissiveRank())
}
