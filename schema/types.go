// Package schema defines the versioned metadata model: object types, their
// properties, and the link types connecting them. Values of these types are
// the content of snapshots; they carry no behavior beyond validation,
// cloning, and structural equality.
package schema

import "fmt"

// BaseType represents the built-in primitive types a property can hold.
type BaseType int

const (
	// Text types
	TypeString BaseType = iota
	TypeText

	// Numeric types, ordered narrow to wide
	TypeInteger
	TypeLong
	TypeDouble
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Identifiers and documents
	TypeUUID
	TypeJSON

	// Collections
	TypeArray
)

// String returns the string representation of the base type.
func (b BaseType) String() string {
	switch b {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// ParseBaseType converts a string to a BaseType.
func ParseBaseType(s string) (BaseType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "integer":
		return TypeInteger, nil
	case "long":
		return TypeLong, nil
	case "double":
		return TypeDouble, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	case "array":
		return TypeArray, nil
	default:
		return 0, fmt.Errorf("unknown base type: %s", s)
	}
}

// NumericRank returns the widening rank of a numeric base type
// (integer < long < double). Non-numeric types return -1: they have no
// widening relationship with anything.
func (b BaseType) NumericRank() int {
	switch b {
	case TypeInteger:
		return 0
	case TypeLong:
		return 1
	case TypeDouble:
		return 2
	default:
		return -1
	}
}

// TypeSpec is a complete property type: a base type plus its parameters.
type TypeSpec struct {
	Base BaseType `json:"base"`

	// Type parameters (e.g., string(50), decimal(10,2))
	Length    *int `json:"length,omitempty"`
	Precision *int `json:"precision,omitempty"`
	Scale     *int `json:"scale,omitempty"`

	// Element type for arrays
	Element *TypeSpec `json:"element,omitempty"`
}

// String returns a compact representation such as "string(50)" or
// "array<integer>".
func (t *TypeSpec) String() string {
	switch {
	case t.Base == TypeArray && t.Element != nil:
		return fmt.Sprintf("array<%s>", t.Element.String())
	case t.Length != nil:
		return fmt.Sprintf("%s(%d)", t.Base, *t.Length)
	case t.Precision != nil && t.Scale != nil:
		return fmt.Sprintf("%s(%d,%d)", t.Base, *t.Precision, *t.Scale)
	default:
		return t.Base.String()
	}
}

// IsNumeric returns true if the type participates in numeric widening.
func (t *TypeSpec) IsNumeric() bool {
	return t.Base.NumericRank() >= 0
}

// Equal reports structural equality of two type specs.
func (t *TypeSpec) Equal(other *TypeSpec) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Base != other.Base {
		return false
	}
	if !intPtrEqual(t.Length, other.Length) {
		return false
	}
	if !intPtrEqual(t.Precision, other.Precision) {
		return false
	}
	if !intPtrEqual(t.Scale, other.Scale) {
		return false
	}
	return t.Element.Equal(other.Element)
}

// Clone returns a deep copy of the type spec.
func (t *TypeSpec) Clone() *TypeSpec {
	if t == nil {
		return nil
	}
	out := &TypeSpec{Base: t.Base}
	out.Length = intPtrClone(t.Length)
	out.Precision = intPtrClone(t.Precision)
	out.Scale = intPtrClone(t.Scale)
	out.Element = t.Element.Clone()
	return out
}

// ConstraintKind identifies a property constraint. Presence in the
// constraint set is meaningful on its own: a property with no Unique
// constraint is in a different state than one with Unique explicitly set
// to false.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintIndexed
	ConstraintMin
	ConstraintMax
	ConstraintPattern
)

// String returns the string representation of the constraint kind.
func (c ConstraintKind) String() string {
	switch c {
	case ConstraintUnique:
		return "unique"
	case ConstraintIndexed:
		return "indexed"
	case ConstraintMin:
		return "min"
	case ConstraintMax:
		return "max"
	case ConstraintPattern:
		return "pattern"
	default:
		return "unknown"
	}
}

// ParseConstraintKind converts a string to a ConstraintKind.
func ParseConstraintKind(s string) (ConstraintKind, error) {
	switch s {
	case "unique":
		return ConstraintUnique, nil
	case "indexed":
		return ConstraintIndexed, nil
	case "min":
		return ConstraintMin, nil
	case "max":
		return ConstraintMax, nil
	case "pattern":
		return ConstraintPattern, nil
	default:
		return 0, fmt.Errorf("unknown constraint kind: %s", s)
	}
}

// Constraint is a single property constraint. Value holds a bool for
// Unique/Indexed, a number for Min/Max, and a string for Pattern.
type Constraint struct {
	Kind  ConstraintKind `json:"kind"`
	Value any            `json:"value"`
}

// ValueEqual compares two constraint values, coercing across the numeric
// representations JSON decoding produces.
func ValueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
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

// Property is a typed attribute of an object type.
type Property struct {
	Name          string       `json:"name"`
	DisplayName   string       `json:"display_name,omitempty"`
	Description   string       `json:"description,omitempty"`
	Type          *TypeSpec    `json:"type"`
	Required      bool         `json:"required"`
	AllowedValues []string     `json:"allowed_values,omitempty"`
	Constraints   []Constraint `json:"constraints,omitempty"`
}

// Constraint returns the constraint of the given kind and whether it is set.
func (p *Property) Constraint(kind ConstraintKind) (Constraint, bool) {
	for _, c := range p.Constraints {
		if c.Kind == kind {
			return c, true
		}
	}
	return Constraint{}, false
}

// SetConstraint adds or replaces the constraint of the given kind.
func (p *Property) SetConstraint(kind ConstraintKind, value any) {
	for i := range p.Constraints {
		if p.Constraints[i].Kind == kind {
			p.Constraints[i].Value = value
			return
		}
	}
	p.Constraints = append(p.Constraints, Constraint{Kind: kind, Value: value})
}

// RemoveConstraint deletes the constraint of the given kind, if present.
func (p *Property) RemoveConstraint(kind ConstraintKind) {
	for i := range p.Constraints {
		if p.Constraints[i].Kind == kind {
			p.Constraints = append(p.Constraints[:i], p.Constraints[i+1:]...)
			return
		}
	}
}

// Equal reports structural equality of two properties.
func (p *Property) Equal(other *Property) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Name != other.Name ||
		p.DisplayName != other.DisplayName ||
		p.Description != other.Description ||
		p.Required != other.Required {
		return false
	}
	if !p.Type.Equal(other.Type) {
		return false
	}
	if !stringSlicesEqual(p.AllowedValues, other.AllowedValues) {
		return false
	}
	return constraintsEqual(p.Constraints, other.Constraints)
}

// Clone returns a deep copy of the property.
func (p *Property) Clone() *Property {
	if p == nil {
		return nil
	}
	out := &Property{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Type:        p.Type.Clone(),
		Required:    p.Required,
	}
	if p.AllowedValues != nil {
		out.AllowedValues = append([]string(nil), p.AllowedValues...)
	}
	if p.Constraints != nil {
		out.Constraints = append([]Constraint(nil), p.Constraints...)
	}
	return out
}

// constraintsEqual compares two constraint sets ignoring order.
func constraintsEqual(a, b []Constraint) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[ConstraintKind]any, len(a))
	for _, c := range a {
		am[c.Kind] = c.Value
	}
	for _, c := range b {
		v, ok := am[c.Kind]
		if !ok || !ValueEqual(v, c.Value) {
			return false
		}
	}
	return true
}

// ObjectType is a named entity with an ordered list of properties. Property
// order is versioned state: reordering is a schema change in its own right.
type ObjectType struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name,omitempty"`
	Description string      `json:"description,omitempty"`
	PrimaryKey  string      `json:"primary_key"`
	Properties  []*Property `json:"properties"`
}

// Property returns the property with the given name, or nil.
func (o *ObjectType) Property(name string) *Property {
	for _, p := range o.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// HasProperty returns true if the object type has a property with the name.
func (o *ObjectType) HasProperty(name string) bool {
	return o.Property(name) != nil
}

// PropertyOrder returns the property names in declared order.
func (o *ObjectType) PropertyOrder() []string {
	names := make([]string, len(o.Properties))
	for i, p := range o.Properties {
		names[i] = p.Name
	}
	return names
}

// Clone returns a deep copy of the object type.
func (o *ObjectType) Clone() *ObjectType {
	if o == nil {
		return nil
	}
	out := &ObjectType{
		Name:        o.Name,
		DisplayName: o.DisplayName,
		Description: o.Description,
		PrimaryKey:  o.PrimaryKey,
	}
	out.Properties = make([]*Property, len(o.Properties))
	for i, p := range o.Properties {
		out.Properties[i] = p.Clone()
	}
	return out
}

// Equal reports structural equality including property order.
func (o *ObjectType) Equal(other *ObjectType) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Name != other.Name ||
		o.DisplayName != other.DisplayName ||
		o.Description != other.Description ||
		o.PrimaryKey != other.PrimaryKey {
		return false
	}
	if len(o.Properties) != len(other.Properties) {
		return false
	}
	for i := range o.Properties {
		if !o.Properties[i].Equal(other.Properties[i]) {
			return false
		}
	}
	return true
}

// Cardinality represents how many objects a link connects on each side,
// ordered from most to least restrictive.
type Cardinality int

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToMany
)

// String returns the string representation of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// ParseCardinality converts a string to a Cardinality.
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "one_to_one":
		return OneToOne, nil
	case "one_to_many":
		return OneToMany, nil
	case "many_to_many":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown cardinality: %s", s)
	}
}

// PermissiveRank orders cardinalities by how much they allow. Widening moves
// to a higher rank and never loses data; narrowing can.
func (c Cardinality) PermissiveRank() int {
	return int(c)
}

// DeleteRule represents the referential action taken when a linked object
// is deleted.
type DeleteRule int

const (
	DeleteRestrict DeleteRule = iota
	DeleteCascade
	DeleteSetNull
)

// String returns the string representation of the delete rule.
func (d DeleteRule) String() string {
	switch d {
	case DeleteRestrict:
		return "restrict"
	case DeleteCascade:
		return "cascade"
	case DeleteSetNull:
		return "set_null"
	default:
		return "unknown"
	}
}

// ParseDeleteRule converts a string to a DeleteRule.
func ParseDeleteRule(s string) (DeleteRule, error) {
	switch s {
	case "restrict":
		return DeleteRestrict, nil
	case "cascade":
		return DeleteCascade, nil
	case "set_null":
		return DeleteSetNull, nil
	default:
		return 0, fmt.Errorf("unknown delete rule: %s", s)
	}
}

// LinkType is a named, directed relationship between two object types.
type LinkType struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name,omitempty"`
	Description string      `json:"description,omitempty"`
	Source      string      `json:"source"`
	Target      string      `json:"target"`
	Cardinality Cardinality `json:"cardinality"`
	OnDelete    DeleteRule  `json:"on_delete"`
}

// Clone returns a copy of the link type.
func (l *LinkType) Clone() *LinkType {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

// Equal reports structural equality of two link types.
func (l *LinkType) Equal(other *LinkType) bool {
	if l == nil || other == nil {
		return l == other
	}
	return *l == *other
}

// EntityKind identifies which kind of schema entity a change or conflict
// refers to.
type EntityKind int

const (
	KindObjectType EntityKind = iota
	KindProperty
	KindLinkType
)

// String returns the string representation of the entity kind.
func (k EntityKind) String() string {
	switch k {
	case KindObjectType:
		return "object_type"
	case KindProperty:
		return "property"
	case KindLinkType:
		return "link_type"
	default:
		return "unknown"
	}
}

// Schema is the complete versioned document: every object type and link
// type at a point in time. Snapshots store exactly this structure.
type Schema struct {
	ObjectTypes map[string]*ObjectType `json:"object_types"`
	LinkTypes   map[string]*LinkType   `json:"link_types"`
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{
		ObjectTypes: make(map[string]*ObjectType),
		LinkTypes:   make(map[string]*LinkType),
	}
}

// AddObjectType registers an object type, replacing any previous definition.
func (s *Schema) AddObjectType(o *ObjectType) {
	s.ObjectTypes[o.Name] = o
}

// AddLinkType registers a link type, replacing any previous definition.
func (s *Schema) AddLinkType(l *LinkType) {
	s.LinkTypes[l.Name] = l
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := New()
	for name, o := range s.ObjectTypes {
		out.ObjectTypes[name] = o.Clone()
	}
	for name, l := range s.LinkTypes {
		out.LinkTypes[name] = l.Clone()
	}
	return out
}

// Equal reports structural equality of two schemas.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.ObjectTypes) != len(other.ObjectTypes) ||
		len(s.LinkTypes) != len(other.LinkTypes) {
		return false
	}
	for name, o := range s.ObjectTypes {
		if !o.Equal(other.ObjectTypes[name]) {
			return false
		}
	}
	for name, l := range s.LinkTypes {
		if !l.Equal(other.LinkTypes[name]) {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func intPtrClone(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
