package benchmark

import (
	"fmt"

	"github.com/trellis-data/trellis/schema"
)

var propertyTypes = []schema.BaseType{
	schema.TypeString,
	schema.TypeInteger,
	schema.TypeBool,
	schema.TypeTimestamp,
	schema.TypeDouble,
}

// GenerateSchema builds a schema with the specified number of object types,
// each carrying an id plus propsPerObject properties, and a link type
// between every neighboring pair of objects.
func GenerateSchema(objectCount, propsPerObject int) *schema.Schema {
	doc := schema.New()

	for i := 0; i < objectCount; i++ {
		obj := &schema.ObjectType{
			Name:       fmt.Sprintf("Resource%d", i),
			PrimaryKey: "id",
			Properties: []*schema.Property{
				{Name: "id", Type: &schema.TypeSpec{Base: schema.TypeUUID}, Required: true},
			},
		}
		for j := 0; j < propsPerObject; j++ {
			p := &schema.Property{
				Name:     fmt.Sprintf("prop_%d", j),
				Type:     &schema.TypeSpec{Base: propertyTypes[j%len(propertyTypes)]},
				Required: j%3 == 0,
			}
			switch p.Type.Base {
			case schema.TypeInteger:
				p.SetConstraint(schema.ConstraintMin, 0)
			case schema.TypeString:
				if j%4 == 0 {
					p.SetConstraint(schema.ConstraintPattern, "^[a-z]+$")
				}
			}
			if j%5 == 4 {
				p.SetConstraint(schema.ConstraintIndexed, true)
			}
			obj.Properties = append(obj.Properties, p)
		}
		doc.AddObjectType(obj)
	}

	for i := 1; i < objectCount; i += 2 {
		doc.AddLinkType(&schema.LinkType{
			Name:        fmt.Sprintf("link_%d", i),
			Source:      fmt.Sprintf("Resource%d", i),
			Target:      fmt.Sprintf("Resource%d", i-1),
			Cardinality: schema.OneToMany,
			OnDelete:    schema.DeleteRestrict,
		})
	}

	return doc
}

// SmallSchema returns a single object type with a handful of properties.
func SmallSchema() *schema.Schema {
	return GenerateSchema(1, 4)
}

// TypicalSchema returns a schema the size of a typical project, around ten
// object types.
func TypicalSchema() *schema.Schema {
	return GenerateSchema(10, 8)
}

// LargeSchema returns a schema with 50 object types for throughput runs.
func LargeSchema() *schema.Schema {
	return GenerateSchema(50, 10)
}

// WidenNumerics returns a copy of doc with every integer property widened
// to long.
func WidenNumerics(doc *schema.Schema) *schema.Schema {
	out := doc.Clone()
	for _, obj := range out.ObjectTypes {
		for _, p := range obj.Properties {
			if p.Type != nil && p.Type.Base == schema.TypeInteger {
				p.Type.Base = schema.TypeLong
			}
		}
	}
	return out
}

// ExtendObjects returns a copy of doc with extra string properties appended
// to every object type.
func ExtendObjects(doc *schema.Schema, extra int) *schema.Schema {
	out := doc.Clone()
	for _, obj := range out.ObjectTypes {
		for j := 0; j < extra; j++ {
			obj.Properties = append(obj.Properties, &schema.Property{
				Name: fmt.Sprintf("extra_%d", j),
				Type: &schema.TypeSpec{Base: schema.TypeString},
			})
		}
	}
	return out
}

// CountEntities counts the object and link types in a schema.
func CountEntities(doc *schema.Schema) int {
	return len(doc.ObjectTypes) + len(doc.LinkTypes)
}

// CountProperties counts the properties across all object types.
func CountProperties(doc *schema.Schema) int {
	count := 0
	for _, obj := range doc.ObjectTypes {
		count += len(obj.Properties)
	}
	return count
}
