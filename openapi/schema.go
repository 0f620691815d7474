package openapi

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

var timeType = reflect.TypeOf(time.Time{})

// schemaRegistry turns Go values into schemas. Named structs are stored once
// under components/schemas and referenced from then on.
type schemaRegistry struct {
	components openapi3.Schemas
	names      map[reflect.Type]string
	taken      map[string]bool
}

func newSchemaRegistry(components openapi3.Schemas) *schemaRegistry {
	return &schemaRegistry{
		components: components,
		names:      make(map[reflect.Type]string),
		taken:      make(map[string]bool),
	}
}

func (r *schemaRegistry) refFor(example any) *openapi3.SchemaRef {
	if example == nil {
		return openapi3.NewObjectSchema().NewRef()
	}
	return r.typeRef(reflect.TypeOf(example))
}

func (r *schemaRegistry) typeRef(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Pointer {
		ref := r.typeRef(t.Elem())
		if ref.Ref != "" {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref}, Nullable: true}}
		}
		ref.Value.Nullable = true
		return ref
	}

	switch t.Kind() {
	case reflect.String:
		return openapi3.NewStringSchema().NewRef()
	case reflect.Bool:
		return openapi3.NewBoolSchema().NewRef()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return openapi3.NewIntegerSchema().NewRef()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return openapi3.NewIntegerSchema().WithMin(0).NewRef()
	case reflect.Float32, reflect.Float64:
		return openapi3.NewFloat64Schema().NewRef()
	case reflect.Slice, reflect.Array:
		schema := openapi3.NewArraySchema()
		schema.Items = r.typeRef(t.Elem())
		return schema.NewRef()
	case reflect.Map:
		schema := openapi3.NewObjectSchema()
		schema.AdditionalProperties = openapi3.AdditionalProperties{Schema: r.typeRef(t.Elem())}
		return schema.NewRef()
	case reflect.Struct:
		if t == timeType {
			return openapi3.NewDateTimeSchema().NewRef()
		}
		return r.structRef(t)
	default:
		return openapi3.NewObjectSchema().NewRef()
	}
}

func (r *schemaRegistry) structRef(t reflect.Type) *openapi3.SchemaRef {
	if t.Name() == "" {
		return r.structSchema(t).NewRef()
	}

	if name, ok := r.names[t]; ok {
		return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
	}

	name := t.Name()
	for i := 2; r.taken[name]; i++ {
		name = t.Name() + strconv.Itoa(i)
	}
	r.names[t] = name
	r.taken[name] = true
	r.components[name] = r.structSchema(t).NewRef()

	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// structSchema follows encoding/json field naming. Fields without omitempty
// are required; the doc and example tags fill description and example.
func (r *schemaRegistry) structSchema(t reflect.Type) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	schema.Properties = make(openapi3.Schemas)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if !field.IsExported() || tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}

		prop := r.typeRef(field.Type)
		doc, example := field.Tag.Get("doc"), field.Tag.Get("example")
		if doc != "" || example != "" {
			if prop.Ref != "" {
				prop = &openapi3.SchemaRef{Value: &openapi3.Schema{AllOf: openapi3.SchemaRefs{prop}}}
			}
			prop.Value.Description = doc
			if example != "" {
				prop.Value.Example = example
			}
		}
		schema.Properties[name] = prop

		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema
}
