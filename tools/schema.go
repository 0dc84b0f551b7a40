package tools

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/berrykit/berry-mcp-go/mcp"
)

// Injected is the marker default for dependency-injected parameters. A
// parameter whose Default is Injected (or whose Injected flag is set) is
// excluded from the generated schema entirely: it is supplied by the server
// at call time, never by the client.
var Injected = injectedMarker{}

type injectedMarker struct{}

// EnumProvider is implemented by parameter types with a closed set of valid
// string values. Such types map to {type: "string", enum: [...]}.
type EnumProvider interface {
	EnumValues() []string
}

// SchemaProvider lets a nested record type supply its own schema. Types that
// do not implement it are reflected field-by-field, degrading to a generic
// object schema when reflection cannot do better.
type SchemaProvider interface {
	ToolSchema() mcp.SchemaProperty
}

// Param describes one tool parameter for explicit schema generation.
type Param struct {
	Name        string
	Type        reflect.Type
	Description string
	// Default marks the parameter optional and is carried into the schema
	// as a literal. Parameters without a default are required.
	Default any
	// AnyOf declares a union of alternative types. A single entry collapses
	// to that entry's schema; multiple entries produce an anyOf.
	AnyOf []reflect.Type
	// Injected excludes the parameter from the schema (see Injected).
	Injected bool
}

// SchemaFor builds an object schema from a declared parameter list.
// Parameters without defaults are listed in required, in declaration order.
// Generation never fails: unrecognized types degrade to {type: "string"}.
func SchemaFor(params ...Param) mcp.ToolInputSchema {
	props := make(map[string]mcp.SchemaProperty, len(params))
	var required []string

	for _, p := range params {
		if p.Injected || p.Default == Injected {
			continue
		}

		var prop mcp.SchemaProperty
		if len(p.AnyOf) > 0 {
			prop = unionSchema(p.AnyOf)
		} else {
			prop = TypeSchema(p.Type)
		}
		prop.Description = p.Description

		if p.Default != nil {
			prop.Default = p.Default
		} else {
			required = append(required, p.Name)
		}
		props[p.Name] = prop
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// TypeSchema maps a Go type onto the simplified schema vocabulary. The
// mapping is a closed visitor over the supported type shapes: primitive,
// optional (pointer), sequence, mapping, enum, nested record, unknown.
func TypeSchema(t reflect.Type) mcp.SchemaProperty {
	if t == nil {
		return mcp.SchemaProperty{Type: "string"}
	}

	if ev := enumValuesOf(t); ev != nil {
		anyVals := make([]any, len(ev))
		for i, v := range ev {
			anyVals[i] = v
		}
		return mcp.SchemaProperty{Type: "string", Enum: anyVals}
	}

	switch t.Kind() {
	case reflect.String:
		return mcp.SchemaProperty{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return mcp.SchemaProperty{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return mcp.SchemaProperty{Type: "number"}
	case reflect.Bool:
		return mcp.SchemaProperty{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		items := TypeSchema(t.Elem())
		return mcp.SchemaProperty{Type: "array", Items: &items}
	case reflect.Map:
		values := TypeSchema(t.Elem())
		return mcp.SchemaProperty{Type: "object", AdditionalProperties: &values}
	case reflect.Pointer:
		// Optional of T collapses to T's schema; "optional" is expressed by
		// the parameter's default, not by the type node.
		return TypeSchema(t.Elem())
	case reflect.Struct:
		return structSchema(t)
	default:
		// Interfaces, channels, funcs: no sensible mapping. Degrade rather
		// than fail the whole schema.
		return mcp.SchemaProperty{Type: "string"}
	}
}

// unionSchema collapses a single-member union to the member's schema and maps
// a multi-member union to anyOf.
func unionSchema(types []reflect.Type) mcp.SchemaProperty {
	if len(types) == 1 {
		return TypeSchema(types[0])
	}
	alts := make([]mcp.SchemaProperty, 0, len(types))
	for _, t := range types {
		alts = append(alts, TypeSchema(t))
	}
	return mcp.SchemaProperty{AnyOf: alts}
}

// structSchema reflects a record type. Types implementing SchemaProvider
// supply their own schema; failures degrade to a named generic object.
func structSchema(t reflect.Type) (prop mcp.SchemaProperty) {
	defer func() {
		if recover() != nil {
			prop = genericObject(t)
		}
	}()

	if s, ok := reflect.New(t).Interface().(SchemaProvider); ok {
		return s.ToolSchema()
	}

	props := make(map[string]mcp.SchemaProperty)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		props[name] = TypeSchema(f.Type)
	}
	return mcp.SchemaProperty{Type: "object", Properties: props}
}

func genericObject(t reflect.Type) mcp.SchemaProperty {
	return mcp.SchemaProperty{Type: "object", Description: fmt.Sprintf("%s object", t.Name())}
}

// fieldName resolves the wire name for a struct field from its json tag.
func fieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name = strings.Split(tag, ",")[0]
	if name == "" {
		name = f.Name
	}
	return name, false
}

// enumValuesOf returns the enum values for t when it (or *t) implements
// EnumProvider, else nil.
func enumValuesOf(t reflect.Type) []string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	ep := reflect.TypeOf((*EnumProvider)(nil)).Elem()
	if t.Implements(ep) {
		return reflect.Zero(t).Interface().(EnumProvider).EnumValues()
	}
	if reflect.PointerTo(t).Implements(ep) {
		return reflect.New(t).Interface().(EnumProvider).EnumValues()
	}
	return nil
}
