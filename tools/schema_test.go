package tools

import (
	"context"
	"reflect"
	"testing"

	"github.com/berrykit/berry-mcp-go/mcp"
)

func TestSchemaForRequiredAndDefaults(t *testing.T) {
	schema := SchemaFor(
		Param{Name: "a", Type: reflect.TypeOf(0)},
		Param{Name: "b", Type: reflect.TypeOf(""), Default: "x"},
	)

	if schema.Type != "object" {
		t.Fatalf("type = %q", schema.Type)
	}
	if got := schema.Properties["a"].Type; got != "integer" {
		t.Errorf("a.type = %q, want integer", got)
	}
	if got := schema.Properties["b"].Type; got != "string" {
		t.Errorf("b.type = %q, want string", got)
	}
	if got := schema.Properties["b"].Default; got != "x" {
		t.Errorf("b.default = %v, want x", got)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "a" {
		t.Errorf("required = %v, want [a]", schema.Required)
	}
}

func TestSchemaForSkipsInjectedParams(t *testing.T) {
	schema := SchemaFor(
		Param{Name: "query", Type: reflect.TypeOf("")},
		Param{Name: "db", Type: reflect.TypeOf(struct{}{}), Default: Injected},
		Param{Name: "log", Type: reflect.TypeOf(struct{}{}), Injected: true},
	)
	if len(schema.Properties) != 1 {
		t.Fatalf("properties = %v, want only query", schema.Properties)
	}
	if _, ok := schema.Properties["query"]; !ok {
		t.Fatal("query missing from schema")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Errorf("required = %v", schema.Required)
	}
}

type color string

func (color) EnumValues() []string { return []string{"red", "green", "blue"} }

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestTypeSchemaShapes(t *testing.T) {
	cases := []struct {
		name string
		typ  reflect.Type
		want mcp.SchemaProperty
	}{
		{"string", reflect.TypeOf(""), mcp.SchemaProperty{Type: "string"}},
		{"int", reflect.TypeOf(0), mcp.SchemaProperty{Type: "integer"}},
		{"float", reflect.TypeOf(0.0), mcp.SchemaProperty{Type: "number"}},
		{"bool", reflect.TypeOf(false), mcp.SchemaProperty{Type: "boolean"}},
		{"pointer collapses", reflect.TypeOf((*int)(nil)), mcp.SchemaProperty{Type: "integer"}},
		{"unsupported degrades", reflect.TypeOf(make(chan int)), mcp.SchemaProperty{Type: "string"}},
	}
	for _, tc := range cases {
		got := TypeSchema(tc.typ)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestTypeSchemaComposites(t *testing.T) {
	arr := TypeSchema(reflect.TypeOf([]int{}))
	if arr.Type != "array" || arr.Items == nil || arr.Items.Type != "integer" {
		t.Errorf("slice schema = %+v", arr)
	}

	m := TypeSchema(reflect.TypeOf(map[string]float64{}))
	if m.Type != "object" || m.AdditionalProperties == nil || m.AdditionalProperties.Type != "number" {
		t.Errorf("map schema = %+v", m)
	}

	enum := TypeSchema(reflect.TypeOf(color("")))
	if enum.Type != "string" || len(enum.Enum) != 3 || enum.Enum[0] != "red" {
		t.Errorf("enum schema = %+v", enum)
	}

	st := TypeSchema(reflect.TypeOf(point{}))
	if st.Type != "object" || st.Properties["x"].Type != "integer" || st.Properties["y"].Type != "integer" {
		t.Errorf("struct schema = %+v", st)
	}
}

func TestUnionSchema(t *testing.T) {
	single := SchemaFor(Param{Name: "v", Type: nil, AnyOf: []reflect.Type{reflect.TypeOf(0)}})
	if got := single.Properties["v"]; got.Type != "integer" || len(got.AnyOf) != 0 {
		t.Errorf("single union = %+v, want plain integer", got)
	}

	multi := SchemaFor(Param{Name: "v", AnyOf: []reflect.Type{reflect.TypeOf(0), reflect.TypeOf("")}})
	got := multi.Properties["v"]
	if len(got.AnyOf) != 2 || got.AnyOf[0].Type != "integer" || got.AnyOf[1].Type != "string" {
		t.Errorf("multi union = %+v", got)
	}
}

type reflectedArgs struct {
	A int    `json:"a"`
	B string `json:"b,omitempty" jsonschema:"default=x"`
}

func TestReflectedInputSchema(t *testing.T) {
	tool := New("f", func(ctx context.Context, args reflectedArgs) (any, error) {
		return args.B, nil
	})
	schema := tool.Descriptor.InputSchema

	if schema.Type != "object" {
		t.Fatalf("type = %q", schema.Type)
	}
	if got := schema.Properties["a"].Type; got != "integer" {
		t.Errorf("a.type = %q, want integer", got)
	}
	if got := schema.Properties["b"].Type; got != "string" {
		t.Errorf("b.type = %q, want string", got)
	}
	if got := schema.Properties["b"].Default; got != "x" {
		t.Errorf("b.default = %v, want x", got)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "a" {
		t.Errorf("required = %v, want [a]", schema.Required)
	}
}
