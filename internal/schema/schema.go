// Package schema generates JSON Schema documents from Go struct shapes via
// reflection, shared by the tools/schemagen generator and the checker CLI's
// schema subcommand. Grounded on the teacher's tools/schemagen/schemagen.go.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/manytask/checker/pkg/config"
	"github.com/manytask/checker/pkg/plugin"
)

// Schema represents a JSON Schema document.
type Schema struct {
	Schema      string             `json:"$schema,omitempty"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
	Definitions map[string]*Schema `json:"definitions,omitempty"`
}

// Generate builds the JSON Schema document for v, named name. v's struct
// fields are read via their "mapstructure" tag (falling back to a
// lower-cased field name), matching the tag kind used throughout
// pkg/config and pkg/plugin's declared Args shapes.
func Generate(name string, v any) *Schema {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	defs := make(map[string]*Schema)
	props, required := structToProperties(t, defs)

	out := &Schema{
		Schema:      "https://json-schema.org/draft-07/schema#",
		Title:       strings.Title(strings.ReplaceAll(name, ".", " ")), //nolint:staticcheck // matches teacher's own usage
		Description: fmt.Sprintf("JSON schema for the %s configuration shape", name),
		Type:        "object",
		Properties:  props,
		Required:    required,
	}

	if len(defs) > 0 {
		out.Definitions = defs
	}

	return out
}

// WriteFile marshals schema as indented JSON to <dir>/<name>.json, where any
// "." in name is replaced with "_".
func WriteFile(dir, name string, schema *Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	path := filepath.Join(dir, strings.ReplaceAll(name, ".", "_")+".json")

	return os.WriteFile(path, data, 0o644) //nolint:gosec // generated schema, not attacker input
}

// Shapes enumerates every Go shape the grading platform wants a JSON schema
// for: the two top-level config documents, the shared structure override
// block, and every built-in plugin's declared argument struct. Shared by
// tools/schemagen and the checker CLI's schema subcommand so the two never
// drift apart.
func Shapes() map[string]any {
	out := map[string]any{
		"checker":   &config.CheckerConfig{},
		"manytask":  &config.ManytaskConfig{},
		"structure": &config.StructureSection{},
	}

	reg := plugin.NewDefaultRegistry(nil)
	for _, name := range reg.Names() {
		if p, ok := reg.Get(name); ok {
			out["plugin."+name] = p.Schema()
		}
	}

	return out
}

func fieldName(field reflect.StructField) (name string, skip bool) {
	tag := field.Tag.Get("mapstructure")
	if tag == "-" {
		return "", true
	}

	if tag == "" {
		return strings.ToLower(field.Name), false
	}

	parts := strings.Split(tag, ",")

	return parts[0], false
}

func structToProperties(t reflect.Type, defs map[string]*Schema) (map[string]*Schema, []string) {
	props := make(map[string]*Schema)

	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, skip := fieldName(field)
		if skip {
			continue
		}

		props[name] = typeToSchema(field.Type, defs)
		required = append(required, name)
	}

	return props, required
}

func typeToSchema(t reflect.Type, defs map[string]*Schema) *Schema {
	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			return &Schema{Type: "integer", Description: "Duration in nanoseconds"}
		}

		return &Schema{Type: "integer"}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}

	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}

	case reflect.Bool:
		return &Schema{Type: "boolean"}

	case reflect.Slice, reflect.Array:
		return &Schema{
			Type:  "array",
			Items: typeToSchema(t.Elem(), defs),
		}

	case reflect.Map:
		return &Schema{
			Type: "object",
			Description: fmt.Sprintf("Map with %s keys and %s values",
				t.Key().Kind().String(), t.Elem().Kind().String()),
		}

	case reflect.Interface:
		return &Schema{Description: "any"}

	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return &Schema{Type: "string", Description: "ISO 8601 timestamp"}
		}

		defName := t.Name()
		if defName == "" {
			props, required := structToProperties(t, defs)

			return &Schema{Type: "object", Properties: props, Required: required}
		}

		if _, exists := defs[defName]; !exists {
			props, required := structToProperties(t, defs)
			defs[defName] = &Schema{Type: "object", Properties: props, Required: required}
		}

		return &Schema{Ref: "#/definitions/" + defName}

	case reflect.Ptr:
		return typeToSchema(t.Elem(), defs)

	default:
		return &Schema{Type: "object"}
	}
}
