package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// durationPattern matches the strings time.ParseDuration accepts.
const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// JSONSchema returns the JSON Schema of the configuration file. Nested
// sections are inlined, every setting is optional, durations are strings
// such as "30s", and each setting documents the value Default gives it.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
			Mapper:                     mapSchemaType,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "connect SDK configuration"
		schema.Description = "Configuration for the connect CLI and SDK. YAML or JSON5; $include merges further files."

		defaults, err := defaultValues()
		if err != nil {
			schemaErr = err
			return
		}
		applySchemaDefaults(schema, defaults)
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

func mapSchemaType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     durationPattern,
			Description: "Duration such as 500ms, 30s or 15m.",
		}
	}
	return nil
}

// defaultValues renders Default() the way it would appear in a config file.
func defaultValues() (map[string]any, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// applySchemaDefaults records non-zero defaults on the matching properties.
func applySchemaDefaults(schema *jsonschema.Schema, defaults map[string]any) {
	if schema == nil || schema.Properties == nil {
		return
	}
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		value, ok := defaults[pair.Key]
		if !ok {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			applySchemaDefaults(pair.Value, nested)
			continue
		}
		if isZeroDefault(value) {
			continue
		}
		pair.Value.Default = value
	}
}

func isZeroDefault(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case int:
		return v == 0
	case float64:
		return v == 0
	case []any:
		return len(v) == 0
	}
	return false
}
