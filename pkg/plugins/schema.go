package plugins

import (
	"fmt"
	"sort"
)

// FieldType is the structural type a schema field expects
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// Field declares one configuration key
type Field struct {
	Type     FieldType
	Required bool
	// Nullable fields may be absent or null even when Required is set
	Nullable bool
	// Fields describes the members of an object field
	Fields map[string]*Field
	// Items describes the elements of an array field
	Items *Field
}

// Schema describes the configuration a plugin accepts. Keys not declared in
// the schema are tolerated.
type Schema struct {
	Fields map[string]*Field
}

// ValidationResult is the outcome of checking a blob against a schema
type ValidationResult struct {
	Errors []FieldError
}

// Valid reports whether no mismatch was found
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks blob against schema. It has no side effects.
func Validate(schema *Schema, blob Config) ValidationResult {
	if schema == nil {
		return ValidationResult{}
	}
	var errs []FieldError
	validateFields("", schema.Fields, blob, &errs)
	return ValidationResult{Errors: errs}
}

// ValidateDescriptorConfig applies the export's configuration contract to a
// descriptor: required-ness first, then the schema.
func ValidateDescriptorConfig(d Descriptor, export *Export) error {
	if d.Config == nil {
		if export.ConfigRequired {
			return &ConfigError{Plugin: d.ID, Missing: true}
		}
		return nil
	}

	result := Validate(export.ConfigSchema, d.Config)
	if !result.Valid() {
		return &ConfigError{Plugin: d.ID, Fields: result.Errors}
	}
	return nil
}

func validateFields(prefix string, fields map[string]*Field, blob map[string]interface{}, errs *[]FieldError) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := fields[name]
		path := joinPath(prefix, name)
		value, present := blob[name]

		if !present || value == nil {
			if field.Nullable {
				continue
			}
			if present {
				*errs = append(*errs, FieldError{Path: path, Message: "must not be null"})
			} else if field.Required {
				*errs = append(*errs, FieldError{Path: path, Message: "is required"})
			}
			continue
		}

		validateValue(path, field, value, errs)
	}
}

func validateValue(path string, field *Field, value interface{}, errs *[]FieldError) {
	actual := typeOf(value)
	if actual != field.Type {
		*errs = append(*errs, FieldError{
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", field.Type, actual),
		})
		return
	}

	switch field.Type {
	case TypeObject:
		if len(field.Fields) > 0 {
			validateFields(path, field.Fields, asMap(value), errs)
		}
	case TypeArray:
		if field.Items == nil {
			return
		}
		for i, item := range value.([]interface{}) {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				if !field.Items.Nullable {
					*errs = append(*errs, FieldError{Path: itemPath, Message: "must not be null"})
				}
				continue
			}
			validateValue(itemPath, field.Items, item, errs)
		}
	}
}

func typeOf(value interface{}) FieldType {
	switch value.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TypeNumber
	case map[string]interface{}, Config:
		return TypeObject
	case []interface{}:
		return TypeArray
	default:
		return FieldType(fmt.Sprintf("%T", value))
	}
}

func asMap(value interface{}) map[string]interface{} {
	switch m := value.(type) {
	case Config:
		return m
	case map[string]interface{}:
		return m
	}
	return nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
