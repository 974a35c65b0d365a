package mipmap

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rootAttributesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["layout", "version", "axes", "voxelSize", "channels", "stats"],
  "properties": {
    "layout": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+"},
    "axes": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 4,
      "maxItems": 4
    },
    "voxelSize": {
      "type": "object",
      "required": ["unit", "values"],
      "properties": {
        "unit": {"type": "string"},
        "values": {
          "type": "array",
          "items": {"type": "number", "exclusiveMinimum": 0},
          "minItems": 3,
          "maxItems": 3
        }
      }
    },
    "channels": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label"],
        "properties": {"label": {"type": "string"}}
      }
    },
    "stats": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"$ref": "#/$defs/channelStats"}
      }
    },
    "multiscales": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["path", "shape"],
          "properties": {
            "path": {"type": "string"},
            "shape": {"type": "array", "items": {"type": "integer", "minimum": 0}}
          }
        }
      }
    }
  },
  "$defs": {
    "channelStats": {
      "type": "object",
      "required": ["channel", "min", "max", "histogram", "quantiles"],
      "properties": {
        "channel": {"type": "integer", "minimum": 0},
        "min": {"type": "number"},
        "max": {"type": "number"},
        "histogram": {
          "type": "object",
          "required": ["bins", "min", "max", "counts"],
          "properties": {
            "bins": {"type": "integer", "minimum": 0},
            "counts": {"type": ["array", "null"], "items": {"type": "integer", "minimum": 0}}
          }
        },
        "quantiles": {
          "type": ["object", "null"],
          "additionalProperties": {"type": "number"}
        }
      }
    }
  }
}`

var (
	rootSchema     *jsonschema.Schema
	rootSchemaErr  error
	rootSchemaOnce sync.Once
)

func compiledRootSchema() (*jsonschema.Schema, error) {
	rootSchemaOnce.Do(func() {
		rootSchema, rootSchemaErr = jsonschema.CompileString("root-attributes.schema.json", rootAttributesSchema)
	})
	return rootSchema, rootSchemaErr
}

// ValidateRootAttributes checks the attributes against the root attributes JSON schema.
func ValidateRootAttributes(attrs *RootAttributes) error {
	if attrs == nil {
		return fmt.Errorf("no root attributes to validate")
	}
	schema, err := compiledRootSchema()
	if err != nil {
		return fmt.Errorf("root attributes schema: %w", err)
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding root attributes: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid root attributes: %w", err)
	}
	return nil
}
