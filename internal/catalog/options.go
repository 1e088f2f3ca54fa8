package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/noah-isme/checkout-pricing/internal/cart"
)

// OptionSchema declares the option keys a catalog app accepts and, per key,
// the allowed values. An empty value list accepts any value for that key.
type OptionSchema struct {
	AppID   string
	Allowed map[string][]string
}

// SchemaRegistry validates catalog reference options against declared
// per-app schemas. Apps without a schema pass through unvalidated; scoping
// against unknown apps is the platform's concern, not this engine's.
type SchemaRegistry struct {
	schemas map[string]OptionSchema
}

// NewSchemaRegistry builds a registry from the given schemas.
func NewSchemaRegistry(schemas ...OptionSchema) *SchemaRegistry {
	reg := &SchemaRegistry{schemas: make(map[string]OptionSchema, len(schemas))}
	for _, s := range schemas {
		reg.schemas[s.AppID] = s
	}
	return reg
}

// ParseSchemas decodes schema declarations from JSON of the shape
// {"app": {"key": ["allowed", "values"]}}. Empty input yields no schemas.
func ParseSchemas(data []byte) ([]OptionSchema, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: parse option schemas: %w", err)
	}
	out := make([]OptionSchema, 0, len(raw))
	for appID, allowed := range raw {
		out = append(out, OptionSchema{AppID: appID, Allowed: allowed})
	}
	return out, nil
}

// Validate checks a reference's options against its app's schema.
func (r *SchemaRegistry) Validate(ref cart.CatalogRef) error {
	if r == nil {
		return nil
	}
	schema, ok := r.schemas[ref.AppID]
	if !ok {
		return nil
	}
	for key, value := range ref.Options {
		allowed, ok := schema.Allowed[key]
		if !ok {
			return fmt.Errorf("catalog: option %q not declared for app %s", key, ref.AppID)
		}
		if len(allowed) == 0 {
			continue
		}
		found := false
		for _, v := range allowed {
			if v == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("catalog: option %s=%q not allowed for app %s", key, value, ref.AppID)
		}
	}
	return nil
}
