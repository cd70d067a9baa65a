package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Register deployment document schema
	sr.RegisterSchema("config", builtinConfigSchema)

	// Register setting schema
	sr.RegisterSchema("setting", builtinSettingSchema)

	// Register telemetry schema
	sr.RegisterSchema("telemetry", builtinTelemetrySchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinConfigSchema = `
// Deployment configuration document
remote: {
	// Management API endpoint
	base_url: string & =~"^https?://"

	timeout?:   string
	token_env?: string
	...
}

deployment: {
	// Workspace correlation tag, never empty
	correlation_id: string & !=""

	// Resource scope, always rooted
	scope: string & =~"^/"

	manifest_url?:            string & =~"^https?://"
	principal_id?:            string
	bind_during_automations?: bool
	automations?: [...string & !=""]
	role_definition_ids?: [...string & !=""]
	...
}

settings?: [...]
policy?: {...}
store?: {...}
telemetry?: {...}
logging?: {...}
`

const builtinSettingSchema = `
// One reconciled setting or connector
kind: "EntityAnalytics" | "Ueba" | "Anomalies" | "DiagnosticSetting" | "DataConnector"

// Remote object name
name: string & !=""

base_path?:         string
enabled:            bool
retry_in_finalize?: bool
payload?: {...}
`

const builtinTelemetrySchema = `
metrics?: {
	enabled: bool
	listen?: string & =~"^[^:]*:[0-9]+$"
	...
}

tracing?: {
	exporter?: "none" | "stdout" | "otlp"
	endpoint?: string
	...
}
`
