package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/martinemde/patchwork/llmwire"
)

// Capability is one tool the agent can invoke. ReadOnly capabilities may run
// concurrently with each other; mutating ones serialize.
type Capability interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	ReadOnly() bool
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// Registry holds capabilities and their compiled argument schemas.
type Registry struct {
	caps    map[string]Capability
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:    make(map[string]Capability),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register compiles the capability's schema and adds it to the registry.
// A capability with the same name is replaced.
func (r *Registry) Register(tool Capability) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return Errf(KindValidation, tool.Name(), "invalid schema: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	log.Debug().Str("tool", tool.Name()).Bool("read_only", tool.ReadOnly()).Msg("tool registered")
	return nil
}

// Unregister removes a capability.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, name)
	delete(r.schemas, name)
}

// Get returns the capability by name, or nil if not registered.
func (r *Registry) Get(name string) Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// Names returns registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the wire-level tool definitions, sorted by name so the
// request payload is stable across turns.
func (r *Registry) Definitions() []llmwire.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llmwire.ToolDefinition, 0, len(r.caps))
	for _, tool := range r.caps {
		defs = append(defs, llmwire.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ValidateArgs checks parsed arguments against the capability's schema.
func (r *Registry) ValidateArgs(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return Errf(KindNotFound, name, "tool is not registered")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return Errf(KindValidation, name, "validation failed: %v", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Errf(KindValidation, name, "invalid arguments: %s", strings.Join(problems, "; "))
	}
	return nil
}
