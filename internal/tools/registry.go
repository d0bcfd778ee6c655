// Package tools enumerates the assistant's callable domain operations and
// executes model-issued tool calls against them. The registry is built
// per request from the caller's permission set; execution never lets a
// handler failure escape past the tool boundary.
package tools

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
)

// Handler runs one tool call and returns its string payload.
type Handler func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error)

// Definition describes one callable domain operation.
type Definition struct {
	Name        string
	Description string
	Permission  string
	Schema      jsonschema.Definition
	Handler     Handler
}

// Registry is the per-request set of tools the caller may invoke.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// BuildRegistry enumerates the catalogue and keeps the tools whose
// required permission appears in perms. A wildcard or owner permission
// implies all. Names are unique; a duplicate in the catalogue panics at
// startup rather than shadowing silently.
func BuildRegistry(store domain.Store, perms []string) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, def := range catalogue(store) {
		if !core.HasPermission(perms, def.Permission) {
			continue
		}
		r.register(def)
	}
	return r
}

func (r *Registry) register(def Definition) {
	if _, exists := r.defs[def.Name]; exists {
		panic("tools: duplicate tool name " + def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// All returns the registered tools in catalogue order.
func (r *Registry) All() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.defs) }

// Listing is the public shape of a tool: schema and handler withheld.
type Listing struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Listings returns the name/description pairs for every registered tool.
func (r *Registry) Listings() []Listing {
	listings := make([]Listing, 0, len(r.order))
	for _, name := range r.order {
		listings = append(listings, Listing{Name: name, Description: r.defs[name].Description})
	}
	return listings
}
