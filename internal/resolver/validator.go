package resolver

import (
	"regexp"

	"fieldstack/assist/internal/domain"
)

// Canonical references look like work_order=64a1f0c2e7b9d4a5c3f2e1b0:
// a known entity type and a 24-hex domain identifier.
var (
	tokenPattern = regexp.MustCompile(`\b([a-z_]+)=([^\s,.;!?]+)`)
	idPattern    = regexp.MustCompile(`^[0-9a-f]{24}$`)
)

// Entity is one validated canonical reference.
type Entity struct {
	Type domain.EntityType `json:"type"`
	ID   string            `json:"id"`
}

// Validation is the outcome of checking a rewritten text.
type Validation struct {
	Valid       bool     `json:"valid"`
	Entities    []Entity `json:"entities"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Validate extracts every {type}={id} token from text. One malformed
// token invalidates the whole text: a partially-resolved message is worse
// than an unresolved one, so the caller must fall back to the free-form
// original.
func Validate(text string) Validation {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	entities := make([]Entity, 0, len(matches))
	for _, m := range matches {
		entityType, id := m[1], m[2]
		if !domain.KnownType(entityType) || !idPattern.MatchString(id) {
			return Validation{Valid: false, Suggestions: knownTypes()}
		}
		entities = append(entities, Entity{Type: domain.EntityType(entityType), ID: id})
	}
	return Validation{Valid: true, Entities: entities}
}

func knownTypes() []string {
	return []string{
		string(domain.TypePersonnel),
		string(domain.TypeWorkOrder),
		string(domain.TypeTask),
		string(domain.TypeProject),
		string(domain.TypeClient),
	}
}
