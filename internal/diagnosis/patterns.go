package diagnosis

import (
	"regexp"
	"strings"
)

// Reference is an identifier extracted from an apply-layer error message.
type Reference struct {
	// Entity is the lowercased entity phrase, e.g. "view" or "source visual".
	Entity string
	// Value is the identifier that could not be found.
	Value string
	// Fields are the change fields that may hold Value, most specific first.
	// Empty when the entity is not in the table.
	Fields []string
}

var cannotFindPattern = regexp.MustCompile(`(?i)(?:cannot|could not|can't) find ([a-z][a-z ]*?)\s*:\s*['"]?([A-Za-z0-9_:.\-]+)`)

// entityFields maps entity phrases to the change fields that reference them.
var entityFields = map[string][]string{
	"element":        {"elementId", "id", "sourceId", "targetId"},
	"source element": {"sourceId"},
	"target element": {"targetId"},
	"source":         {"sourceId"},
	"target":         {"targetId"},
	"relationship":   {"relationshipId", "id"},
	"view":           {"viewId"},
	"visual":         {"visualId", "parentVisualId"},
	"source visual":  {"sourceVisualId"},
	"target visual":  {"targetVisualId"},
	"parent visual":  {"parentVisualId"},
	"folder":         {"folderId", "parentId"},
	"parent folder":  {"parentId"},
	"parent":         {"parentId", "parentVisualId"},
	"connection":     {"connectionId"},
	"note":           {"noteId", "id"},
	"group":          {"groupId", "id"},
}

// ParseReference extracts the entity and identifier from messages shaped
// like "deleteView: cannot find view: id-missing".
func ParseReference(msg string) (Reference, bool) {
	m := cannotFindPattern.FindStringSubmatch(msg)
	if m == nil {
		return Reference{}, false
	}
	entity := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
	ref := Reference{Entity: entity, Value: strings.TrimRight(m[2], "."), Fields: fieldsFor(entity)}
	return ref, ref.Value != ""
}

// fieldsFor looks the phrase up whole, then by its last word
// ("archimate element" resolves like "element").
func fieldsFor(entity string) []string {
	if f, ok := entityFields[entity]; ok {
		return f
	}
	words := strings.Fields(entity)
	if len(words) > 1 {
		if f, ok := entityFields[words[len(words)-1]]; ok {
			return f
		}
	}
	return nil
}
