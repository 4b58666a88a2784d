package model

import "strings"

// Change is one requested mutation inside a batch.
//
// Changes are kept as decoded JSON objects so that fields the queue does not
// know about pass through to the apply layer untouched. Every change carries
// an "op" naming its kind; creators may declare a "tempId" that later
// changes in the same batch use in place of the not-yet-assigned real id.
type Change map[string]any

// Well-known change fields.
const (
	FieldOp     = "op"
	FieldTempID = "tempId"
)

// Change kinds understood by the bundled apply layer and the preflight.
const (
	OpCreateElement       = "createElement"
	OpUpdateElement       = "updateElement"
	OpDeleteElement       = "deleteElement"
	OpCreateRelationship  = "createRelationship"
	OpUpdateRelationship  = "updateRelationship"
	OpDeleteRelationship  = "deleteRelationship"
	OpCreateFolder        = "createFolder"
	OpCreateView          = "createView"
	OpDeleteView          = "deleteView"
	OpAddToView           = "addToView"
	OpAddConnectionToView = "addConnectionToView"
	OpRemoveFromView      = "removeFromView"
	OpCreateNote          = "createNote"
	OpCreateGroup         = "createGroup"
	OpMoveToFolder        = "moveToFolder"
)

// ReferenceFields lists every change field that may hold the id (or temp id)
// of another graph entity. Order matters: diagnosis scans fields in this
// order when the failing entity kind is unknown.
var ReferenceFields = []string{
	"id",
	"elementId",
	"relationshipId",
	"sourceId",
	"targetId",
	"viewId",
	"visualId",
	"sourceVisualId",
	"targetVisualId",
	"parentId",
	"parentVisualId",
	"folderId",
	"connectionId",
	"noteId",
	"groupId",
}

// Op returns the change kind, or "" when absent or not a string.
func (c Change) Op() string {
	return c.String(FieldOp)
}

// TempID returns the temp identifier this change declares, if any.
func (c Change) TempID() string {
	return c.String(FieldTempID)
}

// String returns the named field when it holds a non-empty string.
func (c Change) String(field string) string {
	if c == nil {
		return ""
	}
	s, _ := c[field].(string)
	return s
}

// References returns (field, value) pairs for every populated reference
// field, in ReferenceFields order.
func (c Change) References() []Reference {
	var refs []Reference
	for _, f := range ReferenceFields {
		if v := c.String(f); v != "" {
			refs = append(refs, Reference{Field: f, Value: v})
		}
	}
	return refs
}

// Reference is one populated reference field of a change.
type Reference struct {
	Field string
	Value string
}

// IsDelete reports whether the change belongs to the delete class, which the
// apply layer executes after every other change.
func (c Change) IsDelete() bool {
	op := c.Op()
	return strings.HasPrefix(op, "delete") || strings.HasPrefix(op, "remove")
}

// IsElementCreator reports whether the change is executed in the first
// (element creation) phase.
func (c Change) IsElementCreator() bool {
	return c.Op() == OpCreateElement
}
