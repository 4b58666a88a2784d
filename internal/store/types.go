package store

// Kind identifies an entity table.
type Kind string

const (
	KindFolder       Kind = "folder"
	KindElement      Kind = "element"
	KindRelationship Kind = "relationship"
	KindView         Kind = "view"
	KindVisual       Kind = "visual"
	KindNote         Kind = "note"
	KindGroup        Kind = "group"
	KindConnection   Kind = "connection"
)

// Visual kinds stored in visuals.kind.
const (
	VisualElement = "element"
	VisualNote    = "note"
	VisualGroup   = "group"
)

// table returns the table and optional visuals.kind filter for k.
func (k Kind) table() (string, string, bool) {
	switch k {
	case KindFolder:
		return "folders", "", true
	case KindElement:
		return "elements", "", true
	case KindRelationship:
		return "relationships", "", true
	case KindView:
		return "views", "", true
	case KindVisual:
		return "visuals", "", true
	case KindNote:
		return "visuals", VisualNote, true
	case KindGroup:
		return "visuals", VisualGroup, true
	case KindConnection:
		return "connections", "", true
	}
	return "", "", false
}

type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

type Element struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Documentation string         `json:"documentation,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	FolderID      string         `json:"folderId,omitempty"`
}

type Relationship struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Name          string `json:"name,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	SourceID      string `json:"sourceId"`
	TargetID      string `json:"targetId"`
}

type View struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FolderID string `json:"folderId,omitempty"`
}

// Visual is a node on a view. ElementID is set for element visuals only.
type Visual struct {
	ID             string `json:"id"`
	ViewID         string `json:"viewId"`
	Kind           string `json:"kind"`
	ElementID      string `json:"elementId,omitempty"`
	ParentVisualID string `json:"parentVisualId,omitempty"`
	Label          string `json:"label,omitempty"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type Connection struct {
	ID             string `json:"id"`
	ViewID         string `json:"viewId"`
	RelationshipID string `json:"relationshipId"`
	SourceVisualID string `json:"sourceVisualId"`
	TargetVisualID string `json:"targetVisualId"`
}

// Snapshot is a consistent read of one model.
type Snapshot struct {
	ModelRef      string         `json:"modelRef"`
	Folders       []Folder       `json:"folders"`
	Elements      []Element      `json:"elements"`
	Relationships []Relationship `json:"relationships"`
	Views         []View         `json:"views"`
	Visuals       []Visual       `json:"visuals"`
	Connections   []Connection   `json:"connections"`
}
