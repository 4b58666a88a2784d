package graph

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/graphwriter/internal/digest"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/store"
)

// ReasonDuplicate is the reason code of creators skipped under the "skip"
// duplicate strategy.
const ReasonDuplicate = "duplicate"

// Skip reasons for addConnectionToView.
const (
	reasonNoSourceVisual   = "source element has no visual in view"
	reasonNoTargetVisual   = "target element has no visual in view"
	reasonAlreadyConnected = "relationship already connected in view"
)

// Default size of a new visual.
const (
	defaultVisualWidth  = 120
	defaultVisualHeight = 55
)

type handler func(b *batch, c model.Change) (model.Result, error)

var handlers = map[string]handler{
	model.OpCreateElement:       createElement,
	model.OpUpdateElement:       updateElement,
	model.OpDeleteElement:       deleteElement,
	model.OpCreateRelationship:  createRelationship,
	model.OpUpdateRelationship:  updateRelationship,
	model.OpDeleteRelationship:  deleteRelationship,
	model.OpCreateFolder:        createFolder,
	model.OpCreateView:          createView,
	model.OpDeleteView:          deleteView,
	model.OpAddToView:           addToView,
	model.OpAddConnectionToView: addConnectionToView,
	model.OpRemoveFromView:      removeFromView,
	model.OpCreateNote:          createNote,
	model.OpCreateGroup:         createGroup,
	model.OpMoveToFolder:        moveToFolder,
}

func createElement(b *batch, c model.Change) (model.Result, error) {
	typ, name, err := requireStrings(c, "type", "name")
	if err != nil {
		return model.Result{}, err
	}
	folder, err := b.ref(c, "folderId", store.KindFolder, "folder", false)
	if err != nil {
		return model.Result{}, err
	}
	props, err := properties(c)
	if err != nil {
		return model.Result{}, err
	}

	if b.strategy != "" {
		existing, found, err := b.tx.FindElement(b.ctx, typ, name)
		if err != nil {
			return model.Result{}, err
		}
		if found {
			return b.duplicate(c, existing, fmt.Sprintf("%s %q", typ, name), setRealID)
		}
	}

	id := b.newID()
	err = b.tx.InsertElement(b.ctx, store.Element{
		ID:            id,
		Type:          typ,
		Name:          name,
		Documentation: c.String("documentation"),
		Properties:    props,
		FolderID:      folder,
	})
	if err != nil {
		return model.Result{}, err
	}
	b.bind(c, id)
	return model.Result{RealID: id}, nil
}

func updateElement(b *batch, c model.Change) (model.Result, error) {
	id, err := b.ref(c, "id", store.KindElement, "element", true)
	if err != nil {
		return model.Result{}, err
	}
	props, err := properties(c)
	if err != nil {
		return model.Result{}, err
	}
	err = b.tx.UpdateElement(b.ctx, id, store.ElementUpdate{
		Name:          optionalString(c, "name"),
		Documentation: optionalString(c, "documentation"),
		Properties:    props,
	})
	if err != nil {
		return model.Result{}, err
	}
	return model.Result{RealID: id}, nil
}

func deleteElement(b *batch, c model.Change) (model.Result, error) {
	return deleteRef(b, c, "id", store.KindElement, "element")
}

func createRelationship(b *batch, c model.Change) (model.Result, error) {
	typ, err := requireString(c, "type")
	if err != nil {
		return model.Result{}, err
	}
	source, err := b.ref(c, "sourceId", store.KindElement, "source element", true)
	if err != nil {
		return model.Result{}, err
	}
	target, err := b.ref(c, "targetId", store.KindElement, "target element", true)
	if err != nil {
		return model.Result{}, err
	}

	if b.strategy != "" {
		existing, found, err := b.tx.FindRelationship(b.ctx, typ, source, target)
		if err != nil {
			return model.Result{}, err
		}
		if found {
			return b.duplicate(c, existing, fmt.Sprintf("%s relationship %s -> %s", typ, source, target), setRealID)
		}
	}

	id := b.newID()
	err = b.tx.InsertRelationship(b.ctx, store.Relationship{
		ID:            id,
		Type:          typ,
		Name:          c.String("name"),
		Documentation: c.String("documentation"),
		SourceID:      source,
		TargetID:      target,
	})
	if err != nil {
		return model.Result{}, err
	}
	b.bind(c, id)
	return model.Result{RealID: id}, nil
}

func updateRelationship(b *batch, c model.Change) (model.Result, error) {
	id, err := b.ref(c, "id", store.KindRelationship, "relationship", true)
	if err != nil {
		return model.Result{}, err
	}
	if err := b.tx.UpdateRelationship(b.ctx, id, optionalString(c, "name"), optionalString(c, "documentation")); err != nil {
		return model.Result{}, err
	}
	return model.Result{RealID: id}, nil
}

func deleteRelationship(b *batch, c model.Change) (model.Result, error) {
	return deleteRef(b, c, "id", store.KindRelationship, "relationship")
}

func createFolder(b *batch, c model.Change) (model.Result, error) {
	name, err := requireString(c, "name")
	if err != nil {
		return model.Result{}, err
	}
	parent, err := b.ref(c, "parentId", store.KindFolder, "parent folder", false)
	if err != nil {
		return model.Result{}, err
	}
	id := b.newID()
	if err := b.tx.InsertFolder(b.ctx, store.Folder{ID: id, Name: name, ParentID: parent}); err != nil {
		return model.Result{}, err
	}
	b.bind(c, id)
	return model.Result{FolderID: id}, nil
}

func createView(b *batch, c model.Change) (model.Result, error) {
	name, err := requireString(c, "name")
	if err != nil {
		return model.Result{}, err
	}
	folder, err := b.ref(c, "folderId", store.KindFolder, "folder", false)
	if err != nil {
		return model.Result{}, err
	}
	id := b.newID()
	if err := b.tx.InsertView(b.ctx, store.View{ID: id, Name: name, FolderID: folder}); err != nil {
		return model.Result{}, err
	}
	b.bind(c, id)
	return model.Result{ViewID: id}, nil
}

func deleteView(b *batch, c model.Change) (model.Result, error) {
	return deleteRef(b, c, "viewId", store.KindView, "view")
}

func addToView(b *batch, c model.Change) (model.Result, error) {
	view, err := b.ref(c, "viewId", store.KindView, "view", true)
	if err != nil {
		return model.Result{}, err
	}
	element, err := b.ref(c, "elementId", store.KindElement, "element", true)
	if err != nil {
		return model.Result{}, err
	}
	parent, err := b.ref(c, "parentVisualId", store.KindVisual, "parent visual", false)
	if err != nil {
		return model.Result{}, err
	}

	if b.strategy != "" {
		existing, found, err := b.tx.FindElementVisual(b.ctx, view, element)
		if err != nil {
			return model.Result{}, err
		}
		if found {
			return b.duplicate(c, existing, "visual of element "+element, setVisualID)
		}
	}

	v, err := visual(c, view, store.VisualElement, parent)
	if err != nil {
		return model.Result{}, err
	}
	v.ElementID = element
	if err := b.tx.InsertVisual(b.ctx, v); err != nil {
		return model.Result{}, err
	}
	b.bind(c, v.ID)
	return model.Result{VisualID: v.ID}, nil
}

// addConnectionToView draws a relationship between visuals of its
// endpoints. Without explicit visual ids the first visual of each endpoint
// on the view is used; a missing one skips the change instead of failing.
func addConnectionToView(b *batch, c model.Change) (model.Result, error) {
	view, err := b.ref(c, "viewId", store.KindView, "view", true)
	if err != nil {
		return model.Result{}, err
	}
	relID, err := b.ref(c, "relationshipId", store.KindRelationship, "relationship", true)
	if err != nil {
		return model.Result{}, err
	}
	rel, err := b.tx.Relationship(b.ctx, relID)
	if err != nil {
		return model.Result{}, err
	}

	if existing, found, err := b.tx.FindConnection(b.ctx, view, relID); err != nil {
		return model.Result{}, err
	} else if found {
		b.bind(c, existing)
		return model.Result{
			ConnectionID: existing,
			Skipped:      true,
			Reason:       reasonAlreadyConnected,
			ReasonCode:   digest.ReasonAlreadyConnected,
		}, nil
	}

	source, skip, err := endpointVisual(b, c, "sourceVisualId", "source visual", view, rel.SourceID)
	if err != nil || skip {
		return model.Result{Skipped: skip, Reason: reasonNoSourceVisual, ReasonCode: digest.ReasonMissingSourceVisual}, err
	}
	target, skip, err := endpointVisual(b, c, "targetVisualId", "target visual", view, rel.TargetID)
	if err != nil || skip {
		return model.Result{Skipped: skip, Reason: reasonNoTargetVisual, ReasonCode: digest.ReasonMissingTargetVisual}, err
	}

	id := b.newID()
	err = b.tx.InsertConnection(b.ctx, store.Connection{
		ID:             id,
		ViewID:         view,
		RelationshipID: relID,
		SourceVisualID: source,
		TargetVisualID: target,
	})
	if err != nil {
		return model.Result{}, err
	}
	b.bind(c, id)
	return model.Result{ConnectionID: id}, nil
}

// endpointVisual returns the visual to attach one end of a connection to.
// skip is true when no visual of the endpoint element exists on the view.
func endpointVisual(b *batch, c model.Change, field, entity, view, elementID string) (string, bool, error) {
	if c.String(field) != "" {
		id, err := b.ref(c, field, store.KindVisual, entity, true)
		if err != nil {
			return "", false, err
		}
		owner, err := b.tx.VisualView(b.ctx, id)
		if err != nil {
			return "", false, err
		}
		if owner != view {
			return "", false, fmt.Errorf("%s %s is not on view %s", entity, c.String(field), c.String("viewId"))
		}
		return id, false, nil
	}
	id, found, err := b.tx.FindElementVisual(b.ctx, view, elementID)
	if err != nil {
		return "", false, err
	}
	return id, !found, nil
}

func removeFromView(b *batch, c model.Change) (model.Result, error) {
	return deleteRef(b, c, "visualId", store.KindVisual, "visual")
}

func createNote(b *batch, c model.Change) (model.Result, error) {
	view, err := b.ref(c, "viewId", store.KindView, "view", true)
	if err != nil {
		return model.Result{}, err
	}
	parent, err := b.ref(c, "parentVisualId", store.KindVisual, "parent visual", false)
	if err != nil {
		return model.Result{}, err
	}
	v, err := visual(c, view, store.VisualNote, parent)
	if err != nil {
		return model.Result{}, err
	}
	v.Label = c.String("content")
	if err := b.tx.InsertVisual(b.ctx, v); err != nil {
		return model.Result{}, err
	}
	b.bind(c, v.ID)
	return model.Result{NoteID: v.ID}, nil
}

func createGroup(b *batch, c model.Change) (model.Result, error) {
	view, err := b.ref(c, "viewId", store.KindView, "view", true)
	if err != nil {
		return model.Result{}, err
	}
	name, err := requireString(c, "name")
	if err != nil {
		return model.Result{}, err
	}
	parent, err := b.ref(c, "parentVisualId", store.KindVisual, "parent visual", false)
	if err != nil {
		return model.Result{}, err
	}
	v, err := visual(c, view, store.VisualGroup, parent)
	if err != nil {
		return model.Result{}, err
	}
	v.Label = name
	if err := b.tx.InsertVisual(b.ctx, v); err != nil {
		return model.Result{}, err
	}
	b.bind(c, v.ID)
	return model.Result{GroupID: v.ID}, nil
}

// moveToFolder re-parents an element, view or folder; the kind is taken
// from whichever table holds id.
func moveToFolder(b *batch, c model.Change) (model.Result, error) {
	folder, err := b.ref(c, "folderId", store.KindFolder, "folder", true)
	if err != nil {
		return model.Result{}, err
	}

	var lastErr error
	for _, kind := range []store.Kind{store.KindElement, store.KindView, store.KindFolder} {
		id, err := b.ref(c, "id", kind, string(kind), true)
		if err != nil {
			lastErr = err
			if IsNotFound(err) {
				continue
			}
			return model.Result{}, err
		}
		if kind == store.KindFolder && id == folder {
			return model.Result{}, fmt.Errorf("folder %s cannot contain itself", c.String("id"))
		}
		if err := b.tx.MoveToFolder(b.ctx, kind, id, folder); err != nil {
			return model.Result{}, err
		}
		return model.Result{RealID: id}, nil
	}
	if IsNotFound(lastErr) {
		return model.Result{}, &NotFoundError{Entity: "element", ID: c.String("id")}
	}
	return model.Result{}, lastErr
}

func deleteRef(b *batch, c model.Change, field string, kind store.Kind, entity string) (model.Result, error) {
	id, err := b.ref(c, field, kind, entity, true)
	if err != nil {
		return model.Result{}, err
	}
	if _, err := b.tx.Delete(b.ctx, kind, id); err != nil {
		return model.Result{}, err
	}
	return model.Result{}, nil
}

func visual(c model.Change, view, kind, parent string) (store.Visual, error) {
	v := store.Visual{ViewID: view, Kind: kind, ParentVisualID: parent}
	var err error
	for _, f := range []struct {
		name string
		dst  *int
		def  int
	}{
		{"x", &v.X, 0},
		{"y", &v.Y, 0},
		{"width", &v.Width, defaultVisualWidth},
		{"height", &v.Height, defaultVisualHeight},
	} {
		if *f.dst, err = intField(c, f.name, f.def); err != nil {
			return store.Visual{}, err
		}
	}
	return v, nil
}

func setRealID(r *model.Result, id string) { r.RealID = id }
func setVisualID(r *model.Result, id string) { r.VisualID = id }

func requireString(c model.Change, field string) (string, error) {
	s := c.String(field)
	if s == "" {
		return "", fmt.Errorf("missing %q field", field)
	}
	return s, nil
}

func requireStrings(c model.Change, a, b string) (string, string, error) {
	x, err := requireString(c, a)
	if err != nil {
		return "", "", err
	}
	y, err := requireString(c, b)
	return x, y, err
}

// optionalString returns nil when field is absent and a pointer to its
// value otherwise, so updates can tell "unset" from "set to empty".
func optionalString(c model.Change, field string) *string {
	v, ok := c[field]
	if !ok {
		return nil
	}
	s, _ := v.(string)
	return &s
}

func properties(c model.Change) (map[string]any, error) {
	v, ok := c["properties"]
	if !ok || v == nil {
		return nil, nil
	}
	props, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field \"properties\" must be an object")
	}
	return props, nil
}

// intField reads a numeric field as decoded from JSON or YAML.
func intField(c model.Change, field string, def int) (int, error) {
	switch v := c[field].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field %q must be an integer", field)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q must be an integer", field)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("field %q must be a number", field)
}
