package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx is a write transaction scoped to one model. Not safe for concurrent
// use.
type Tx struct {
	tx  *sql.Tx
	ref string
}

// Commit makes every write in the transaction visible.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction
// is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Exists reports whether an entity of kind k with id belongs to the model.
func (t *Tx) Exists(ctx context.Context, k Kind, id string) (bool, error) {
	table, visualKind, ok := k.table()
	if !ok {
		return false, fmt.Errorf("unknown kind %q", k)
	}
	query := "SELECT 1 FROM " + table + " WHERE id = ? AND model_ref = ?"
	args := []any{id, t.ref}
	if visualKind != "" {
		query += " AND kind = ?"
		args = append(args, visualKind)
	}
	var one int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", k, id, err)
	}
	return true, nil
}

// Delete removes an entity and, through cascades, its dependents.
func (t *Tx) Delete(ctx context.Context, k Kind, id string) (bool, error) {
	table, visualKind, ok := k.table()
	if !ok {
		return false, fmt.Errorf("unknown kind %q", k)
	}
	query := "DELETE FROM " + table + " WHERE id = ? AND model_ref = ?"
	args := []any{id, t.ref}
	if visualKind != "" {
		query += " AND kind = ?"
		args = append(args, visualKind)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", k, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", k, id, err)
	}
	return n > 0, nil
}

func (t *Tx) InsertFolder(ctx context.Context, f Folder) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO folders (id, model_ref, name, parent_id) VALUES (?, ?, ?, ?)`,
		f.ID, t.ref, f.Name, nullable(f.ParentID))
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (t *Tx) InsertElement(ctx context.Context, e Element) error {
	props, err := marshalProperties(e.Properties)
	if err != nil {
		return fmt.Errorf("insert element: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO elements (id, model_ref, type, name, documentation, properties, folder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, t.ref, e.Type, e.Name, e.Documentation, props, nullable(e.FolderID))
	if err != nil {
		return fmt.Errorf("insert element: %w", err)
	}
	return nil
}

func (t *Tx) InsertRelationship(ctx context.Context, r Relationship) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO relationships (id, model_ref, type, name, documentation, source_id, target_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, t.ref, r.Type, r.Name, r.Documentation, r.SourceID, r.TargetID)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

func (t *Tx) InsertView(ctx context.Context, v View) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO views (id, model_ref, name, folder_id) VALUES (?, ?, ?, ?)`,
		v.ID, t.ref, v.Name, nullable(v.FolderID))
	if err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	return nil
}

func (t *Tx) InsertVisual(ctx context.Context, v Visual) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO visuals (id, model_ref, view_id, kind, element_id, parent_visual_id, label, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, t.ref, v.ViewID, v.Kind, nullable(v.ElementID), nullable(v.ParentVisualID), v.Label, v.X, v.Y, v.Width, v.Height)
	if err != nil {
		return fmt.Errorf("insert visual: %w", err)
	}
	return nil
}

func (t *Tx) InsertConnection(ctx context.Context, c Connection) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO connections (id, model_ref, view_id, relationship_id, source_visual_id, target_visual_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, t.ref, c.ViewID, c.RelationshipID, c.SourceVisualID, c.TargetVisualID)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// FindElement returns the id of the first element with the given type and
// name.
func (t *Tx) FindElement(ctx context.Context, typ, name string) (string, bool, error) {
	return t.findID(ctx, "find element", `
		SELECT id FROM elements WHERE model_ref = ? AND type = ? AND name = ?
		ORDER BY rowid LIMIT 1
	`, t.ref, typ, name)
}

// FindRelationship returns the id of the first relationship with the given
// type and endpoints.
func (t *Tx) FindRelationship(ctx context.Context, typ, sourceID, targetID string) (string, bool, error) {
	return t.findID(ctx, "find relationship", `
		SELECT id FROM relationships WHERE model_ref = ? AND type = ? AND source_id = ? AND target_id = ?
		ORDER BY rowid LIMIT 1
	`, t.ref, typ, sourceID, targetID)
}

// FindElementVisual returns the first visual of elementID on viewID.
func (t *Tx) FindElementVisual(ctx context.Context, viewID, elementID string) (string, bool, error) {
	return t.findID(ctx, "find element visual", `
		SELECT id FROM visuals WHERE model_ref = ? AND view_id = ? AND element_id = ?
		ORDER BY rowid LIMIT 1
	`, t.ref, viewID, elementID)
}

// FindConnection returns the connection drawing relationshipID on viewID.
func (t *Tx) FindConnection(ctx context.Context, viewID, relationshipID string) (string, bool, error) {
	return t.findID(ctx, "find connection", `
		SELECT id FROM connections WHERE model_ref = ? AND view_id = ? AND relationship_id = ?
		ORDER BY rowid LIMIT 1
	`, t.ref, viewID, relationshipID)
}

// Relationship loads one relationship.
func (t *Tx) Relationship(ctx context.Context, id string) (Relationship, error) {
	var r Relationship
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, type, name, documentation, source_id, target_id
		FROM relationships WHERE id = ? AND model_ref = ?
	`, id, t.ref).Scan(&r.ID, &r.Type, &r.Name, &r.Documentation, &r.SourceID, &r.TargetID)
	if err != nil {
		return Relationship{}, fmt.Errorf("load relationship %s: %w", id, err)
	}
	return r, nil
}

// VisualView returns the view a visual belongs to.
func (t *Tx) VisualView(ctx context.Context, visualID string) (string, error) {
	var viewID string
	err := t.tx.QueryRowContext(ctx,
		`SELECT view_id FROM visuals WHERE id = ? AND model_ref = ?`, visualID, t.ref).Scan(&viewID)
	if err != nil {
		return "", fmt.Errorf("load visual %s: %w", visualID, err)
	}
	return viewID, nil
}

// ElementUpdate holds the fields an update may change. Nil fields are kept.
type ElementUpdate struct {
	Name          *string
	Documentation *string
	Properties    map[string]any
}

func (t *Tx) UpdateElement(ctx context.Context, id string, u ElementUpdate) error {
	if u.Name != nil {
		if err := t.exec(ctx, "update element", `UPDATE elements SET name = ? WHERE id = ? AND model_ref = ?`, *u.Name, id, t.ref); err != nil {
			return err
		}
	}
	if u.Documentation != nil {
		if err := t.exec(ctx, "update element", `UPDATE elements SET documentation = ? WHERE id = ? AND model_ref = ?`, *u.Documentation, id, t.ref); err != nil {
			return err
		}
	}
	if u.Properties != nil {
		props, err := marshalProperties(u.Properties)
		if err != nil {
			return fmt.Errorf("update element: %w", err)
		}
		if err := t.exec(ctx, "update element", `UPDATE elements SET properties = ? WHERE id = ? AND model_ref = ?`, props, id, t.ref); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) UpdateRelationship(ctx context.Context, id string, name, documentation *string) error {
	if name != nil {
		if err := t.exec(ctx, "update relationship", `UPDATE relationships SET name = ? WHERE id = ? AND model_ref = ?`, *name, id, t.ref); err != nil {
			return err
		}
	}
	if documentation != nil {
		if err := t.exec(ctx, "update relationship", `UPDATE relationships SET documentation = ? WHERE id = ? AND model_ref = ?`, *documentation, id, t.ref); err != nil {
			return err
		}
	}
	return nil
}

// MoveToFolder re-parents an element, view or folder.
func (t *Tx) MoveToFolder(ctx context.Context, k Kind, id, folderID string) error {
	var query string
	switch k {
	case KindElement:
		query = `UPDATE elements SET folder_id = ? WHERE id = ? AND model_ref = ?`
	case KindView:
		query = `UPDATE views SET folder_id = ? WHERE id = ? AND model_ref = ?`
	case KindFolder:
		query = `UPDATE folders SET parent_id = ? WHERE id = ? AND model_ref = ?`
	default:
		return fmt.Errorf("move to folder: %s cannot be moved", k)
	}
	return t.exec(ctx, "move to folder", query, nullable(folderID), id, t.ref)
}

func (t *Tx) findID(ctx context.Context, what, query string, args ...any) (string, bool, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", what, err)
	}
	return id, true, nil
}

func (t *Tx) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// nullable maps "" to SQL NULL for optional foreign keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
