package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Snapshot reads every entity of a model inside one read transaction.
// Slices are empty (not nil) when the model has no entities of a kind.
func (s *Store) Snapshot(ctx context.Context, modelRef string) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := Snapshot{ModelRef: modelRef}
	if snap.Folders, err = readFolders(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	if snap.Elements, err = readElements(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	if snap.Relationships, err = readRelationships(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	if snap.Views, err = readViews(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	if snap.Visuals, err = readVisuals(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	if snap.Connections, err = readConnections(ctx, tx, modelRef); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// readRows runs query and scans each row with scan. Rows are returned in
// insertion order.
func readRows[T any](ctx context.Context, tx *sql.Tx, what, query, modelRef string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := tx.QueryContext(ctx, query, modelRef)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

func readFolders(ctx context.Context, tx *sql.Tx, ref string) ([]Folder, error) {
	return readRows(ctx, tx, "folders",
		`SELECT id, name, parent_id FROM folders WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (Folder, error) {
			var f Folder
			var parent sql.NullString
			err := rows.Scan(&f.ID, &f.Name, &parent)
			f.ParentID = parent.String
			return f, err
		})
}

func readElements(ctx context.Context, tx *sql.Tx, ref string) ([]Element, error) {
	return readRows(ctx, tx, "elements",
		`SELECT id, type, name, documentation, properties, folder_id FROM elements WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (Element, error) {
			var (
				e      Element
				props  string
				folder sql.NullString
			)
			if err := rows.Scan(&e.ID, &e.Type, &e.Name, &e.Documentation, &props, &folder); err != nil {
				return Element{}, err
			}
			e.FolderID = folder.String
			p, err := unmarshalProperties(props)
			if err != nil {
				return Element{}, err
			}
			if len(p) > 0 {
				e.Properties = p
			}
			return e, nil
		})
}

func readRelationships(ctx context.Context, tx *sql.Tx, ref string) ([]Relationship, error) {
	return readRows(ctx, tx, "relationships",
		`SELECT id, type, name, documentation, source_id, target_id FROM relationships WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (Relationship, error) {
			var r Relationship
			err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Documentation, &r.SourceID, &r.TargetID)
			return r, err
		})
}

func readViews(ctx context.Context, tx *sql.Tx, ref string) ([]View, error) {
	return readRows(ctx, tx, "views",
		`SELECT id, name, folder_id FROM views WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (View, error) {
			var v View
			var folder sql.NullString
			err := rows.Scan(&v.ID, &v.Name, &folder)
			v.FolderID = folder.String
			return v, err
		})
}

func readVisuals(ctx context.Context, tx *sql.Tx, ref string) ([]Visual, error) {
	return readRows(ctx, tx, "visuals", `
		SELECT id, view_id, kind, element_id, parent_visual_id, label, x, y, width, height
		FROM visuals WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (Visual, error) {
			var (
				v       Visual
				element sql.NullString
				parent  sql.NullString
			)
			err := rows.Scan(&v.ID, &v.ViewID, &v.Kind, &element, &parent, &v.Label, &v.X, &v.Y, &v.Width, &v.Height)
			v.ElementID = element.String
			v.ParentVisualID = parent.String
			return v, err
		})
}

func readConnections(ctx context.Context, tx *sql.Tx, ref string) ([]Connection, error) {
	return readRows(ctx, tx, "connections", `
		SELECT id, view_id, relationship_id, source_visual_id, target_visual_id
		FROM connections WHERE model_ref = ? ORDER BY rowid`, ref,
		func(rows *sql.Rows) (Connection, error) {
			var c Connection
			err := rows.Scan(&c.ID, &c.ViewID, &c.RelationshipID, &c.SourceVisualID, &c.TargetVisualID)
			return c, err
		})
}
