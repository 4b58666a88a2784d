package diagnosis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphwriter/internal/canonical"
	"github.com/roach88/graphwriter/internal/model"
)

func TestDiagnose_MissingViewGolden(t *testing.T) {
	changes := []model.Change{
		{"op": "createElement", "tempId": "t1"},
		{"op": "createRelationship", "sourceId": "t1", "targetId": "id-xyz"},
		{"op": "deleteView", "viewId": "id-missing"},
	}

	d := Diagnose(changes, errors.New("deleteView: cannot find view: id-missing"))

	require.NotNil(t, d.OpIndex)
	assert.Equal(t, 2, *d.OpIndex)
	assert.Equal(t, 3, *d.OpNumber)
	assert.Equal(t, "viewId", d.Field)
	assert.Equal(t, "id-missing", d.Reference)

	out, err := canonical.Marshal(d)
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "missing_view", out)
}

func TestDiagnose_FirstMatchingChangeWins(t *testing.T) {
	changes := []model.Change{
		{"op": "updateElement", "id": "e-1"},
		{"op": "addToView", "viewId": "v-1", "elementId": "e-9"},
		{"op": "addToView", "viewId": "v-2", "elementId": "e-9"},
	}

	d := Diagnose(changes, fmt.Errorf("batch failed: %w", errors.New("addToView: cannot find element: e-9")))

	require.NotNil(t, d.OpIndex)
	assert.Equal(t, 1, *d.OpIndex)
	assert.Equal(t, "elementId", d.Field)
	assert.Equal(t, "addToView", d.Op)
	assert.Equal(t, "changes[1]", d.Path)
	assert.Equal(t, model.CodeReferenceNotFound, d.Code)
}

func TestDiagnose_UnknownEntityScansAllFields(t *testing.T) {
	changes := []model.Change{
		{"op": "createElement", "tempId": "t1"},
		{"op": "moveToFolder", "id": "t1", "folderId": "f-404"},
	}

	d := Diagnose(changes, errors.New("moveToFolder: cannot find container: f-404"))

	require.NotNil(t, d.OpIndex)
	assert.Equal(t, 1, *d.OpIndex)
	assert.Equal(t, "folderId", d.Field)
}

func TestDiagnose_PatternWithoutMatchFallsThroughToPreflight(t *testing.T) {
	changes := []model.Change{
		{"op": "addToView", "viewId": "v-new", "elementId": "id-1"},
		{"op": "createView", "tempId": "v-new"},
	}

	d := Diagnose(changes, errors.New("cannot find element: somewhere-else"))

	assert.Equal(t, model.CodeUnresolvedTempID, d.Code)
	require.NotNil(t, d.OpIndex)
	assert.Equal(t, 0, *d.OpIndex)
	assert.Equal(t, "viewId", d.Field)
	assert.Equal(t, "v-new", d.Reference)
	assert.Contains(t, d.Hint, "change #2 (createView)")
}

func TestDiagnose_RawMessageFallback(t *testing.T) {
	changes := []model.Change{{"op": "createElement", "type": "business-actor"}}

	d := Diagnose(changes, errors.New("  database is locked  "))

	assert.Equal(t, "database is locked", d.Message)
	assert.Empty(t, d.Code)
	assert.Nil(t, d.OpIndex)
	assert.Nil(t, d.Change)
}

func TestDiagnose_NilError(t *testing.T) {
	d := Diagnose(nil, nil)
	assert.Equal(t, "unknown error", d.Message)
}

type coded struct{ msg string }

func (c coded) Error() string        { return "E42: " + c.msg }
func (c coded) ErrorMessage() string { return c.msg }

func TestMessage_PrefersErrorMessage(t *testing.T) {
	assert.Equal(t, "cannot find view: v1", Message(fmt.Errorf("wrap: %w", coded{msg: "cannot find view: v1"})))
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		msg    string
		entity string
		value  string
		field  string
		ok     bool
	}{
		{"deleteView: cannot find view: id-missing", "view", "id-missing", "viewId", true},
		{"addConnectionToView: cannot find source visual: vis-1", "source visual", "vis-1", "sourceVisualId", true},
		{"Could not find relationship: 'rel-7'.", "relationship", "rel-7", "relationshipId", true},
		{"createElement: cannot find parent folder: f-2", "parent folder", "f-2", "parentId", true},
		{"cannot find archimate element: e-3", "archimate element", "e-3", "elementId", true},
		{"cannot find widget: w-1", "widget", "w-1", "", true},
		{"something else entirely", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ref, ok := ParseReference(tt.msg)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.entity, ref.Entity)
			assert.Equal(t, tt.value, ref.Value)
			if tt.field == "" {
				assert.Empty(t, ref.Fields)
			} else {
				assert.Equal(t, tt.field, ref.Fields[0])
			}
		})
	}
}
