package diagnosis

import (
	"fmt"

	"github.com/roach88/graphwriter/internal/model"
)

// Phase names the apply-layer execution phases the preflight models.
type Phase string

const (
	PhaseCreateElements Phase = "element creation"
	PhaseInOrder        Phase = "in-order"
	PhaseDeletes        Phase = "delete"
)

// Unresolved is a change that uses a temp id before it becomes available.
type Unresolved struct {
	Index      int
	Field      string
	TempID     string
	DeclaredBy int
	Phase      Phase
}

// Preflight replays the apply layer's phase ordering without touching the
// model:
//
//  1. every createElement registers its temp id
//  2. every other non-delete change runs in submission order; creators make
//     their temp id available as they run
//  3. delete-class changes run last
//
// A reference to a temp id that some change declares but that is not yet
// available at that point is reported. Phases are scanned in order, then
// changes in submission order; the first hit is returned.
//
// This is a static approximation of the apply layer. It is used to explain
// failures only.
func Preflight(changes []model.Change) (Unresolved, bool) {
	declared := make(map[string]int)
	for i, c := range changes {
		if id := c.TempID(); id != "" {
			if _, seen := declared[id]; !seen {
				declared[id] = i
			}
		}
	}
	if len(declared) == 0 {
		return Unresolved{}, false
	}

	available := make(map[string]bool, len(declared))
	for _, c := range changes {
		if c.IsElementCreator() {
			if id := c.TempID(); id != "" {
				available[id] = true
			}
		}
	}

	check := func(i int, c model.Change, phase Phase) (Unresolved, bool) {
		for _, ref := range c.References() {
			by, isTemp := declared[ref.Value]
			if isTemp && !available[ref.Value] {
				return Unresolved{Index: i, Field: ref.Field, TempID: ref.Value, DeclaredBy: by, Phase: phase}, true
			}
		}
		return Unresolved{}, false
	}

	for i, c := range changes {
		if c.IsElementCreator() || c.IsDelete() {
			continue
		}
		if u, ok := check(i, c, PhaseInOrder); ok {
			return u, true
		}
		if id := c.TempID(); id != "" {
			available[id] = true
		}
	}

	for i, c := range changes {
		if !c.IsDelete() {
			continue
		}
		if u, ok := check(i, c, PhaseDeletes); ok {
			return u, true
		}
	}

	return Unresolved{}, false
}

// Hint explains why the temp id is not available yet.
func (u Unresolved) Hint(changes []model.Change) string {
	declarer := changes[u.DeclaredBy]
	user := changes[u.Index]
	switch {
	case declarer.IsDelete():
		return fmt.Sprintf("tempId %q is declared by change #%d (%s), a delete-class change that runs after all other changes; change #%d (%s) cannot use it",
			u.TempID, u.DeclaredBy+1, declarer.Op(), u.Index+1, user.Op())
	case u.DeclaredBy > u.Index:
		return fmt.Sprintf("tempId %q is declared by change #%d (%s), which runs after change #%d (%s) in the %s phase; move the declaring change earlier",
			u.TempID, u.DeclaredBy+1, declarer.Op(), u.Index+1, user.Op(), u.Phase)
	default:
		return fmt.Sprintf("tempId %q is declared by change #%d (%s) but is not available when change #%d (%s) runs in the %s phase",
			u.TempID, u.DeclaredBy+1, declarer.Op(), u.Index+1, user.Op(), u.Phase)
	}
}
