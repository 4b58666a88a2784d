// Package diagnosis attributes a failed batch to the change that most likely
// caused it.
//
// The apply layer reports a failure as a single error for the whole batch.
// Diagnose enriches that error with the offending change's position, the
// field and reference that could not be resolved, and a hint. The result is
// best-effort context for the caller; it never influences how batches are
// applied.
//
// Strategy, first match wins:
//  1. Parse "cannot find <entity>: <id>" out of the error message and find
//     the first change whose matching reference field holds <id>.
//  2. Replay the apply layer's execution phases statically (preflight) and
//     report the first temp id that is used before it is available.
//  3. Fall back to the raw message.
package diagnosis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/graphwriter/internal/model"
)

// Diagnose explains err in terms of the batch's changes.
func Diagnose(changes []model.Change, err error) model.ErrorDetails {
	d := model.ErrorDetails{Message: Message(err)}

	if ref, ok := ParseReference(d.Message); ok {
		if idx, field, found := findReference(changes, ref); found {
			d.Code = model.CodeReferenceNotFound
			d.Field = field
			d.Reference = ref.Value
			d.Hint = fmt.Sprintf("%s %q was not found in the model and is not created by an earlier change in this batch",
				ref.Entity, ref.Value)
			locate(&d, changes, idx)
			return d
		}
	}

	if u, ok := Preflight(changes); ok {
		d.Code = model.CodeUnresolvedTempID
		d.Field = u.Field
		d.Reference = u.TempID
		d.Hint = u.Hint(changes)
		locate(&d, changes, u.Index)
		return d
	}

	return d
}

// Message extracts a human-readable message from err.
func Message(err error) string {
	if err == nil {
		return "unknown error"
	}
	var msg string
	var coder interface{ ErrorMessage() string }
	if errors.As(err, &coder) {
		msg = coder.ErrorMessage()
	} else {
		msg = err.Error()
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// locate fills the positional fields for the change at idx.
func locate(d *model.ErrorDetails, changes []model.Change, idx int) {
	index := idx
	number := idx + 1
	d.OpIndex = &index
	d.OpNumber = &number
	d.Path = fmt.Sprintf("changes[%d]", idx)
	d.Op = changes[idx].Op()
	d.Change = changes[idx]
}

// findReference scans changes in submission order for one whose matching
// field equals ref.Value. When the entity has no known field every
// reference field is considered.
func findReference(changes []model.Change, ref Reference) (int, string, bool) {
	fields := ref.Fields
	if len(fields) == 0 {
		fields = model.ReferenceFields
	}
	for i, c := range changes {
		for _, f := range fields {
			if c.String(f) == ref.Value {
				return i, f, true
			}
		}
	}
	return 0, "", false
}
