package digest

import (
	"fmt"

	"github.com/roach88/graphwriter/internal/model"
)

// Retry hint actions.
const (
	ActionFixReference    = "fixReference"
	ActionReorderChanges  = "reorderChanges"
	ActionCheckModelState = "checkModelState"
	ActionRetrySameKey    = "retryWithSameKey"
	ActionInspectError    = "inspectError"
)

// RetryHints suggests remediation for a failed operation. It returns nil
// for anything other than an error status.
func RetryHints(op *model.Operation) []model.RetryHint {
	if op.Status != model.StatusError {
		return nil
	}
	d := op.ErrorDetails
	if d == nil {
		d = &model.ErrorDetails{Message: op.Error}
	}

	var hints []model.RetryHint
	switch d.Code {
	case model.CodeReferenceNotFound:
		hints = append(hints, model.RetryHint{
			Action: ActionFixReference,
			Message: fmt.Sprintf("%s %q does not exist; create it earlier in the batch or correct the reference",
				fieldOrReference(d.Field), d.Reference),
			OpIndex: d.OpIndex,
		})
	case model.CodeUnresolvedTempID:
		hints = append(hints, model.RetryHint{
			Action:  ActionReorderChanges,
			Message: fmt.Sprintf("temp id %q is not available when change %s runs; split the batch or reference an existing id", d.Reference, opNumberText(d)),
			OpIndex: d.OpIndex,
		})
	case model.CodeTimeout:
		hints = append(hints, model.RetryHint{
			Action:  ActionCheckModelState,
			Message: "the batch exceeded the processing timeout; read the model snapshot before resubmitting",
		})
	default:
		hints = append(hints, model.RetryHint{
			Action:  ActionInspectError,
			Message: "inspect errorDetails and resubmit a corrected batch",
			OpIndex: d.OpIndex,
		})
	}

	if op.IdempotencyKey != "" {
		hints = append(hints, model.RetryHint{
			Action:  ActionRetrySameKey,
			Message: "a corrected batch needs a new idempotency key; the current key replays this failed operation",
		})
	}
	return hints
}

func fieldOrReference(field string) string {
	if field == "" {
		return "reference"
	}
	return field
}

func opNumberText(d *model.ErrorDetails) string {
	if d.OpNumber == nil {
		return "?"
	}
	return fmt.Sprintf("#%d", *d.OpNumber)
}
