package model

import (
	"maps"
	"slices"
	"time"
)

// Status is an Operation's lifecycle state.
//
//	queued -> processing -> complete
//	                     -> error
//
// complete and error are terminal.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}


// Timeline event names.
const (
	EventQueued     = "queued"
	EventProcessing = "processing"
	EventComplete   = "complete"
	EventFailed     = "failed"
)

// TimelineEvent is one append-only lifecycle entry.
type TimelineEvent struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
	OpIndex *int      `json:"opIndex,omitempty"`
	Op      string    `json:"op,omitempty"`
}

// ErrorDetails explains a failed batch. Everything except Message is
// best-effort and may be empty.
type ErrorDetails struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	OpIndex   *int   `json:"opIndex,omitempty"`
	OpNumber  *int   `json:"opNumber,omitempty"`
	Path      string `json:"path,omitempty"`
	Op        string `json:"op,omitempty"`
	Field     string `json:"field,omitempty"`
	Reference string `json:"reference,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Change    Change `json:"change,omitempty"`
}

// RetryHint suggests a remediation for a failed batch.
type RetryHint struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	OpIndex *int   `json:"opIndex,omitempty"`
}

// TempIDMapping records the real id a temp id resolved to.
type TempIDMapping struct {
	TempID      string `json:"tempId"`
	RealID      string `json:"realId"`
	Op          string `json:"op"`
	ResultIndex int    `json:"resultIndex"`
}

// Operation is one submitted batch and everything known about its outcome.
type Operation struct {
	ID                string            `json:"id"`
	Changes           []Change          `json:"changes,omitempty"`
	ChangeCount       int               `json:"changeCount"`
	IdempotencyKey    string            `json:"idempotencyKey,omitempty"`
	DuplicateStrategy string            `json:"duplicateStrategy,omitempty"`
	Status            Status            `json:"status"`
	Result            []Result          `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	ErrorDetails      *ErrorDetails     `json:"errorDetails,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	StartedAt         *time.Time        `json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt"`
	Timeline          []TimelineEvent   `json:"timeline,omitempty"`
	TempIDMap         map[string]string `json:"tempIdMap,omitempty"`
	TempIDMappings    []TempIDMapping   `json:"tempIdMappings,omitempty"`
	Digest            *Digest           `json:"digest,omitempty"`
	RetryHints        []RetryHint       `json:"retryHints,omitempty"`

	// Seq orders operations created within the same instant.
	Seq int64 `json:"-"`
}

// Clone returns a copy that shares no mutable state with o. Changes and
// results are immutable once set and are shared.
func (o *Operation) Clone() Operation {
	c := *o
	c.Timeline = slices.Clone(o.Timeline)
	c.TempIDMap = maps.Clone(o.TempIDMap)
	c.TempIDMappings = slices.Clone(o.TempIDMappings)
	c.RetryHints = slices.Clone(o.RetryHints)
	if o.ErrorDetails != nil {
		d := *o.ErrorDetails
		c.ErrorDetails = &d
	}
	if o.Digest != nil {
		d := o.Digest.Clone()
		c.Digest = &d
	}
	return c
}

// Summary returns a copy without the heavy fields, for lightweight polling.
func (o *Operation) Summary() Operation {
	return Operation{
		ID:                o.ID,
		ChangeCount:       o.ChangeCount,
		IdempotencyKey:    o.IdempotencyKey,
		DuplicateStrategy: o.DuplicateStrategy,
		Status:            o.Status,
		Error:             o.Error,
		CreatedAt:         o.CreatedAt,
		StartedAt:         o.StartedAt,
		CompletedAt:       o.CompletedAt,
		Seq:               o.Seq,
	}
}

// Diagnosis codes carried in ErrorDetails.Code.
const (
	CodeReferenceNotFound = "REFERENCE_NOT_FOUND"
	CodeUnresolvedTempID  = "UNRESOLVED_TEMP_ID"
	CodeTimeout           = "OPERATION_TIMEOUT"
	CodeApplyPanic        = "APPLY_PANIC"
)
