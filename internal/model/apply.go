package model

import "time"

// ModelRef names the graph a batch is applied to.
type ModelRef string

// Duplicate strategies for creators whose target already exists.
const (
	DuplicateError = "error"
	DuplicateSkip  = "skip"
	DuplicateReuse = "reuse"
)

// ValidDuplicateStrategy reports whether s is empty or a known strategy.
func ValidDuplicateStrategy(s string) bool {
	switch s {
	case "", DuplicateError, DuplicateSkip, DuplicateReuse:
		return true
	}
	return false
}

// ApplyOptions carries per-batch settings to the apply layer.
type ApplyOptions struct {
	OperationID       string
	DuplicateStrategy string
}

// Notification announces a committed mutation of a graph.
type Notification struct {
	ModelRef ModelRef  `json:"modelRef"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}
