// Package service orchestrates submissions: request validation,
// idempotency reservation and queueing with the reservation bound to the
// new operation.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
)

var (
	// ErrConflict is returned when a key is reused with a different payload.
	ErrConflict = errors.New("idempotency key reused with a different payload")

	// ErrInProgress is returned for a replay whose original submission has
	// not been bound to an operation yet.
	ErrInProgress = errors.New("original submission for idempotency key is still in progress")

	// ErrNotFound is returned by Status for unknown operation ids.
	ErrNotFound = errors.New("operation not found")
)

// ValidationError reports a malformed submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// SubmitRequest is one batch submission.
type SubmitRequest struct {
	Changes           []model.Change
	IdempotencyKey    string
	DuplicateStrategy string
}

// SubmitResult describes the operation a submission maps to. Replayed is
// true when an earlier submission under the same key is returned instead
// of a new operation.
type SubmitResult struct {
	OperationID    string       `json:"operationId"`
	Status         model.Status `json:"status"`
	Replayed       bool         `json:"replayed"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
}

// ReservationObserver is told the outcome of every idempotency reservation.
type ReservationObserver interface {
	Reservation(outcome idempotency.Outcome)
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithReservationObserver(o ReservationObserver) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// Service is safe for concurrent use.
type Service struct {
	queue    *queue.Queue
	registry *idempotency.Registry
	observer ReservationObserver
	logger   *slog.Logger
}

// New creates a Service. registry may be nil to disable deduplication.
func New(q *queue.Queue, registry *idempotency.Registry, opts ...Option) *Service {
	s := &Service{
		queue:    q,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req and queues it, or returns the operation an earlier
// identical submission under the same key created.
func (s *Service) Submit(req SubmitRequest) (SubmitResult, error) {
	if err := validate(req); err != nil {
		return SubmitResult{}, err
	}

	if s.registry == nil || !s.registry.Enabled() || req.IdempotencyKey == "" {
		return s.enqueue(req)
	}

	hash, err := idempotency.HashPayload(payload(req))
	if err != nil {
		return SubmitResult{}, err
	}
	res, err := s.registry.Reserve(req.IdempotencyKey, hash)
	if err != nil {
		return SubmitResult{}, &ValidationError{Field: "idempotencyKey", Message: err.Error()}
	}
	if s.observer != nil {
		s.observer.Reservation(res.Outcome)
	}

	switch res.Outcome {
	case idempotency.OutcomeConflict:
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrConflict, req.IdempotencyKey)
	case idempotency.OutcomeInProgress:
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrInProgress, req.IdempotencyKey)
	case idempotency.OutcomeReplay:
		return s.replay(res.Record)
	case idempotency.OutcomeDisabled:
		return s.enqueue(req)
	}

	// The key is bound before the operation is visible to the processor,
	// so its terminal status always reaches the record.
	var bound string
	result, err := s.enqueueBound(req, func(id string) error {
		if err := s.registry.AttachOperation(req.IdempotencyKey, id); err != nil {
			return fmt.Errorf("bind idempotency key: %w", err)
		}
		bound = id
		return nil
	})
	if err != nil {
		if !s.registry.Release(req.IdempotencyKey, hash, bound) {
			s.logger.Warn("idempotency reservation not released", "key", req.IdempotencyKey, "error", err)
		}
		return SubmitResult{}, err
	}
	return result, nil
}

func (s *Service) enqueue(req SubmitRequest) (SubmitResult, error) {
	return s.enqueueBound(req, nil)
}

func (s *Service) enqueueBound(req SubmitRequest, bind func(string) error) (SubmitResult, error) {
	id, err := s.queue.Submit(req.Changes, queue.SubmitMetadata{
		IdempotencyKey:    req.IdempotencyKey,
		DuplicateStrategy: req.DuplicateStrategy,
		Bind:              bind,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{OperationID: id, Status: model.StatusQueued, IdempotencyKey: req.IdempotencyKey}, nil
}

// replay reports the operation bound to rec. Its status comes from the
// queue while the operation is retained, from the record afterwards.
func (s *Service) replay(rec idempotency.Record) (SubmitResult, error) {
	result := SubmitResult{OperationID: rec.OperationID, Replayed: true, IdempotencyKey: rec.Key}
	if op, ok := s.queue.Status(rec.OperationID); ok {
		result.Status = op.Status
	} else {
		result.Status = recordStatus(rec.Status)
	}
	s.logger.Debug("idempotent replay", "key", rec.Key, "operation", rec.OperationID, "replayed", rec.ReplayedCount)
	return result, nil
}

// Status returns the operation with id.
func (s *Service) Status(id string) (model.Operation, error) {
	op, ok := s.queue.Status(id)
	if !ok {
		return model.Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op, nil
}

func validate(req SubmitRequest) error {
	if len(req.Changes) == 0 {
		return &ValidationError{Field: "changes", Message: "at least one change is required"}
	}
	for i, c := range req.Changes {
		if c.Op() == "" {
			return &ValidationError{Field: fmt.Sprintf("changes[%d].op", i), Message: "is required"}
		}
	}
	if !model.ValidDuplicateStrategy(req.DuplicateStrategy) {
		return &ValidationError{Field: "duplicateStrategy", Message: fmt.Sprintf("unknown strategy %q", req.DuplicateStrategy)}
	}
	if req.IdempotencyKey != "" {
		if err := idempotency.ValidateKey(req.IdempotencyKey); err != nil {
			return &ValidationError{Field: "idempotencyKey", Message: err.Error()}
		}
	}
	return nil
}

// payload is the request body as hashed for replay detection.
func payload(req SubmitRequest) map[string]any {
	changes := make([]any, len(req.Changes))
	for i, c := range req.Changes {
		changes[i] = map[string]any(c)
	}
	body := map[string]any{"changes": changes}
	if req.DuplicateStrategy != "" {
		body["duplicateStrategy"] = req.DuplicateStrategy
	}
	return body
}

func recordStatus(s idempotency.RecordStatus) model.Status {
	switch s {
	case idempotency.RecordComplete:
		return model.StatusComplete
	case idempotency.RecordError:
		return model.StatusError
	}
	return model.StatusQueued
}
