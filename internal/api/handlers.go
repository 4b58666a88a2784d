package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
	"github.com/roach88/graphwriter/internal/service"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

type submitRequest struct {
	Changes           []model.Change `json:"changes" validate:"required,min=1,dive,required"`
	IdempotencyKey    string         `json:"idempotencyKey" validate:"omitempty,max=128"`
	DuplicateStrategy string         `json:"duplicateStrategy" validate:"omitempty,oneof=error skip reuse"`
}

type listRequest struct {
	Limit   int    `query:"limit" validate:"gte=0"`
	Cursor  int    `query:"cursor" validate:"gte=0"`
	Status  string `query:"status" validate:"omitempty,oneof=queued processing complete error"`
	Summary bool   `query:"summary"`
}

func (s *Server) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Request().Header.Get(IdempotencyKeyHeader)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := s.deps.Service.Submit(service.SubmitRequest{
		Changes:           req.Changes,
		IdempotencyKey:    req.IdempotencyKey,
		DuplicateStrategy: req.DuplicateStrategy,
	})
	if err != nil {
		return err
	}
	code := http.StatusAccepted
	if res.Replayed {
		code = http.StatusOK
	}
	return c.JSON(code, res)
}

func (s *Server) status(c echo.Context) error {
	op, err := s.deps.Service.Status(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (s *Server) list(c echo.Context) error {
	var req listRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	page := s.deps.Queue.List(queue.ListOptions{
		Limit:       req.Limit,
		Cursor:      req.Cursor,
		Status:      model.Status(req.Status),
		SummaryOnly: req.Summary,
	})
	return c.JSON(http.StatusOK, page)
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) snapshot(c echo.Context) error {
	if s.deps.Snapshots == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "snapshots are not served")
	}
	snap, ok := s.deps.Snapshots.Snapshot(s.modelRef)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "snapshot not loaded yet")
	}
	return c.JSON(http.StatusOK, snap)
}

type healthResponse struct {
	Status    string      `json:"status"`
	Processor bool        `json:"processorRunning"`
	Queue     queue.Stats `json:"queue"`
	Store     string      `json:"store,omitempty"`
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{
		Status:    "ok",
		Processor: s.deps.Queue.Running(),
		Queue:     s.deps.Queue.Stats(),
	}
	code := http.StatusOK
	if s.deps.Health != nil {
		resp.Store = "ok"
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Store = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, resp)
}

// Error codes returned in errorBody.Code.
const (
	CodeInvalidJSON       = "INVALID_JSON"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeConflict          = "IDEMPOTENCY_CONFLICT"
	CodeInProgress        = "IDEMPOTENCY_IN_PROGRESS"
	CodeNotFound          = "NOT_FOUND"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeRouteNotFound     = "ROUTE_NOT_FOUND"
	codeHTTPErrorFallback = "HTTP_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// handleError maps domain and transport errors onto status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	if err := c.JSON(code, errorResponse{Error: body}); err != nil {
		s.logger.Warn("failed to write error response", "error", err)
	}
}

func classify(err error) (int, errorBody) {
	var (
		verr   *service.ValidationError
		fields validator.ValidationErrors
		herr   *echo.HTTPError
	)
	switch {
	case errors.Is(err, echo.ErrStatusRequestEntityTooLarge):
		return http.StatusRequestEntityTooLarge, errorBody{Code: CodePayloadTooLarge, Message: "request body too large"}
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Code: CodeValidation, Message: verr.Message, Field: verr.Field}
	case errors.As(err, &fields):
		fe := fields[0]
		return http.StatusBadRequest, errorBody{
			Code:    CodeValidation,
			Message: fmt.Sprintf("failed on %q", fe.Tag()),
			Field:   trimNamespace(fe.Namespace()),
		}
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, errorBody{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, service.ErrInProgress):
		return http.StatusConflict, errorBody{Code: CodeInProgress, Message: err.Error()}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable, errorBody{Code: CodeUnavailable, Message: err.Error()}
	case errors.As(err, &herr):
		return herr.Code, errorBody{Code: httpErrorCode(herr.Code), Message: fmt.Sprint(herr.Message)}
	}
	return http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "internal error"}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return CodeInvalidJSON
	case http.StatusNotFound:
		return CodeRouteNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	}
	return codeHTTPErrorFallback
}

// trimNamespace drops the struct name from "submitRequest.changes[0]".
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
