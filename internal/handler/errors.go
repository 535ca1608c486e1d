package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/examhall/internal/i18n"
	"github.com/pavelanni/examhall/internal/model"
)

// problem is a classified error before localization.
type problem struct {
	Code      string
	MessageID string
	Data      map[string]any
	Count     *int
	Fields    []model.FieldError
}

type errorBody struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

var sentinels = []struct {
	err    error
	status int
	code   string
	msgID  string
}{
	{model.ErrNotFound, http.StatusNotFound, "not_found", "ErrNotFound"},
	{model.ErrNotEnrolled, http.StatusForbidden, "not_enrolled", "ErrNotEnrolled"},
	{model.ErrPackageNotReady, http.StatusUnprocessableEntity, "package_not_ready", "ErrPackageNotReady"},
	{model.ErrPackageImmutable, http.StatusConflict, "package_immutable", "ErrPackageImmutable"},
	{model.ErrSessionNotEditable, http.StatusConflict, "session_not_editable", "ErrSessionNotEditable"},
	{model.ErrSessionNotLive, http.StatusConflict, "session_not_live", "ErrSessionNotLive"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "ErrInvalidTransition"},
	{model.ErrResultClosed, http.StatusConflict, "result_closed", "ErrResultClosed"},
	{model.ErrTokenExhausted, http.StatusServiceUnavailable, "token_exhausted", "ErrTokenExhausted"},
	{model.ErrSuggestionsDisabled, http.StatusNotImplemented, "suggestions_disabled", "ErrSuggestionsDisabled"},
}

// classify maps an engine error to a status code and problem.
func classify(err error) (int, problem) {
	var (
		ve *model.ValidationError
		qe *model.QuotaExceededError
		ce *model.CapacityError
		ke *model.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, problem{Code: "validation_failed", MessageID: "ErrValidation", Fields: ve.Fields}
	case errors.As(err, &qe):
		n := qe.Shortfall()
		return http.StatusUnprocessableEntity, problem{Code: "quota_exceeded", MessageID: "ErrQuotaExceeded", Count: &n}
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity, problem{Code: "capacity_exceeded", MessageID: "ErrCapacity",
			Data: map[string]any{"Room": ce.RoomID, "Capacity": ce.Capacity, "Size": ce.Size}}
	case errors.As(err, &ke):
		return http.StatusConflict, problem{Code: "already_enrolled", MessageID: "ErrConflict",
			Data: map[string]any{"Student": ke.StudentID}}
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.status, problem{Code: s.code, MessageID: s.msgID}
		}
	}
	return http.StatusInternalServerError, problem{Code: "internal", MessageID: "ErrInternal"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, p := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeProblem(w, r, status, p)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, p problem) {
	ctx := r.Context()
	var msg string
	switch {
	case p.Count != nil:
		msg = i18n.Tp(ctx, p.MessageID, *p.Count)
	case p.Data != nil:
		msg = i18n.Td(ctx, p.MessageID, p.Data)
	default:
		msg = i18n.T(ctx, p.MessageID)
	}
	writeJSON(w, status, errorBody{Error: p.Code, Message: msg, Fields: p.Fields})
}
