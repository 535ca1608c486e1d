// Package handler serves the engine over a JSON HTTP API. Every route is
// scoped to the tenant in the URL.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examhall/internal/engine"
	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine *engine.Engine
}

// New creates a new Handler.
func New(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Get("/ledger", h.handleLedger)
		r.Get("/students", h.handleStudents)
		r.Get("/packages/{packageID}", h.handleGetPackage)
		r.Put("/packages/{packageID}", h.handleSavePackage)
		r.Post("/entry", h.handleEntry)

		r.Get("/sessions", h.handleListSessions)
		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Put("/rooms", h.handleCommitEnrollment)
			r.Post("/allocate", h.handleAllocate)
			r.Post("/rooms/{roomID}/token", h.handleRegenerateToken)
			r.Post("/start", h.handleStart)
			r.Post("/end", h.handleEnd)
			r.Get("/monitor", h.handleMonitor)
			r.Get("/report", h.handleReport)
			r.Get("/export", h.handleExport)
			r.Get("/results", h.handleListResults)

			r.Route("/students/{studentID}", func(r chi.Router) {
				r.Get("/paper", h.handlePaper)
				r.Get("/result", h.handleGetResult)
				r.Put("/answers", h.handleSaveAnswer)
				r.Post("/submit", h.handleSubmit)
				r.Post("/force-submit", h.handleForceSubmit)
				r.Get("/essays", h.handleEssayScores)
				r.Post("/essays", h.handleGradeEssays)
				r.Post("/essays/suggest", h.handleSuggest)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.Ledger(r.Context(), tenant(r))
	respond(w, r, http.StatusOK, l, err)
}

func (h *Handler) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.engine.ListStudents(r.Context(), tenant(r))
	respond(w, r, http.StatusOK, students, err)
}

func (h *Handler) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetPackage(r.Context(), tenant(r), chi.URLParam(r, "packageID"))
	respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) handleSavePackage(w http.ResponseWriter, r *http.Request) {
	var p model.ExamPackage
	if !decode(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "packageID")
	saved, err := h.engine.SavePackage(r.Context(), tenant(r), p)
	respond(w, r, http.StatusOK, saved, err)
}

type entryRequest struct {
	Token     string `json:"token"`
	StudentID string `json:"student_id"`
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.engine.ResolveEntry(r.Context(), tenant(r), req.Token, req.StudentID)
	respond(w, r, http.StatusOK, entry, err)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListSessions(r.Context(), tenant(r))
	respond(w, r, http.StatusOK, sessions, err)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var s model.Session
	if !decode(w, r, &s) {
		return
	}
	alloc, err := h.engine.CreateSession(r.Context(), tenant(r), s)
	respond(w, r, http.StatusCreated, alloc, err)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetSession(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, s, err)
}

type roomsRequest struct {
	Rooms []model.Room `json:"rooms"`
}

func (h *Handler) handleCommitEnrollment(w http.ResponseWriter, r *http.Request) {
	var req roomsRequest
	if !decode(w, r, &req) {
		return
	}
	alloc, err := h.engine.CommitEnrollment(r.Context(), tenant(r), model.Session{ID: sessionID(r), Rooms: req.Rooms})
	respond(w, r, http.StatusOK, alloc, err)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.engine.AllocateRooms(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, alloc, err)
}

func (h *Handler) handleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	room, err := h.engine.RegenerateToken(r.Context(), tenant(r), sessionID(r), chi.URLParam(r, "roomID"))
	respond(w, r, http.StatusOK, room, err)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.StartSession(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.EndSession(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) handleMonitor(w http.ResponseWriter, r *http.Request) {
	board, err := h.engine.Monitor(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, board, err)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Report(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, rep, err)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Export(r.Context(), tenant(r), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session-"+out.SessionID+".json"))
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.ListResults(r.Context(), tenant(r), sessionID(r))
	respond(w, r, http.StatusOK, results, err)
}

func (h *Handler) handlePaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.PaperFor(r.Context(), tenant(r), sessionID(r), studentID(r))
	respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GetResult(r.Context(), tenant(r), sessionID(r), studentID(r))
	respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	var in engine.AnswerInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.engine.SaveAnswer(r.Context(), tenant(r), sessionID(r), studentID(r), in)
	respond(w, r, http.StatusOK, res, err)
}

type submitRequest struct {
	Outcome lifecycle.SyncOutcome `json:"outcome"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req := submitRequest{Outcome: lifecycle.OutcomeSynced}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Submit(r.Context(), tenant(r), sessionID(r), studentID(r), req.Outcome)
	respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) handleForceSubmit(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ForceSubmit(r.Context(), tenant(r), sessionID(r), studentID(r))
	respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) handleEssayScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.engine.EssayScores(r.Context(), tenant(r), sessionID(r), studentID(r))
	respond(w, r, http.StatusOK, scores, err)
}

type gradeRequest struct {
	Reviewer string             `json:"reviewer"`
	Marks    []engine.EssayMark `json:"marks"`
}

func (h *Handler) handleGradeEssays(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		writeError(w, r, model.NewValidationError(model.FieldError{Field: "reviewer", Error: "this field is required"}))
		return
	}
	res, err := h.engine.GradeEssays(r.Context(), tenant(r), sessionID(r), studentID(r), req.Reviewer, req.Marks)
	respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	scores, err := h.engine.SuggestEssayScores(r.Context(), tenant(r), sessionID(r), studentID(r))
	respond(w, r, http.StatusOK, scores, err)
}

func tenant(r *http.Request) string    { return chi.URLParam(r, "tenant") }
func sessionID(r *http.Request) string { return chi.URLParam(r, "sessionID") }
func studentID(r *http.Request) string { return chi.URLParam(r, "studentID") }

// decode reads a JSON body into v. On failure it writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusBadRequest, problem{Code: "bad_request", MessageID: "ErrBadRequest"})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
