package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examhall/internal/grading"
	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
)

// AnswerInput is one answer sent by the exam client.
type AnswerInput struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	Doubtful   bool            `json:"doubtful"`
}

// SaveAnswer records or replaces one answer and refreshes the automatic
// tally. The result is created on the student's first save.
func (e *Engine) SaveAnswer(ctx context.Context, tenantID, sessionID, studentID string, in AnswerInput) (model.Result, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return model.Result{}, err
	}
	if x.session.Status != model.SessionLive {
		return model.Result{}, model.ErrSessionNotLive
	}
	if _, ok := x.question(in.QuestionID); !ok {
		return model.Result{}, fmt.Errorf("question %s in session %s: %w", in.QuestionID, sessionID, model.ErrNotFound)
	}
	r, err := e.ensureResult(ctx, x.session, studentID)
	if err != nil {
		return model.Result{}, err
	}
	if !lifecycle.Open(r.Status) {
		return r, fmt.Errorf("result of %s is %s: %w", studentID, r.Status, model.ErrResultClosed)
	}

	now := e.now()
	a := model.Answer{QuestionID: in.QuestionID, Value: in.Value, Doubtful: in.Doubtful, UpdatedAt: now}
	if prev := r.AnswerFor(in.QuestionID); prev != nil {
		*prev = a
	} else {
		r.Answers = append(r.Answers, a)
	}
	applyAssessment(&r, x.assess(r.Answers, nil))
	r.UpdatedAt = now

	if err := e.store.UpdateResult(ctx, r, a); err != nil {
		return model.Result{}, err
	}
	slog.Debug("answer saved", "tenant", tenantID, "session", sessionID, "student", studentID,
		"question", in.QuestionID, "answered", r.Answered)
	return r, nil
}

// GetResult returns a student's result with answers.
func (e *Engine) GetResult(ctx context.Context, tenantID, sessionID, studentID string) (model.Result, error) {
	return e.store.GetResult(ctx, tenantID, sessionID, studentID)
}

// ListResults returns every result of a session.
func (e *Engine) ListResults(ctx context.Context, tenantID, sessionID string) ([]model.Result, error) {
	return e.store.ListResults(ctx, tenantID, sessionID)
}

// Submit applies the client's submission outcome. Submissions are accepted
// while the session is live and, for late syncs, after it finished.
func (e *Engine) Submit(ctx context.Context, tenantID, sessionID, studentID string, outcome lifecycle.SyncOutcome) (model.Result, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return model.Result{}, err
	}
	if x.session.Status == model.SessionPrepared {
		return model.Result{}, model.ErrSessionNotLive
	}
	r, err := e.ensureResult(ctx, x.session, studentID)
	if err != nil {
		return model.Result{}, err
	}

	a := x.assess(r.Answers, nil)
	next, err := lifecycle.Submit(r, outcome, a.PendingManual, e.now())
	if err != nil {
		return r, err
	}
	applyAssessment(&next, a)
	if err := e.store.UpdateResult(ctx, next); err != nil {
		return model.Result{}, err
	}
	slog.Info("result submitted", "tenant", tenantID, "session", sessionID, "student", studentID,
		"outcome", outcome, "status", next.Status, "score", next.Score)
	return next, nil
}

// ForceSubmit closes a student's attempt on the operator's behalf. Only
// allowed while the session is live.
func (e *Engine) ForceSubmit(ctx context.Context, tenantID, sessionID, studentID string) (model.Result, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return model.Result{}, err
	}
	if x.session.Status != model.SessionLive {
		return model.Result{}, model.ErrSessionNotLive
	}
	r, err := e.ensureResult(ctx, x.session, studentID)
	if err != nil {
		return model.Result{}, err
	}
	next, err := lifecycle.ForceSubmit(r, x.session, e.now())
	if err != nil {
		return r, err
	}
	applyAssessment(&next, x.assess(next.Answers, nil))
	if err := e.store.UpdateResult(ctx, next); err != nil {
		return model.Result{}, err
	}
	slog.Info("result force-submitted", "tenant", tenantID, "session", sessionID, "student", studentID,
		"score", next.Score, "pending_manual", next.FinalGrade == nil)
	return next, nil
}

// ensureResult returns the student's result, creating an in-progress one
// for an enrolled student on first contact.
func (e *Engine) ensureResult(ctx context.Context, s model.Session, studentID string) (model.Result, error) {
	r, err := e.store.GetResult(ctx, s.TenantID, s.ID, studentID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Result{}, err
	}
	if roomOf(s, studentID) == "" {
		return model.Result{}, fmt.Errorf("student %s in session %s: %w", studentID, s.ID, model.ErrNotEnrolled)
	}

	now := e.now()
	r = model.Result{
		ID:        e.newID(),
		TenantID:  s.TenantID,
		SessionID: s.ID,
		StudentID: studentID,
		Status:    model.StatusInProgress,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateResult(ctx, r); err != nil {
		// A concurrent first save may have won the unique key.
		if existing, gerr := e.store.GetResult(ctx, s.TenantID, s.ID, studentID); gerr == nil {
			return existing, nil
		}
		return model.Result{}, err
	}
	slog.Info("attempt started", "tenant", s.TenantID, "session", s.ID, "student", studentID, "result", r.ID)
	return r, nil
}

// assess grades answers against the package. Reviewer marks complete the
// grade once every free-text item has one, answered or not.
func (x exam) assess(answers []model.Answer, marks map[string]float64) grading.Assessment {
	rules := grading.RulesFor(x.pkg)
	a := grading.Grade(x.questions, answers, rules)
	if !a.PendingManual {
		return a
	}
	if done, err := grading.ApplyManual(x.questions, a, marks, rules); err == nil {
		return done
	}
	return a
}

// applyAssessment copies counts and scores onto the result. While manual
// grading is pending the score is the automatic part and there is no grade.
func applyAssessment(r *model.Result, a grading.Assessment) {
	r.Answered = a.Answered
	r.Correct = a.Correct
	r.Incorrect = a.Incorrect
	r.Ungraded = a.Ungraded
	if a.PendingManual {
		r.Score = a.Score
		r.MaxScore = a.MaxScore
		r.FinalGrade = nil
		r.Passed = false
		return
	}
	r.Score = a.TotalScore
	r.MaxScore = a.TotalMax
	r.FinalGrade = a.FinalGrade
	r.Passed = a.Passed
}
