package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/examhall/internal/grading"
	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
)

// EssayMark is a reviewer's mark for one free-text answer.
type EssayMark struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Comment    string  `json:"comment,omitempty"`
}

// GradeEssays records reviewer marks. Marks merge with earlier ones; once
// every free-text item has a mark the final grade is computed and
// the result is completed.
func (e *Engine) GradeEssays(ctx context.Context, tenantID, sessionID, studentID, reviewer string, marks []EssayMark) (model.Result, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return model.Result{}, err
	}
	r, err := e.store.GetResult(ctx, tenantID, sessionID, studentID)
	if err != nil {
		return model.Result{}, err
	}
	if !lifecycle.HandedIn(r.Status) {
		return r, fmt.Errorf("result of %s is %s: %w", studentID, r.Status, model.ErrInvalidTransition)
	}

	var bad []model.FieldError
	for i, m := range marks {
		q, ok := x.question(m.QuestionID)
		if !ok || q.Type() != model.TypeFreeText {
			bad = append(bad, model.FieldError{
				Field: fmt.Sprintf("marks[%d].question_id", i),
				Error: "must be a free-text question of this exam",
			})
		}
	}
	if len(bad) > 0 {
		return r, model.NewValidationError(bad...)
	}

	existing, err := e.store.ListEssayScores(ctx, r.ID)
	if err != nil {
		return r, fmt.Errorf("essay scores: %w", err)
	}
	merged := make(map[string]float64, len(existing)+len(marks))
	for _, sc := range existing {
		if sc.ReviewerScore != nil {
			merged[sc.QuestionID] = *sc.ReviewerScore
		}
	}

	now := e.now()
	scores := make([]model.EssayScore, 0, len(marks))
	for _, m := range marks {
		q, _ := x.question(m.QuestionID)
		score := grading.Clamp(m.Score, q.Weight)
		merged[m.QuestionID] = score
		scores = append(scores, model.EssayScore{
			ResultID:        r.ID,
			QuestionID:      m.QuestionID,
			ReviewerScore:   &score,
			ReviewerComment: m.Comment,
			ReviewedBy:      reviewer,
			ReviewedAt:      &now,
		})
	}

	a := x.assess(r.Answers, merged)
	next := r
	applyAssessment(&next, a)
	next.UpdatedAt = now
	if !a.PendingManual {
		next, err = lifecycle.Complete(next, now)
		if err != nil {
			return r, err
		}
	}
	if err := e.store.SaveReview(ctx, next, scores); err != nil {
		return r, err
	}
	slog.Info("essays graded", "tenant", tenantID, "session", sessionID, "student", studentID,
		"reviewer", reviewer, "marks", len(marks), "complete", !a.PendingManual, "status", next.Status)
	return next, nil
}

// EssayScores returns the suggested and reviewer scores of a result.
func (e *Engine) EssayScores(ctx context.Context, tenantID, sessionID, studentID string) ([]model.EssayScore, error) {
	r, err := e.store.GetResult(ctx, tenantID, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	return e.store.ListEssayScores(ctx, r.ID)
}

// SuggestEssayScores asks the configured model for a mark on every answered
// free-text item. Suggestions never change the result; a reviewer decides.
func (e *Engine) SuggestEssayScores(ctx context.Context, tenantID, sessionID, studentID string) ([]model.EssayScore, error) {
	if e.suggester == nil {
		return nil, model.ErrSuggestionsDisabled
	}
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	r, err := e.store.GetResult(ctx, tenantID, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.HandedIn(r.Status) {
		return nil, fmt.Errorf("result of %s is %s: %w", studentID, r.Status, model.ErrInvalidTransition)
	}

	n := 0
	for _, q := range x.questions {
		if q.Type() != model.TypeFreeText {
			continue
		}
		a := r.AnswerFor(q.ID)
		if a == nil || grading.IsBlank(a.Value) {
			continue
		}
		score, feedback, err := e.suggester.SuggestScore(ctx, q, answerText(a.Value))
		if err != nil {
			return nil, fmt.Errorf("suggest score for %s: %w", q.ID, err)
		}
		if err := e.store.UpsertSuggestion(ctx, r.ID, q.ID, score, feedback); err != nil {
			return nil, fmt.Errorf("save suggestion for %s: %w", q.ID, err)
		}
		n++
	}
	slog.Info("essay scores suggested", "tenant", tenantID, "session", sessionID, "student", studentID, "count", n)
	return e.store.ListEssayScores(ctx, r.ID)
}

// answerText unwraps a JSON string answer; anything else is passed as raw JSON.
func answerText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

