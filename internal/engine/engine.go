// Package engine exposes the exam execution operations. Every call is
// scoped to a tenant, runs synchronously and either fully applies or
// returns an error.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/allocation"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

// Suggester proposes a mark for a free-text answer.
type Suggester interface {
	SuggestScore(ctx context.Context, q model.Question, answer string) (score float64, feedback string, err error)
}

type Engine struct {
	store     *store.Store
	validator *allocation.Validator
	suggester Suggester
	cfg       model.EngineConfig
	tokens    allocation.TokenSource
	now       func() time.Time
	newID     func() string
}

// New creates an engine. suggester may be nil, which disables essay suggestions.
func New(st *store.Store, suggester Suggester, cfg model.EngineConfig) *Engine {
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = allocation.DefaultTokenLength
	}
	if cfg.TokenAttempts <= 0 {
		cfg.TokenAttempts = allocation.DefaultTokenAttempts
	}
	return &Engine{
		store:     st,
		validator: allocation.NewValidator(),
		suggester: suggester,
		cfg:       cfg,
		tokens:    allocation.RandomTokens(cfg.TokenLength),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// exam is a session together with its package and resolved questions.
type exam struct {
	session   model.Session
	pkg       model.ExamPackage
	questions []model.Question
}

func (e *Engine) loadExam(ctx context.Context, tenantID, sessionID string) (exam, error) {
	sess, err := e.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return exam{}, err
	}
	pkg, err := e.store.GetPackage(ctx, tenantID, sess.PackageID)
	if err != nil {
		return exam{}, err
	}
	qs, err := e.store.PackageQuestions(ctx, pkg)
	if err != nil {
		return exam{}, fmt.Errorf("questions of package %s: %w", pkg.ID, err)
	}
	return exam{session: sess, pkg: pkg, questions: qs}, nil
}

func (x exam) question(id string) (model.Question, bool) {
	for _, q := range x.questions {
		if q.ID == id {
			return q, true
		}
	}
	return model.Question{}, false
}

// roomOf returns the room a student is enrolled in, or "".
func roomOf(s model.Session, studentID string) string {
	for _, r := range s.Rooms {
		for _, id := range r.StudentIDs {
			if id == studentID {
				return r.ID
			}
		}
	}
	return ""
}
