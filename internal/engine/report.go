package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examhall/internal/analysis"
	"github.com/pavelanni/examhall/internal/grading"
	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/monitor"
)

// Monitor builds the proctoring board for a session from the current
// results. It is recomputed on every call.
func (e *Engine) Monitor(ctx context.Context, tenantID, sessionID string) (monitor.BoardView, error) {
	sess, err := e.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return monitor.BoardView{}, err
	}
	var ids []string
	for _, r := range sess.Rooms {
		ids = append(ids, r.StudentIDs...)
	}

	var (
		roster  []model.Student
		results []model.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roster, err = e.store.GetStudents(gctx, tenantID, ids)
		return err
	})
	g.Go(func() error {
		var err error
		results, err = e.store.ListResults(gctx, tenantID, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return monitor.BoardView{}, fmt.Errorf("monitor %s: %w", sessionID, err)
	}
	return monitor.Board(sess, roster, results), nil
}

// Report is the post-exam analysis of one session.
type Report struct {
	SessionID string                     `json:"session_id"`
	Summary   analysis.Summary           `json:"summary"`
	Items     []analysis.ItemAnalysis    `json:"items"`
	Topics    []analysis.TopicAbsorption `json:"topics"`
}

// Report computes grade summary, item analysis and topic absorption over
// handed-in results.
func (e *Engine) Report(ctx context.Context, tenantID, sessionID string) (Report, error) {
	var (
		x       exam
		results []model.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		x, err = e.loadExam(gctx, tenantID, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		results, err = e.store.ListResults(gctx, tenantID, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	// Attempts still open or unsynced are not part of the cohort.
	results = slices.DeleteFunc(results, func(r model.Result) bool {
		return !lifecycle.HandedIn(r.Status)
	})
	rep := Report{
		SessionID: sessionID,
		Summary:   analysis.Summarize(results),
		Items:     analysis.Items(x.questions, results),
		Topics:    analysis.Topics(x.questions, results),
	}
	slog.Debug("report computed", "tenant", tenantID, "session", sessionID,
		"results", rep.Summary.Results, "items", len(rep.Items), "topics", len(rep.Topics))
	return rep, nil
}

// Export returns every result of a session with per-answer verdicts.
func (e *Engine) Export(ctx context.Context, tenantID, sessionID string) (model.SessionExport, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return model.SessionExport{}, err
	}
	out, err := e.store.ExportSession(ctx, tenantID, sessionID)
	if err != nil {
		return model.SessionExport{}, err
	}
	out.PassingGrade = x.pkg.PassingGrade
	out.NumQuestions = len(x.questions)
	out.ExportedAt = e.now()

	for i := range out.Results {
		for j := range out.Results[i].Answers {
			a := &out.Results[i].Answers[j]
			q, ok := x.question(a.QuestionID)
			if !ok {
				continue
			}
			a.Type = q.Type()
			a.Topic = analysis.NormalizeTopic(q.Topic)
			a.Weight = q.Weight
			a.Verdict = string(grading.Evaluate(q, a.Value))
		}
	}
	slog.Info("session exported", "tenant", tenantID, "session", sessionID, "results", len(out.Results))
	return out, nil
}
