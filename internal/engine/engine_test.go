package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/monitor"
	"github.com/pavelanni/examhall/internal/store"
)

const tenant = "school-1"

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeSuggester struct {
	calls []string
}

func (f *fakeSuggester) SuggestScore(_ context.Context, q model.Question, answer string) (float64, string, error) {
	f.calls = append(f.calls, answer)
	return q.Weight / 2, "partially correct", nil
}

func fixture() model.Fixture {
	return model.Fixture{
		TenantID:   tenant,
		QuotaTotal: 10,
		Students: []model.Student{
			{ID: "s-1", Name: "Ana", Level: "grade-9"},
			{ID: "s-2", Name: "Boris", Level: "grade-9"},
			{ID: "s-3", Name: "Chen", Level: "Grade-9"},
			{ID: "s-4", Name: "Dana", Level: "grade-10"},
			{ID: "s-5", Name: "Emil", Level: "grade-9"},
			{ID: "s-6", Name: "Fay", Level: "grade-9"},
		},
		Questions: []model.Question{
			{ID: "q1", BankID: "math", Topic: "algebra", Text: "2+2?", Weight: 1,
				Body: model.SingleChoice{Options: []model.Option{{Label: "A", Text: "4", Correct: true}, {Label: "B", Text: "5"}}}},
			{ID: "q2", BankID: "math", Topic: "Algebra", Text: "Primes?", Weight: 1,
				Body: model.MultiSelect{Options: []model.Option{
					{Label: "A", Text: "2", Correct: true}, {Label: "B", Text: "3", Correct: true}, {Label: "C", Text: "4"}}}},
			{ID: "q3", BankID: "math", Topic: "geometry", Text: "Triangles", Weight: 1,
				Body: model.TrueFalseSet{Statements: []model.Statement{{ID: "t1", Text: "Angles sum to 180", Truth: true}}}},
			{ID: "q4", BankID: "math", Topic: "geometry", Text: "Match", Weight: 1,
				Body: model.Matching{Pairs: []model.Pair{{ID: "p1", Left: "square", Right: "4"}, {ID: "p2", Left: "triangle", Right: "3"}}}},
			{ID: "q5", BankID: "math", Topic: "proofs", Text: "Prove it", Weight: 4,
				Body: model.FreeText{Rubric: "uses induction"}},
		},
		Packages: []model.ExamPackage{
			{ID: "pkg-1", Name: "Math midterm", QuestionIDs: []string{"q1", "q2", "q3", "q4", "q5"},
				DurationMinutes: 90, PassingGrade: 60, TargetLevel: "grade-9", Ready: true},
			{ID: "pkg-draft", Name: "Draft", BankID: "math"},
		},
	}
}

func newTestEngine(t *testing.T, s Suggester) *Engine {
	t.Helper()
	st, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := New(st, s, model.EngineConfig{})
	e.now = func() time.Time { return t0 }
	if err := e.LoadFixture(context.Background(), fixture()); err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return e
}

func newRoom(name string, capacity int, students ...string) model.Room {
	return model.Room{Name: name, Capacity: capacity, SupervisorID: "teacher-1", StudentIDs: students}
}

func createSession(t *testing.T, e *Engine, rooms ...model.Room) model.Session {
	t.Helper()
	alloc, err := e.CreateSession(context.Background(), tenant, model.Session{
		PackageID: "pkg-1",
		Name:      "Midterm",
		StartsAt:  t0,
		EndsAt:    t0.Add(2 * time.Hour),
		Rooms:     rooms,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return alloc.Session
}

// liveSession creates a started session with s-1 and s-2 in one room.
func liveSession(t *testing.T, e *Engine) model.Session {
	t.Helper()
	s := createSession(t, e, newRoom("A", 5, "s-1", "s-2"))
	s, err := e.StartSession(context.Background(), tenant, s.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return s
}

func save(t *testing.T, e *Engine, sessionID, studentID, questionID, value string) model.Result {
	t.Helper()
	r, err := e.SaveAnswer(context.Background(), tenant, sessionID, studentID,
		AnswerInput{QuestionID: questionID, Value: json.RawMessage(value)})
	if err != nil {
		t.Fatalf("SaveAnswer %s/%s: %v", studentID, questionID, err)
	}
	return r
}

func TestCreateSession(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	t.Run("package not ready", func(t *testing.T) {
		_, err := e.CreateSession(ctx, tenant, model.Session{PackageID: "pkg-draft", Name: "x", StartsAt: t0})
		if !errors.Is(err, model.ErrPackageNotReady) {
			t.Fatalf("err = %v, want ErrPackageNotReady", err)
		}
	})

	t.Run("invalid room", func(t *testing.T) {
		_, err := e.CreateSession(ctx, tenant, model.Session{
			PackageID: "pkg-1", Name: "x", StartsAt: t0,
			Rooms: []model.Room{{Name: "", Capacity: 3}},
		})
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
	})

	t.Run("no rooms", func(t *testing.T) {
		_, err := e.CreateSession(ctx, tenant, model.Session{PackageID: "pkg-1", Name: "x", StartsAt: t0})
		var ve *model.ValidationError
		if !errors.As(err, &ve) || ve.Fields[0].Field != "rooms" {
			t.Fatalf("err = %v, want rooms validation error", err)
		}
	})

	t.Run("ends before start", func(t *testing.T) {
		_, err := e.CreateSession(ctx, tenant, model.Session{
			PackageID: "pkg-1", Name: "x", StartsAt: t0, EndsAt: t0.Add(-time.Hour),
			Rooms: []model.Room{newRoom("A", 2)},
		})
		var ve *model.ValidationError
		if !errors.As(err, &ve) || ve.Fields[0].Field != "ends_at" {
			t.Fatalf("err = %v, want ends_at validation error", err)
		}
	})

	t.Run("rooms get ids and distinct tokens", func(t *testing.T) {
		s := createSession(t, e, newRoom("A", 2, "s-1"), newRoom("B", 2))
		if s.Status != model.SessionPrepared {
			t.Errorf("status = %s", s.Status)
		}
		a, b := s.Rooms[0], s.Rooms[1]
		if a.ID == "" || b.ID == "" || a.Token == "" || b.Token == "" || a.Token == b.Token {
			t.Errorf("rooms = %+v", s.Rooms)
		}
		l, err := e.Ledger(ctx, tenant)
		if err != nil {
			t.Fatalf("Ledger: %v", err)
		}
		if l.QuotaUsed != 1 {
			t.Errorf("quota used = %d, want 1", l.QuotaUsed)
		}
	})
}

func TestAllocateRooms(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := createSession(t, e, newRoom("A", 2, "s-4"), newRoom("B", 2))

	alloc, err := e.AllocateRooms(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("AllocateRooms: %v", err)
	}
	if got := alloc.Session.Rooms[0].StudentIDs; !reflect.DeepEqual(got, []string{"s-1", "s-2"}) {
		t.Errorf("room A = %v", got)
	}
	if got := alloc.Session.Rooms[1].StudentIDs; !reflect.DeepEqual(got, []string{"s-3", "s-5"}) {
		t.Errorf("room B = %v", got)
	}
	if !reflect.DeepEqual(alloc.Unplaced, []string{"s-6"}) {
		t.Errorf("unplaced = %v", alloc.Unplaced)
	}
	if alloc.Delta != 3 || alloc.Ledger.QuotaUsed != 4 {
		t.Errorf("delta = %d used = %d, want 3 and 4", alloc.Delta, alloc.Ledger.QuotaUsed)
	}

	got, err := e.GetSession(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Enrolled() != 4 || got.Rooms[0].Token != s.Rooms[0].Token {
		t.Errorf("stored session = %+v", got)
	}
}

func TestCommitEnrollment(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := createSession(t, e, newRoom("A", 20))

	t.Run("quota exceeded", func(t *testing.T) {
		next := s.Clone()
		next.Rooms[0].StudentIDs = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
		_, err := e.CommitEnrollment(ctx, tenant, next)
		var qe *model.QuotaExceededError
		if !errors.As(err, &qe) || qe.Shortfall() != 1 {
			t.Fatalf("err = %v, want shortfall 1", err)
		}
		l, _ := e.Ledger(ctx, tenant)
		if l.QuotaUsed != 0 {
			t.Errorf("quota used = %d after rejected commit", l.QuotaUsed)
		}
	})

	t.Run("capacity", func(t *testing.T) {
		next := s.Clone()
		next.Rooms[0].Capacity = 1
		next.Rooms[0].StudentIDs = []string{"s-1", "s-2"}
		_, err := e.CommitEnrollment(ctx, tenant, next)
		var ce *model.CapacityError
		if !errors.As(err, &ce) {
			t.Fatalf("err = %v, want CapacityError", err)
		}
	})

	t.Run("duplicate student", func(t *testing.T) {
		next := s.Clone()
		next.Rooms[0].StudentIDs = []string{"s-1"}
		next.Rooms = append(next.Rooms, newRoom("B", 3, "s-1"))
		_, err := e.CommitEnrollment(ctx, tenant, next)
		var ce *model.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("err = %v, want ConflictError", err)
		}
	})

	t.Run("release seats", func(t *testing.T) {
		next := s.Clone()
		next.Rooms[0].StudentIDs = []string{"s-1", "s-2", "s-3"}
		if _, err := e.CommitEnrollment(ctx, tenant, next); err != nil {
			t.Fatalf("CommitEnrollment: %v", err)
		}
		next.Rooms[0].StudentIDs = []string{"s-1"}
		alloc, err := e.CommitEnrollment(ctx, tenant, next)
		if err != nil {
			t.Fatalf("CommitEnrollment: %v", err)
		}
		if alloc.Delta != -2 || alloc.Ledger.QuotaUsed != 1 {
			t.Errorf("delta = %d used = %d, want -2 and 1", alloc.Delta, alloc.Ledger.QuotaUsed)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := createSession(t, e, newRoom("A", 3, "s-1"))

	if _, err := e.EndSession(ctx, tenant, s.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("EndSession on prepared: err = %v", err)
	}
	live, err := e.StartSession(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if live.Status != model.SessionLive || live.StartedAt == nil {
		t.Errorf("live session = %+v", live)
	}

	// Rooms stay editable while live.
	next := live.Clone()
	next.Rooms[0].StudentIDs = append(next.Rooms[0].StudentIDs, "s-2")
	if _, err := e.CommitEnrollment(ctx, tenant, next); err != nil {
		t.Fatalf("CommitEnrollment while live: %v", err)
	}

	if _, err := e.EndSession(ctx, tenant, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := e.CommitEnrollment(ctx, tenant, next); !errors.Is(err, model.ErrSessionNotEditable) {
		t.Errorf("CommitEnrollment after end: err = %v", err)
	}
	if _, err := e.RegenerateToken(ctx, tenant, s.ID, s.Rooms[0].ID); !errors.Is(err, model.ErrSessionNotEditable) {
		t.Errorf("RegenerateToken after end: err = %v", err)
	}
	if _, err := e.StartSession(ctx, tenant, s.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("StartSession after end: err = %v", err)
	}
}

func TestRegenerateToken(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := createSession(t, e, newRoom("A", 3, "s-1"))
	old := s.Rooms[0].Token

	tokens := []string{old, "FRESH1"}
	e.tokens = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}
	room, err := e.RegenerateToken(ctx, tenant, s.ID, s.Rooms[0].ID)
	if err != nil {
		t.Fatalf("RegenerateToken: %v", err)
	}
	if room.Token != "FRESH1" {
		t.Errorf("token = %q, want FRESH1", room.Token)
	}
	if _, err := e.RegenerateToken(ctx, tenant, s.ID, "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown room: err = %v", err)
	}
}

func TestResolveEntry(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := createSession(t, e, newRoom("A", 3, "s-1"))
	token := s.Rooms[0].Token

	if _, err := e.ResolveEntry(ctx, tenant, token, "s-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("prepared session: err = %v, want ErrNotFound", err)
	}
	if _, err := e.StartSession(ctx, tenant, s.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	entry, err := e.ResolveEntry(ctx, tenant, token, "s-1")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	if entry.SessionID != s.ID || entry.RoomID != s.Rooms[0].ID {
		t.Errorf("entry = %+v", entry)
	}
	if _, err := e.ResolveEntry(ctx, tenant, token, "s-2"); !errors.Is(err, model.ErrNotEnrolled) {
		t.Errorf("stranger: err = %v, want ErrNotEnrolled", err)
	}
	if _, err := e.ResolveEntry(ctx, "other-school", token, "s-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("other tenant: err = %v, want ErrNotFound", err)
	}
}

func TestSaveAnswer(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	prepared := createSession(t, e, newRoom("A", 3, "s-1"))
	_, err := e.SaveAnswer(ctx, tenant, prepared.ID, "s-1", AnswerInput{QuestionID: "q1", Value: json.RawMessage(`"A"`)})
	if !errors.Is(err, model.ErrSessionNotLive) {
		t.Fatalf("prepared session: err = %v", err)
	}

	s := liveSession(t, e)
	r := save(t, e, s.ID, "s-1", "q1", `"A"`)
	if r.Status != model.StatusInProgress || r.Answered != 1 || r.Correct != 1 || r.Score != 1 {
		t.Errorf("after q1: %+v", r)
	}

	// Replacing an answer re-tallies.
	r = save(t, e, s.ID, "s-1", "q1", `"B"`)
	if r.Correct != 0 || r.Incorrect != 1 || r.Score != 0 || len(r.Answers) != 1 {
		t.Errorf("after replace: %+v", r)
	}

	stored, err := e.GetResult(ctx, tenant, s.ID, "s-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if stored.ID != r.ID || string(stored.Answers[0].Value) != `"B"` {
		t.Errorf("stored = %+v", stored)
	}

	tests := []struct {
		name    string
		student string
		qid     string
		want    error
	}{
		{"not enrolled", "s-6", "q1", model.ErrNotEnrolled},
		{"question outside package", "s-1", "q99", model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SaveAnswer(ctx, tenant, s.ID, tt.student, AnswerInput{QuestionID: tt.qid, Value: json.RawMessage(`"A"`)})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitAndGradeEssays(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)

	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-1", "q2", `["A","B"]`)
	save(t, e, s.ID, "s-1", "q3", `{"t1": false}`)
	save(t, e, s.ID, "s-1", "q5", `"Base case, then step."`)

	r, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Status != model.StatusAwaitingCorrection || r.FinalGrade != nil || !r.Synced {
		t.Fatalf("submitted = %+v", r)
	}
	if r.Score != 2 || r.MaxScore != 4 || r.Ungraded != 1 {
		t.Errorf("provisional score = %v/%v ungraded %d", r.Score, r.MaxScore, r.Ungraded)
	}

	_, err = e.SaveAnswer(ctx, tenant, s.ID, "s-1", AnswerInput{QuestionID: "q4", Value: json.RawMessage(`{}`)})
	if !errors.Is(err, model.ErrResultClosed) {
		t.Errorf("SaveAnswer after submit: err = %v", err)
	}

	_, err = e.GradeEssays(ctx, tenant, s.ID, "s-1", "teacher-1", []EssayMark{{QuestionID: "q1", Score: 1}})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("mark on auto item: err = %v, want ValidationError", err)
	}

	r, err = e.GradeEssays(ctx, tenant, s.ID, "s-1", "teacher-1", []EssayMark{{QuestionID: "q5", Score: 10, Comment: "complete"}})
	if err != nil {
		t.Fatalf("GradeEssays: %v", err)
	}
	// 2 auto points + 4 (clamped) of 8.
	if r.Status != model.StatusFinished || r.FinalGrade == nil || *r.FinalGrade != 75 || !r.Passed {
		t.Errorf("graded = %+v", r)
	}
	if r.Score != 6 || r.MaxScore != 8 {
		t.Errorf("final score = %v/%v, want 6/8", r.Score, r.MaxScore)
	}

	scores, err := e.EssayScores(ctx, tenant, s.ID, "s-1")
	if err != nil {
		t.Fatalf("EssayScores: %v", err)
	}
	if len(scores) != 1 || *scores[0].ReviewerScore != 4 || scores[0].ReviewedBy != "teacher-1" {
		t.Errorf("scores = %+v", scores)
	}
}

func TestSubmitWithBlankEssayAwaitsCorrection(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)
	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-1", "q4", `{"p1": "4", "p2": "3"}`)

	r, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Status != model.StatusAwaitingCorrection || r.FinalGrade != nil {
		t.Fatalf("submitted = %+v", r)
	}

	r, err = e.GradeEssays(ctx, tenant, s.ID, "s-1", "teacher-1", []EssayMark{{QuestionID: "q5", Score: 0}})
	if err != nil {
		t.Fatalf("GradeEssays: %v", err)
	}
	// 2 auto points of 8, the blank essay marked 0.
	if r.Status != model.StatusFinished || r.FinalGrade == nil || *r.FinalGrade != 25 || r.Passed {
		t.Errorf("graded = %+v", r)
	}
}

func TestSubmitOutcomes(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)
	save(t, e, s.ID, "s-1", "q1", `"A"`)

	for _, outcome := range []lifecycle.SyncOutcome{
		lifecycle.OutcomeSavedLocally, lifecycle.OutcomeSavedLocally,
		lifecycle.OutcomeSyncFailed, lifecycle.OutcomeSyncFailed,
		lifecycle.OutcomeSavedLocally,
	} {
		r, err := e.Submit(ctx, tenant, s.ID, "s-1", outcome)
		if err != nil {
			t.Fatalf("Submit %s: %v", outcome, err)
		}
		if string(r.Status) != string(outcome) || r.Synced {
			t.Errorf("after %s = %+v", outcome, r)
		}
	}
	board, err := e.Monitor(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if board.Totals[monitor.PendingSync] != 1 || board.Totals[monitor.NotLoggedIn] != 1 {
		t.Errorf("totals = %v", board.Totals)
	}

	// The late sync arrives after the session ended.
	if _, err := e.EndSession(ctx, tenant, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	r, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced)
	if err != nil {
		t.Fatalf("Submit synced: %v", err)
	}
	if r.Status != model.StatusAwaitingCorrection || !r.Synced {
		t.Errorf("synced = %+v", r)
	}
	if _, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("second submit: err = %v", err)
	}
}

func TestForceSubmit(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)
	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-1", "q5", `"essay"`)

	r, err := e.ForceSubmit(ctx, tenant, s.ID, "s-1")
	if err != nil {
		t.Fatalf("ForceSubmit: %v", err)
	}
	if r.Status != model.StatusAutoSubmitted || r.EndedAt == nil || r.FinalGrade != nil {
		t.Errorf("forced = %+v", r)
	}

	// A student who never logged in is closed with an empty result.
	r, err = e.ForceSubmit(ctx, tenant, s.ID, "s-2")
	if err != nil {
		t.Fatalf("ForceSubmit s-2: %v", err)
	}
	if r.Status != model.StatusAutoSubmitted || r.Answered != 0 {
		t.Errorf("forced s-2 = %+v", r)
	}

	if _, err := e.ForceSubmit(ctx, tenant, s.ID, "s-6"); !errors.Is(err, model.ErrNotEnrolled) {
		t.Errorf("not enrolled: err = %v", err)
	}

	// Grading completes the forced result without leaving auto_submitted.
	r, err = e.GradeEssays(ctx, tenant, s.ID, "s-1", "teacher-1", []EssayMark{{QuestionID: "q5", Score: 2}})
	if err != nil {
		t.Fatalf("GradeEssays: %v", err)
	}
	if r.Status != model.StatusAutoSubmitted || r.FinalGrade == nil || *r.FinalGrade != 37.5 {
		t.Errorf("graded forced = %+v", r)
	}

	if _, err := e.EndSession(ctx, tenant, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := e.ForceSubmit(ctx, tenant, s.ID, "s-2"); !errors.Is(err, model.ErrSessionNotLive) {
		t.Errorf("after end: err = %v", err)
	}
}

func TestSuggestEssayScores(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		e := newTestEngine(t, nil)
		_, err := e.SuggestEssayScores(ctx, tenant, "any", "s-1")
		if !errors.Is(err, model.ErrSuggestionsDisabled) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("stores suggestions only", func(t *testing.T) {
		fake := &fakeSuggester{}
		e := newTestEngine(t, fake)
		s := liveSession(t, e)
		save(t, e, s.ID, "s-1", "q5", `"Induction on n"`)

		if _, err := e.SuggestEssayScores(ctx, tenant, s.ID, "s-1"); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("before submit: err = %v", err)
		}
		if _, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		scores, err := e.SuggestEssayScores(ctx, tenant, s.ID, "s-1")
		if err != nil {
			t.Fatalf("SuggestEssayScores: %v", err)
		}
		if len(fake.calls) != 1 || fake.calls[0] != "Induction on n" {
			t.Errorf("calls = %v", fake.calls)
		}
		if len(scores) != 1 || *scores[0].SuggestedScore != 2 || scores[0].ReviewerScore != nil {
			t.Errorf("scores = %+v", scores)
		}
		r, _ := e.GetResult(ctx, tenant, s.ID, "s-1")
		if r.Status != model.StatusAwaitingCorrection || r.FinalGrade != nil {
			t.Errorf("suggestion changed the result: %+v", r)
		}
	})
}

func TestReport(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)

	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-1", "q3", `{"t1": true}`)
	save(t, e, s.ID, "s-2", "q1", `"B"`)
	save(t, e, s.ID, "s-2", "q2", `["A","B"]`)
	for _, id := range []string{"s-1", "s-2"} {
		if _, err := e.Submit(ctx, tenant, s.ID, id, lifecycle.OutcomeSynced); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	rep, err := e.Report(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Summary.Results != 2 || rep.Summary.Pending != 2 {
		t.Errorf("before grading = %+v", rep.Summary)
	}
	for _, id := range []string{"s-1", "s-2"} {
		if _, err := e.GradeEssays(ctx, tenant, s.ID, id, "teacher-1", []EssayMark{{QuestionID: "q5", Score: 0}}); err != nil {
			t.Fatalf("GradeEssays %s: %v", id, err)
		}
	}

	rep, err = e.Report(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Summary.Results != 2 || rep.Summary.Graded != 2 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if len(rep.Items) != 4 {
		t.Fatalf("items = %+v", rep.Items)
	}
	q1 := rep.Items[0]
	if q1.QuestionID != "q1" || q1.Respondents != 2 || q1.Correct != 1 || q1.P != 0.5 {
		t.Errorf("q1 = %+v", q1)
	}
	if rep.Items[3].Respondents != 0 {
		t.Errorf("q4 = %+v", rep.Items[3])
	}
	// ALGEBRA merges "algebra" and "Algebra": 2 of 3 answers correct.
	if len(rep.Topics) == 0 || rep.Topics[0].Topic != "GEOMETRY" || rep.Topics[0].Absorption != 100 {
		t.Errorf("topics = %+v", rep.Topics)
	}
	var algebra bool
	for _, tp := range rep.Topics {
		if tp.Topic == "ALGEBRA" {
			algebra = true
			if tp.Answers != 3 || tp.Absorption != 67 {
				t.Errorf("algebra = %+v", tp)
			}
		}
	}
	if !algebra {
		t.Error("ALGEBRA topic missing")
	}
}

func TestReportSkipsOpenAttempts(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)

	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-2", "q1", `"B"`)
	if _, err := e.Submit(ctx, tenant, s.ID, "s-1", lifecycle.OutcomeSynced); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := e.Submit(ctx, tenant, s.ID, "s-2", lifecycle.OutcomeSavedLocally); err != nil {
		t.Fatalf("Submit saved locally: %v", err)
	}

	rep, err := e.Report(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Summary.Results != 1 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if q1 := rep.Items[0]; q1.Respondents != 1 || q1.P != 1 {
		t.Errorf("q1 = %+v", q1)
	}
}

func TestExport(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	s := liveSession(t, e)
	save(t, e, s.ID, "s-1", "q1", `"A"`)
	save(t, e, s.ID, "s-1", "q2", `["C"]`)
	save(t, e, s.ID, "s-1", "q5", `"text"`)

	out, err := e.Export(ctx, tenant, s.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.NumQuestions != 5 || out.PassingGrade != 60 || !out.ExportedAt.Equal(t0) || len(out.Results) != 1 {
		t.Fatalf("export = %+v", out)
	}
	res := out.Results[0]
	if res.DisplayName != "Ana" || res.RoomName != "A" {
		t.Errorf("student = %+v", res)
	}
	verdicts := map[string]string{}
	for _, a := range res.Answers {
		verdicts[a.QuestionID] = a.Verdict
	}
	want := map[string]string{"q1": "correct", "q2": "incorrect", "q5": "ungraded"}
	if !reflect.DeepEqual(verdicts, want) {
		t.Errorf("verdicts = %v, want %v", verdicts, want)
	}
}

func TestPaperFor(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	pkg, err := e.GetPackage(ctx, tenant, "pkg-draft")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	pkg.ShuffleQuestions, pkg.ShuffleOptions, pkg.Ready = true, true, true
	if _, err := e.SavePackage(ctx, tenant, pkg); err != nil {
		t.Fatalf("SavePackage: %v", err)
	}
	alloc, err := e.CreateSession(ctx, tenant, model.Session{
		PackageID: "pkg-draft", Name: "Shuffled", StartsAt: t0,
		Rooms: []model.Room{newRoom("A", 3, "s-1", "s-2")},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sid := alloc.Session.ID

	first, err := e.PaperFor(ctx, tenant, sid, "s-1")
	if err != nil {
		t.Fatalf("PaperFor: %v", err)
	}
	again, _ := e.PaperFor(ctx, tenant, sid, "s-1")
	if !reflect.DeepEqual(first, again) {
		t.Error("paper is not stable across calls")
	}

	var ids []string
	for _, it := range first.Items {
		ids = append(ids, it.QuestionID)
	}
	slices.Sort(ids)
	if !reflect.DeepEqual(ids, []string{"q1", "q2", "q3", "q4", "q5"}) {
		t.Errorf("paper questions = %v", ids)
	}

	raw, _ := json.Marshal(first)
	for _, leak := range []string{`"correct"`, `"truth"`, `"right"`, "uses induction"} {
		if strings.Contains(string(raw), leak) {
			t.Errorf("paper leaks %s", leak)
		}
	}

	if _, err := e.PaperFor(ctx, tenant, sid, "s-6"); !errors.Is(err, model.ErrNotEnrolled) {
		t.Errorf("not enrolled: err = %v", err)
	}
}

func TestPaperForKeepsOrderWithoutShuffle(t *testing.T) {
	e := newTestEngine(t, nil)
	s := createSession(t, e, newRoom("A", 3, "s-1"))
	p, err := e.PaperFor(context.Background(), tenant, s.ID, "s-1")
	if err != nil {
		t.Fatalf("PaperFor: %v", err)
	}
	var ids []string
	for _, it := range p.Items {
		ids = append(ids, it.QuestionID)
	}
	if !reflect.DeepEqual(ids, []string{"q1", "q2", "q3", "q4", "q5"}) {
		t.Errorf("order = %v", ids)
	}
	match := p.Items[3]
	if !reflect.DeepEqual(match.Choices, []string{"3", "4"}) || match.Left[0].Key != "p1" {
		t.Errorf("matching item = %+v", match)
	}
	if p.DurationMinutes != 90 || p.RoomID != s.Rooms[0].ID {
		t.Errorf("paper = %+v", p)
	}
}

func TestImportFixtures(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	fx := model.Fixture{
		TenantID: "school-2",
		Students: []model.Student{{ID: "x-1", Name: "Xena", Level: "grade-9"}},
	}
	data, err := json.Marshal(fx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "school-2.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := e.ImportFixtures(ctx, []string{path})
	if err != nil || n != 1 {
		t.Fatalf("first import: n = %d, err = %v", n, err)
	}
	n, err = e.ImportFixtures(ctx, []string{path})
	if err != nil || n != 0 {
		t.Errorf("unchanged import: n = %d, err = %v", n, err)
	}

	fx.Students = append(fx.Students, model.Student{ID: "x-2", Name: "Yuri"})
	data, _ = json.Marshal(fx)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	n, err = e.ImportFixtures(ctx, []string{path})
	if err != nil || n != 0 {
		t.Errorf("changed import: n = %d, err = %v", n, err)
	}

	students, err := e.ListStudents(ctx, "school-2")
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(students) != 1 {
		t.Errorf("students = %+v, changed file should be skipped", students)
	}
}

func TestLoadFixtureKeepsReadyPackage(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	fx := fixture()
	fx.Packages[0].Name = "Renamed"
	if err := e.LoadFixture(ctx, fx); err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	p, err := e.GetPackage(ctx, tenant, "pkg-1")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if p.Name != "Math midterm" {
		t.Errorf("ready package changed to %q", p.Name)
	}
	if err := e.LoadFixture(ctx, model.Fixture{}); err == nil {
		t.Error("expected error for fixture without tenant")
	}
}
