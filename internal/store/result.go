package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

type resultRow struct {
	ID         string     `db:"id"`
	TenantID   string     `db:"tenant_id"`
	SessionID  string     `db:"session_id"`
	StudentID  string     `db:"student_id"`
	Status     string     `db:"status"`
	Synced     bool       `db:"synced"`
	Answered   int        `db:"answered"`
	Correct    int        `db:"correct"`
	Incorrect  int        `db:"incorrect"`
	Ungraded   int        `db:"ungraded"`
	Score      float64    `db:"score"`
	MaxScore   float64    `db:"max_score"`
	FinalGrade *float64   `db:"final_grade"`
	Passed     bool       `db:"passed"`
	StartedAt  time.Time  `db:"started_at"`
	EndedAt    *time.Time `db:"ended_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r resultRow) result() model.Result {
	return model.Result{
		ID:         r.ID,
		TenantID:   r.TenantID,
		SessionID:  r.SessionID,
		StudentID:  r.StudentID,
		Status:     model.ResultStatus(r.Status),
		Synced:     r.Synced,
		Answered:   r.Answered,
		Correct:    r.Correct,
		Incorrect:  r.Incorrect,
		Ungraded:   r.Ungraded,
		Score:      r.Score,
		MaxScore:   r.MaxScore,
		FinalGrade: r.FinalGrade,
		Passed:     r.Passed,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type answerRow struct {
	ResultID   string    `db:"result_id"`
	QuestionID string    `db:"question_id"`
	Value      string    `db:"value"`
	Doubtful   bool      `db:"doubtful"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r answerRow) answer() model.Answer {
	return model.Answer{
		QuestionID: r.QuestionID,
		Value:      json.RawMessage(r.Value),
		Doubtful:   r.Doubtful,
		UpdatedAt:  r.UpdatedAt,
	}
}

const resultColumns = `id, tenant_id, session_id, student_id, status, synced, answered, correct, incorrect,
	ungraded, score, max_score, final_grade, passed, started_at, ended_at, updated_at`

// CreateResult inserts a new result. A second result for the same
// (session, student) violates the unique key.
func (s *Store) CreateResult(ctx context.Context, r model.Result) error {
	_, err := exec(ctx, s.db,
		`INSERT INTO results (`+resultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.SessionID, r.StudentID, string(r.Status), r.Synced, r.Answered, r.Correct, r.Incorrect,
		r.Ungraded, r.Score, r.MaxScore, r.FinalGrade, r.Passed, r.StartedAt, r.EndedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult returns a student's result for a session, with answers.
func (s *Store) GetResult(ctx context.Context, tenantID, sessionID, studentID string) (model.Result, error) {
	var row resultRow
	err := get(ctx, s.db, &row,
		`SELECT `+resultColumns+` FROM results WHERE tenant_id = ? AND session_id = ? AND student_id = ?`,
		tenantID, sessionID, studentID)
	if err != nil {
		return model.Result{}, fmt.Errorf("result of %s: %w", studentID, err)
	}
	r := row.result()
	var answers []answerRow
	err = sel(ctx, s.db, &answers,
		`SELECT result_id, question_id, value, doubtful, updated_at FROM answers WHERE result_id = ? ORDER BY question_id`, r.ID)
	if err != nil {
		return r, err
	}
	for _, a := range answers {
		r.Answers = append(r.Answers, a.answer())
	}
	return r, nil
}

// ListResults returns every result of a session with answers, ordered by student.
func (s *Store) ListResults(ctx context.Context, tenantID, sessionID string) ([]model.Result, error) {
	var rows []resultRow
	err := sel(ctx, s.db, &rows,
		`SELECT `+resultColumns+` FROM results WHERE tenant_id = ? AND session_id = ? ORDER BY student_id`,
		tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	var answers []answerRow
	err = sel(ctx, s.db, &answers,
		`SELECT a.result_id, a.question_id, a.value, a.doubtful, a.updated_at
		 FROM answers a JOIN results r ON r.id = a.result_id
		 WHERE r.tenant_id = ? AND r.session_id = ? ORDER BY a.result_id, a.question_id`,
		tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	byResult := make(map[string][]model.Answer, len(rows))
	for _, a := range answers {
		byResult[a.ResultID] = append(byResult[a.ResultID], a.answer())
	}
	out := make([]model.Result, 0, len(rows))
	for _, row := range rows {
		r := row.result()
		r.Answers = byResult[r.ID]
		out = append(out, r)
	}
	return out, nil
}

// UpdateResult writes a result header and upserts the given answers in one
// transaction.
func (s *Store) UpdateResult(ctx context.Context, r model.Result, changed ...model.Answer) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateResult(ctx, tx, r); err != nil {
			return err
		}
		for _, a := range changed {
			value := string(a.Value)
			if value == "" {
				value = "null"
			}
			_, err := exec(ctx, tx,
				`INSERT INTO answers (result_id, question_id, value, doubtful, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (result_id, question_id) DO UPDATE SET
				   value = excluded.value, doubtful = excluded.doubtful, updated_at = excluded.updated_at`,
				r.ID, a.QuestionID, value, a.Doubtful, a.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("save answer %s: %w", a.QuestionID, err)
			}
		}
		return nil
	})
}

func updateResult(ctx context.Context, q dbtx, r model.Result) error {
	res, err := exec(ctx, q,
		`UPDATE results SET status = ?, synced = ?, answered = ?, correct = ?, incorrect = ?, ungraded = ?,
		   score = ?, max_score = ?, final_grade = ?, passed = ?, ended_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		string(r.Status), r.Synced, r.Answered, r.Correct, r.Incorrect, r.Ungraded,
		r.Score, r.MaxScore, r.FinalGrade, r.Passed, r.EndedAt, r.UpdatedAt,
		r.TenantID, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", r.ID, model.ErrNotFound)
	}
	return nil
}
