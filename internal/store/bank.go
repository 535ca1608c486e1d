package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

type questionRow struct {
	TenantID string  `db:"tenant_id"`
	ID       string  `db:"id"`
	BankID   string  `db:"bank_id"`
	Topic    string  `db:"topic"`
	Text     string  `db:"text"`
	Weight   float64 `db:"weight"`
	Solution string  `db:"solution"`
	Type     string  `db:"type"`
	Body     string  `db:"body"`
}

func (r questionRow) question() (model.Question, error) {
	body, err := model.DecodeBody(model.QuestionType(r.Type), []byte(r.Body))
	if err != nil {
		return model.Question{}, fmt.Errorf("question %s: %w", r.ID, err)
	}
	return model.Question{
		ID:       r.ID,
		TenantID: r.TenantID,
		BankID:   r.BankID,
		Topic:    r.Topic,
		Text:     r.Text,
		Weight:   r.Weight,
		Solution: r.Solution,
		Body:     body,
	}, nil
}

func questions(rows []questionRow) ([]model.Question, error) {
	out := make([]model.Question, 0, len(rows))
	for _, r := range rows {
		q, err := r.question()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

const questionColumns = `tenant_id, id, bank_id, topic, text, weight, solution, type, body`

// UpsertQuestion stores a question, replacing any previous version with the same ID.
func (s *Store) UpsertQuestion(ctx context.Context, q model.Question) error {
	if q.Body == nil {
		return fmt.Errorf("question %s has no body", q.ID)
	}
	body, err := json.Marshal(q.Body)
	if err != nil {
		return fmt.Errorf("encode question %s: %w", q.ID, err)
	}
	_, err = exec(ctx, s.db,
		`INSERT INTO questions (`+questionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, id) DO UPDATE SET
		   bank_id = excluded.bank_id, topic = excluded.topic, text = excluded.text,
		   weight = excluded.weight, solution = excluded.solution,
		   type = excluded.type, body = excluded.body`,
		q.TenantID, q.ID, q.BankID, q.Topic, q.Text, q.Weight, q.Solution, string(q.Type()), string(body),
	)
	return err
}

// ListQuestions returns a tenant's questions ordered by ID.
// An empty bankID lists every bank.
func (s *Store) ListQuestions(ctx context.Context, tenantID, bankID string) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE tenant_id = ?`
	args := []any{tenantID}
	if bankID != "" {
		query += ` AND bank_id = ?`
		args = append(args, bankID)
	}
	query += ` ORDER BY id`
	var rows []questionRow
	if err := sel(ctx, s.db, &rows, query, args...); err != nil {
		return nil, err
	}
	return questions(rows)
}

// GetQuestions returns the named questions in the order given.
// A missing ID is reported as ErrNotFound.
func (s *Store) GetQuestions(ctx context.Context, tenantID string, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []questionRow
	err := selectIn(ctx, s.db, &rows,
		`SELECT `+questionColumns+` FROM questions WHERE tenant_id = ? AND id IN (?)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]questionRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	ordered := make([]questionRow, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %s: %w", id, model.ErrNotFound)
		}
		ordered = append(ordered, r)
	}
	return questions(ordered)
}

// QuestionCount returns the number of questions a tenant owns.
func (s *Store) QuestionCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := get(ctx, s.db, &count, `SELECT COUNT(*) FROM questions WHERE tenant_id = ?`, tenantID)
	return count, err
}

type packageRow struct {
	TenantID         string  `db:"tenant_id"`
	ID               string  `db:"id"`
	Name             string  `db:"name"`
	BankID           string  `db:"bank_id"`
	QuestionIDs      string  `db:"question_ids"`
	DurationMinutes  int     `db:"duration_minutes"`
	ShuffleQuestions bool    `db:"shuffle_questions"`
	ShuffleOptions   bool    `db:"shuffle_options"`
	ScoringMode      string  `db:"scoring_mode"`
	NegativeMark     float64 `db:"negative_mark"`
	PassingGrade     float64 `db:"passing_grade"`
	TargetLevel      string  `db:"target_level"`
	Ready            bool    `db:"ready"`
}

func (r packageRow) pkg() (model.ExamPackage, error) {
	p := model.ExamPackage{
		ID:               r.ID,
		TenantID:         r.TenantID,
		Name:             r.Name,
		BankID:           r.BankID,
		DurationMinutes:  r.DurationMinutes,
		ShuffleQuestions: r.ShuffleQuestions,
		ShuffleOptions:   r.ShuffleOptions,
		ScoringMode:      model.ScoringMode(r.ScoringMode),
		NegativeMark:     r.NegativeMark,
		PassingGrade:     r.PassingGrade,
		TargetLevel:      r.TargetLevel,
		Ready:            r.Ready,
	}
	if err := json.Unmarshal([]byte(r.QuestionIDs), &p.QuestionIDs); err != nil {
		return p, fmt.Errorf("package %s question ids: %w", r.ID, err)
	}
	return p, nil
}

const packageColumns = `tenant_id, id, name, bank_id, question_ids, duration_minutes,
	shuffle_questions, shuffle_options, scoring_mode, negative_mark, passing_grade, target_level, ready`

// SavePackage creates or updates a package. A package already marked ready
// is immutable and the call fails with ErrPackageImmutable.
func (s *Store) SavePackage(ctx context.Context, p model.ExamPackage) error {
	if p.ScoringMode == "" {
		p.ScoringMode = model.ScoringStandard
	}
	ids, err := json.Marshal(append([]string{}, p.QuestionIDs...))
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var ready bool
		err := get(ctx, tx, &ready, `SELECT ready FROM packages WHERE tenant_id = ? AND id = ?`, p.TenantID, p.ID)
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return err
		case ready:
			return fmt.Errorf("package %s: %w", p.ID, model.ErrPackageImmutable)
		}
		_, err = exec(ctx, tx,
			`INSERT INTO packages (`+packageColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tenant_id, id) DO UPDATE SET
			   name = excluded.name, bank_id = excluded.bank_id, question_ids = excluded.question_ids,
			   duration_minutes = excluded.duration_minutes, shuffle_questions = excluded.shuffle_questions,
			   shuffle_options = excluded.shuffle_options, scoring_mode = excluded.scoring_mode,
			   negative_mark = excluded.negative_mark, passing_grade = excluded.passing_grade,
			   target_level = excluded.target_level, ready = excluded.ready`,
			p.TenantID, p.ID, p.Name, p.BankID, string(ids), p.DurationMinutes,
			p.ShuffleQuestions, p.ShuffleOptions, string(p.ScoringMode), p.NegativeMark,
			p.PassingGrade, p.TargetLevel, p.Ready,
		)
		return err
	})
}

// GetPackage returns a package by ID.
func (s *Store) GetPackage(ctx context.Context, tenantID, id string) (model.ExamPackage, error) {
	var row packageRow
	err := get(ctx, s.db, &row, `SELECT `+packageColumns+` FROM packages WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return model.ExamPackage{}, fmt.Errorf("package %s: %w", id, err)
	}
	return row.pkg()
}

// PackageQuestions resolves the questions of a package: its explicit list
// in order, or every question of its bank when the list is empty.
func (s *Store) PackageQuestions(ctx context.Context, p model.ExamPackage) ([]model.Question, error) {
	if len(p.QuestionIDs) > 0 {
		return s.GetQuestions(ctx, p.TenantID, p.QuestionIDs)
	}
	return s.ListQuestions(ctx, p.TenantID, p.BankID)
}
