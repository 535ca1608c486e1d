package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

type essayRow struct {
	ResultID          string     `db:"result_id"`
	QuestionID        string     `db:"question_id"`
	SuggestedScore    *float64   `db:"suggested_score"`
	SuggestedFeedback string     `db:"suggested_feedback"`
	ReviewerScore     *float64   `db:"reviewer_score"`
	ReviewerComment   string     `db:"reviewer_comment"`
	ReviewedBy        string     `db:"reviewed_by"`
	ReviewedAt        *time.Time `db:"reviewed_at"`
}

// UpsertSuggestion stores a suggested score and feedback for one essay
// answer. Reviewer fields are left untouched.
func (s *Store) UpsertSuggestion(ctx context.Context, resultID, questionID string, score float64, feedback string) error {
	_, err := exec(ctx, s.db,
		`INSERT INTO essay_scores (result_id, question_id, suggested_score, suggested_feedback)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (result_id, question_id) DO UPDATE SET
		   suggested_score = excluded.suggested_score, suggested_feedback = excluded.suggested_feedback`,
		resultID, questionID, score, feedback,
	)
	return err
}

// ListEssayScores returns the essay scores recorded for a result.
func (s *Store) ListEssayScores(ctx context.Context, resultID string) ([]model.EssayScore, error) {
	var rows []essayRow
	err := sel(ctx, s.db, &rows,
		`SELECT result_id, question_id, suggested_score, suggested_feedback,
		        reviewer_score, reviewer_comment, reviewed_by, reviewed_at
		 FROM essay_scores WHERE result_id = ? ORDER BY question_id`, resultID)
	if err != nil {
		return nil, err
	}
	out := make([]model.EssayScore, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.EssayScore(r))
	}
	return out, nil
}

// SaveReview records reviewer marks and the regraded result header in one
// transaction.
func (s *Store) SaveReview(ctx context.Context, r model.Result, scores []model.EssayScore) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, sc := range scores {
			_, err := exec(ctx, tx,
				`INSERT INTO essay_scores (result_id, question_id, reviewer_score, reviewer_comment, reviewed_by, reviewed_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (result_id, question_id) DO UPDATE SET
				   reviewer_score = excluded.reviewer_score, reviewer_comment = excluded.reviewer_comment,
				   reviewed_by = excluded.reviewed_by, reviewed_at = excluded.reviewed_at`,
				r.ID, sc.QuestionID, sc.ReviewerScore, sc.ReviewerComment, sc.ReviewedBy, sc.ReviewedAt,
			)
			if err != nil {
				return err
			}
		}
		return updateResult(ctx, tx, r)
	})
}
