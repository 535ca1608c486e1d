package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examhall/internal/model"
)

// ExportSession builds export-ready results for one session: every result
// with the student's display name and room. Answer verdicts are left for
// the caller, which owns the grading rules.
func (s *Store) ExportSession(ctx context.Context, tenantID, sessionID string) (model.SessionExport, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return model.SessionExport{}, err
	}
	results, err := s.ListResults(ctx, tenantID, sessionID)
	if err != nil {
		return model.SessionExport{}, fmt.Errorf("list results: %w", err)
	}

	var ids []string
	for _, r := range results {
		ids = append(ids, r.StudentID)
	}
	roster, err := s.GetStudents(ctx, tenantID, ids)
	if err != nil {
		return model.SessionExport{}, fmt.Errorf("get students: %w", err)
	}
	names := make(map[string]string, len(roster))
	for _, st := range roster {
		names[st.ID] = st.Name
	}
	rooms := make(map[string]string)
	for _, room := range sess.Rooms {
		for _, id := range room.StudentIDs {
			rooms[id] = room.Name
		}
	}

	export := model.SessionExport{
		TenantID:    tenantID,
		SessionID:   sess.ID,
		SessionName: sess.Name,
		PackageID:   sess.PackageID,
	}
	for _, r := range results {
		se := model.StudentExport{
			StudentID:   r.StudentID,
			DisplayName: names[r.StudentID],
			RoomName:    rooms[r.StudentID],
			Status:      r.Status,
			Answered:    r.Answered,
			Correct:     r.Correct,
			Incorrect:   r.Incorrect,
			Ungraded:    r.Ungraded,
			Score:       r.Score,
			MaxScore:    r.MaxScore,
			FinalGrade:  r.FinalGrade,
			Passed:      r.Passed,
			StartedAt:   r.StartedAt,
			EndedAt:     r.EndedAt,
		}
		for _, a := range r.Answers {
			se.Answers = append(se.Answers, model.AnswerExport{
				QuestionID: a.QuestionID,
				Value:      a.Value,
				Doubtful:   a.Doubtful,
			})
		}
		export.Results = append(export.Results, se)
	}
	return export, nil
}
