// Package monitor derives the live per-student status shown on the proctoring dashboard.
package monitor

import (
	"time"

	"github.com/pavelanni/examhall/internal/model"
)

// Status is the display status of one enrolled student.
type Status string

const (
	NotLoggedIn Status = "not_logged_in"
	InProgress  Status = "in_progress"
	PendingSync Status = "saved_locally_pending_sync"
	SyncFailed  Status = "sync_failed"
	Submitted   Status = "submitted"
)

// Derive computes the status of an enrolled student from their result, if any.
// It holds no state and must be re-evaluated on every refresh.
func Derive(student model.Student, r *model.Result) Status {
	if r == nil {
		return NotLoggedIn
	}
	switch {
	case r.Synced:
		return Submitted
	case r.Status == model.StatusSavedLocally:
		return PendingSync
	case r.Status == model.StatusSyncFailed:
		return SyncFailed
	case r.Status == model.StatusFinished, r.Status == model.StatusAutoSubmitted:
		return Submitted
	}
	return InProgress
}

// Row is one line of the monitoring board.
type Row struct {
	RoomID      string     `json:"room_id"`
	RoomName    string     `json:"room_name"`
	StudentID   string     `json:"student_id"`
	StudentName string     `json:"student_name"`
	Status      Status     `json:"status"`
	Answered    int        `json:"answered"`
	Doubtful    int        `json:"doubtful"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// BoardView is the full dashboard for one session.
type BoardView struct {
	SessionID string         `json:"session_id"`
	Rows      []Row          `json:"rows"`
	Totals    map[Status]int `json:"totals"`
}

// Board builds the dashboard rows for every enrolled student in room order.
// Students missing from the roster are shown by id.
func Board(session model.Session, roster []model.Student, results []model.Result) BoardView {
	students := make(map[string]model.Student, len(roster))
	for _, st := range roster {
		students[st.ID] = st
	}
	byStudent := make(map[string]*model.Result, len(results))
	for i := range results {
		if results[i].SessionID != "" && results[i].SessionID != session.ID {
			continue
		}
		byStudent[results[i].StudentID] = &results[i]
	}

	view := BoardView{SessionID: session.ID, Totals: make(map[Status]int)}
	for _, room := range session.Rooms {
		for _, id := range room.StudentIDs {
			st, ok := students[id]
			if !ok {
				st = model.Student{ID: id, Name: id}
			}
			r := byStudent[id]
			row := Row{
				RoomID:      room.ID,
				RoomName:    room.Name,
				StudentID:   id,
				StudentName: st.Name,
				Status:      Derive(st, r),
			}
			if r != nil {
				row.Answered = r.Answered
				for _, a := range r.Answers {
					if a.Doubtful {
						row.Doubtful++
					}
				}
				updated := r.UpdatedAt
				row.LastUpdate = &updated
			}
			view.Totals[row.Status]++
			view.Rows = append(view.Rows, row)
		}
	}
	return view
}
