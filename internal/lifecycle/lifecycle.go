// Package lifecycle governs session and result status transitions.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/pavelanni/examhall/internal/model"
)

// SyncOutcome is what the client reports about persisting a submission.
type SyncOutcome string

const (
	OutcomeSynced       SyncOutcome = "synced"
	OutcomeSavedLocally SyncOutcome = "saved_locally"
	OutcomeSyncFailed   SyncOutcome = "sync_failed"
)

var sessionNext = map[model.SessionStatus]model.SessionStatus{
	model.SessionPrepared: model.SessionLive,
	model.SessionLive:     model.SessionFinished,
}

// StartSession moves a prepared session to live.
func StartSession(s model.Session, now time.Time) (model.Session, error) {
	if s.Status != model.SessionPrepared {
		return s, transitionErr(string(s.Status), string(model.SessionLive))
	}
	s.Status = sessionNext[s.Status]
	s.StartedAt = &now
	return s, nil
}

// EndSession moves a live session to finished.
func EndSession(s model.Session, now time.Time) (model.Session, error) {
	if s.Status != model.SessionLive {
		return s, transitionErr(string(s.Status), string(model.SessionFinished))
	}
	s.Status = sessionNext[s.Status]
	s.EndedAt = &now
	return s, nil
}

// CanEditRooms reports whether rooms and enrollment may change.
func CanEditRooms(status model.SessionStatus) bool {
	return status == model.SessionPrepared || status == model.SessionLive
}

// resultEdges lists allowed result moves. Unsynced states repeat while the
// client keeps retrying.
var resultEdges = map[model.ResultStatus][]model.ResultStatus{
	model.StatusInProgress: {
		model.StatusSavedLocally, model.StatusSyncFailed,
		model.StatusFinished, model.StatusAwaitingCorrection, model.StatusAutoSubmitted,
	},
	model.StatusSavedLocally: {
		model.StatusSavedLocally, model.StatusSyncFailed,
		model.StatusFinished, model.StatusAwaitingCorrection, model.StatusAutoSubmitted,
	},
	model.StatusSyncFailed: {
		model.StatusSavedLocally, model.StatusSyncFailed,
		model.StatusFinished, model.StatusAwaitingCorrection, model.StatusAutoSubmitted,
	},
	model.StatusAwaitingCorrection: {
		model.StatusFinished, model.StatusAutoSubmitted,
	},
}

// CanTransition reports whether a result may move from one status to another.
func CanTransition(from, to model.ResultStatus) bool {
	for _, s := range resultEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status change is possible.
func Terminal(s model.ResultStatus) bool {
	return s == model.StatusFinished || s == model.StatusAutoSubmitted
}

// HandedIn reports whether the result reached the server as a completed
// submission, graded or awaiting a reviewer.
func HandedIn(s model.ResultStatus) bool {
	return s == model.StatusAwaitingCorrection || Terminal(s)
}

// Open reports whether the student may still change answers.
func Open(s model.ResultStatus) bool {
	return s == model.StatusInProgress
}

// Transition moves the result to status to, or fails without changing it.
func Transition(r model.Result, to model.ResultStatus) (model.Result, error) {
	if !CanTransition(r.Status, to) {
		return r, transitionErr(string(r.Status), string(to))
	}
	r.Status = to
	return r, nil
}

// Submit applies a client's submission outcome. A synced submission becomes
// finished, or awaiting correction when free-text items still need a reviewer.
func Submit(r model.Result, outcome SyncOutcome, pendingManual bool, now time.Time) (model.Result, error) {
	var to model.ResultStatus
	switch outcome {
	case OutcomeSavedLocally:
		to = model.StatusSavedLocally
	case OutcomeSyncFailed:
		to = model.StatusSyncFailed
	case OutcomeSynced:
		to = model.StatusFinished
		if pendingManual {
			to = model.StatusAwaitingCorrection
		}
	default:
		return r, fmt.Errorf("unknown sync outcome %q: %w", outcome, model.ErrInvalidTransition)
	}
	out, err := Transition(r, to)
	if err != nil {
		return r, err
	}
	out.Synced = outcome == OutcomeSynced
	if out.EndedAt == nil {
		out.EndedAt = &now
	}
	out.UpdatedAt = now
	return out, nil
}

// ForceSubmit is the operator override: it closes any unfinished result
// while the owning session is live.
func ForceSubmit(r model.Result, session model.Session, now time.Time) (model.Result, error) {
	if session.Status != model.SessionLive {
		return r, model.ErrSessionNotLive
	}
	out, err := Transition(r, model.StatusAutoSubmitted)
	if err != nil {
		return r, err
	}
	out.EndedAt = &now
	out.UpdatedAt = now
	return out, nil
}

// Complete finishes a result whose manual grading resolved. Force-submitted
// results keep their terminal status.
func Complete(r model.Result, now time.Time) (model.Result, error) {
	r.UpdatedAt = now
	switch r.Status {
	case model.StatusAutoSubmitted, model.StatusFinished:
		return r, nil
	case model.StatusAwaitingCorrection:
		return Transition(r, model.StatusFinished)
	}
	return r, transitionErr(string(r.Status), string(model.StatusFinished))
}

func transitionErr(from, to string) error {
	return fmt.Errorf("%s -> %s: %w", from, to, model.ErrInvalidTransition)
}
