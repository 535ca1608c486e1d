package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examhall/internal/allocation"
	"github.com/pavelanni/examhall/internal/lifecycle"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

// Allocation is the outcome of an enrollment save.
type Allocation struct {
	Session  model.Session     `json:"session"`
	Delta    int               `json:"delta"`
	Ledger   model.QuotaLedger `json:"ledger"`
	Unplaced []string          `json:"unplaced,omitempty"`
}

// CreateSession schedules a ready package. Rooms may arrive with rosters
// already filled; their seats are charged to the tenant's quota.
func (e *Engine) CreateSession(ctx context.Context, tenantID string, in model.Session) (Allocation, error) {
	pkg, err := e.store.GetPackage(ctx, tenantID, in.PackageID)
	if err != nil {
		return Allocation{}, err
	}
	if !pkg.Ready {
		return Allocation{}, fmt.Errorf("package %s: %w", pkg.ID, model.ErrPackageNotReady)
	}

	s := in.Clone()
	s.TenantID = tenantID
	if s.ID == "" {
		s.ID = e.newID()
	}
	s.Status = model.SessionPrepared
	s.StartedAt, s.EndedAt = nil, nil

	s, err = e.prepareRooms(s)
	if err != nil {
		return Allocation{}, err
	}
	commit, err := e.store.CreateSession(ctx, s)
	if err != nil {
		return Allocation{}, err
	}
	slog.Info("session created",
		"tenant", tenantID, "session", s.ID, "package", pkg.ID,
		"rooms", len(s.Rooms), "enrolled", s.Enrolled(), "quota_used", commit.Ledger.QuotaUsed)
	return Allocation{Session: s, Delta: commit.Delta, Ledger: commit.Ledger}, nil
}

// GetSession returns a session with its rooms.
func (e *Engine) GetSession(ctx context.Context, tenantID, sessionID string) (model.Session, error) {
	return e.store.GetSession(ctx, tenantID, sessionID)
}

// ListSessions returns the tenant's session headers.
func (e *Engine) ListSessions(ctx context.Context, tenantID string) ([]model.Session, error) {
	return e.store.ListSessions(ctx, tenantID)
}

// CommitEnrollment replaces a session's rooms and rosters. The quota check
// and both writes happen in one transaction; on any failure nothing changes.
func (e *Engine) CommitEnrollment(ctx context.Context, tenantID string, in model.Session) (Allocation, error) {
	current, err := e.store.GetSession(ctx, tenantID, in.ID)
	if err != nil {
		return Allocation{}, err
	}
	next := current.Clone()
	next.Rooms = in.Clone().Rooms
	return e.commit(ctx, next, nil)
}

// AllocateRooms clears every room and refills them in room order from the
// students eligible for the package's target level.
func (e *Engine) AllocateRooms(ctx context.Context, tenantID, sessionID string) (Allocation, error) {
	current, err := e.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return Allocation{}, err
	}
	pkg, err := e.store.GetPackage(ctx, tenantID, current.PackageID)
	if err != nil {
		return Allocation{}, err
	}
	roster, err := e.store.ListStudents(ctx, tenantID)
	if err != nil {
		return Allocation{}, fmt.Errorf("list students: %w", err)
	}
	pool := allocation.EligiblePool(roster, pkg.TargetLevel)
	next := allocation.AutoDistribute(current, pool)
	return e.commit(ctx, next, allocation.Unplaced(next, pool))
}

func (e *Engine) commit(ctx context.Context, next model.Session, unplaced []string) (Allocation, error) {
	if !lifecycle.CanEditRooms(next.Status) {
		return Allocation{}, model.ErrSessionNotEditable
	}
	next, err := e.prepareRooms(next)
	if err != nil {
		return Allocation{}, err
	}
	commit, err := e.store.CommitEnrollment(ctx, next)
	if err != nil {
		return Allocation{}, err
	}
	slog.Info("enrollment committed",
		"tenant", next.TenantID, "session", next.ID, "rooms", len(next.Rooms),
		"enrolled", next.Enrolled(), "delta", commit.Delta, "unplaced", len(unplaced),
		"quota_used", commit.Ledger.QuotaUsed, "quota_total", commit.Ledger.QuotaTotal)
	return Allocation{Session: next, Delta: commit.Delta, Ledger: commit.Ledger, Unplaced: unplaced}, nil
}

// prepareRooms assigns room IDs and positions, validates every field and
// roster, and issues missing or duplicate tokens.
func (e *Engine) prepareRooms(s model.Session) (model.Session, error) {
	s = s.Clone()
	for i := range s.Rooms {
		if s.Rooms[i].ID == "" {
			s.Rooms[i].ID = e.newID()
		}
		s.Rooms[i].Position = i
	}
	if err := e.validator.Session(s); err != nil {
		return s, err
	}
	if !s.EndsAt.IsZero() && s.EndsAt.Before(s.StartsAt) {
		return s, model.NewValidationError(model.FieldError{Field: "ends_at", Error: "must not be before starts_at"})
	}
	if err := allocation.CheckRosters(s); err != nil {
		return s, err
	}
	return allocation.EnsureTokens(s, e.tokens, e.cfg.TokenAttempts)
}

// RegenerateToken issues a fresh entry token for one room.
func (e *Engine) RegenerateToken(ctx context.Context, tenantID, sessionID, roomID string) (model.Room, error) {
	current, err := e.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return model.Room{}, err
	}
	if !lifecycle.CanEditRooms(current.Status) {
		return model.Room{}, model.ErrSessionNotEditable
	}
	next, err := allocation.RegenerateToken(current, roomID, e.tokens, e.cfg.TokenAttempts)
	if err != nil {
		return model.Room{}, fmt.Errorf("room %s: %w", roomID, err)
	}
	room := next.Rooms[next.Room(roomID)]
	if err := e.store.UpdateRoomToken(ctx, tenantID, sessionID, roomID, room.Token); err != nil {
		return model.Room{}, err
	}
	slog.Info("room token regenerated", "tenant", tenantID, "session", sessionID, "room", roomID)
	return room, nil
}

// StartSession moves a prepared session to live.
func (e *Engine) StartSession(ctx context.Context, tenantID, sessionID string) (model.Session, error) {
	return e.transition(ctx, tenantID, sessionID, lifecycle.StartSession)
}

// EndSession moves a live session to finished. Its rooms become read-only.
func (e *Engine) EndSession(ctx context.Context, tenantID, sessionID string) (model.Session, error) {
	return e.transition(ctx, tenantID, sessionID, lifecycle.EndSession)
}

func (e *Engine) transition(ctx context.Context, tenantID, sessionID string,
	step func(model.Session, time.Time) (model.Session, error)) (model.Session, error) {
	current, err := e.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	next, err := step(current, e.now())
	if err != nil {
		return current, err
	}
	if err := e.store.UpdateSessionStatus(ctx, next, current.Status); err != nil {
		return current, err
	}
	slog.Info("session status changed", "tenant", tenantID, "session", sessionID,
		"from", current.Status, "to", next.Status)
	return next, nil
}

// Entry is a resolved room-entry token.
type Entry = store.Entry

// ResolveEntry finds the live room a student may enter with token.
func (e *Engine) ResolveEntry(ctx context.Context, tenantID, token, studentID string) (Entry, error) {
	return e.store.FindEntry(ctx, tenantID, token, studentID)
}

// Ledger returns the tenant's seat quota.
func (e *Engine) Ledger(ctx context.Context, tenantID string) (model.QuotaLedger, error) {
	return e.store.GetLedger(ctx, tenantID)
}
