package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

type sessionRow struct {
	ID        string     `db:"id"`
	TenantID  string     `db:"tenant_id"`
	PackageID string     `db:"package_id"`
	Name      string     `db:"name"`
	StartsAt  time.Time  `db:"starts_at"`
	EndsAt    time.Time  `db:"ends_at"`
	Status    string     `db:"status"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
}

type roomRow struct {
	ID            string `db:"id"`
	SessionID     string `db:"session_id"`
	Name          string `db:"name"`
	Position      int    `db:"position"`
	Capacity      int    `db:"capacity"`
	SupervisorID  string `db:"supervisor_id"`
	CoSupervisors string `db:"co_supervisors"`
	ProctorID     string `db:"proctor_id"`
	Token         string `db:"token"`
}

type seatRow struct {
	RoomID    string `db:"room_id"`
	StudentID string `db:"student_id"`
}

const sessionColumns = `id, tenant_id, package_id, name, starts_at, ends_at, status, started_at, ended_at`

// EnrollmentCommit reports the ledger change made by an enrollment save.
type EnrollmentCommit struct {
	Delta  int               `json:"delta"`
	Ledger model.QuotaLedger `json:"ledger"`
}

// CreateSession inserts a session with its rooms and enrollment. Seats are
// charged to the tenant's ledger in the same transaction.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) (EnrollmentCommit, error) {
	var commit EnrollmentCommit
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := exec(ctx, tx,
			`INSERT INTO exam_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.TenantID, sess.PackageID, sess.Name, sess.StartsAt, sess.EndsAt,
			string(sess.Status), sess.StartedAt, sess.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		commit, err = replaceEnrollment(ctx, tx, sess, 0)
		return err
	})
	if err != nil {
		logWriteFailure("create session", sess, err)
	}
	return commit, err
}

// GetSession returns a session with its rooms in position order.
func (s *Store) GetSession(ctx context.Context, tenantID, id string) (model.Session, error) {
	return getSession(ctx, s.db, tenantID, id)
}

func getSession(ctx context.Context, q dbtx, tenantID, id string) (model.Session, error) {
	var row sessionRow
	err := get(ctx, q, &row, `SELECT `+sessionColumns+` FROM exam_sessions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return model.Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	sess := model.Session{
		ID:        row.ID,
		TenantID:  row.TenantID,
		PackageID: row.PackageID,
		Name:      row.Name,
		StartsAt:  row.StartsAt,
		EndsAt:    row.EndsAt,
		Status:    model.SessionStatus(row.Status),
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
	}

	var rooms []roomRow
	err = sel(ctx, q, &rooms,
		`SELECT id, session_id, name, position, capacity, supervisor_id, co_supervisors, proctor_id, token
		 FROM rooms WHERE session_id = ? ORDER BY position, id`, id)
	if err != nil {
		return sess, fmt.Errorf("rooms of %s: %w", id, err)
	}
	var seats []seatRow
	err = sel(ctx, q, &seats,
		`SELECT room_id, student_id FROM room_students WHERE session_id = ? ORDER BY seat, student_id`, id)
	if err != nil {
		return sess, fmt.Errorf("enrollment of %s: %w", id, err)
	}
	byRoom := make(map[string][]string, len(rooms))
	for _, st := range seats {
		byRoom[st.RoomID] = append(byRoom[st.RoomID], st.StudentID)
	}
	for _, r := range rooms {
		room := model.Room{
			ID:           r.ID,
			Name:         r.Name,
			Position:     r.Position,
			Capacity:     r.Capacity,
			SupervisorID: r.SupervisorID,
			ProctorID:    r.ProctorID,
			StudentIDs:   byRoom[r.ID],
			Token:        r.Token,
		}
		if err := json.Unmarshal([]byte(r.CoSupervisors), &room.CoSupervisors); err != nil {
			return sess, fmt.Errorf("room %s co-supervisors: %w", r.ID, err)
		}
		sess.Rooms = append(sess.Rooms, room)
	}
	return sess, nil
}

// ListSessions returns a tenant's session headers, newest window first.
func (s *Store) ListSessions(ctx context.Context, tenantID string) ([]model.Session, error) {
	var rows []sessionRow
	err := sel(ctx, s.db, &rows,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE tenant_id = ? ORDER BY starts_at DESC, id`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Session{
			ID:        r.ID,
			TenantID:  r.TenantID,
			PackageID: r.PackageID,
			Name:      r.Name,
			StartsAt:  r.StartsAt,
			EndsAt:    r.EndsAt,
			Status:    model.SessionStatus(r.Status),
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
		})
	}
	return out, nil
}

// UpdateSessionStatus writes a status change, provided the stored status
// still equals from. A concurrent change yields ErrInvalidTransition.
func (s *Store) UpdateSessionStatus(ctx context.Context, sess model.Session, from model.SessionStatus) error {
	res, err := exec(ctx, s.db,
		`UPDATE exam_sessions SET status = ?, started_at = ?, ended_at = ?
		 WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(sess.Status), sess.StartedAt, sess.EndedAt, sess.TenantID, sess.ID, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s is no longer %s: %w", sess.ID, from, model.ErrInvalidTransition)
	}
	return nil
}

// CommitEnrollment replaces a session's rooms and enrollment. The seat
// delta against the stored enrollment is charged to the tenant's ledger by
// one conditional update in the same transaction, so concurrent commits can
// never push quota_used past quota_total. Finished sessions are read-only.
func (s *Store) CommitEnrollment(ctx context.Context, sess model.Session) (EnrollmentCommit, error) {
	var commit EnrollmentCommit
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := get(ctx, tx, &status,
			`SELECT status FROM exam_sessions WHERE tenant_id = ? AND id = ?`, sess.TenantID, sess.ID)
		if err != nil {
			return fmt.Errorf("session %s: %w", sess.ID, err)
		}
		if model.SessionStatus(status) == model.SessionFinished {
			return model.ErrSessionNotEditable
		}
		var before int
		err = get(ctx, tx, &before, `SELECT COUNT(*) FROM room_students WHERE session_id = ?`, sess.ID)
		if err != nil {
			return err
		}
		commit, err = replaceEnrollment(ctx, tx, sess, before)
		return err
	})
	if err != nil {
		logWriteFailure("commit enrollment", sess, err)
	}
	return commit, err
}

// logWriteFailure logs unexpected database errors. Quota and status
// rejections are the caller's to report.
func logWriteFailure(op string, sess model.Session, err error) {
	var quota *model.QuotaExceededError
	if errors.As(err, &quota) || errors.Is(err, model.ErrSessionNotEditable) || errors.Is(err, model.ErrNotFound) {
		return
	}
	slog.Error("failed to "+op, "tenant", sess.TenantID, "session", sess.ID, "error", err)
}

func replaceEnrollment(ctx context.Context, tx *sqlx.Tx, sess model.Session, before int) (EnrollmentCommit, error) {
	delta := sess.Enrolled() - before
	ledger, err := chargeSeats(ctx, tx, sess.TenantID, delta)
	if err != nil {
		return EnrollmentCommit{}, err
	}

	if _, err := exec(ctx, tx, `DELETE FROM room_students WHERE session_id = ?`, sess.ID); err != nil {
		return EnrollmentCommit{}, err
	}
	if _, err := exec(ctx, tx, `DELETE FROM rooms WHERE session_id = ?`, sess.ID); err != nil {
		return EnrollmentCommit{}, err
	}
	for _, room := range sess.Rooms {
		co, err := json.Marshal(append([]string{}, room.CoSupervisors...))
		if err != nil {
			return EnrollmentCommit{}, err
		}
		_, err = exec(ctx, tx,
			`INSERT INTO rooms (id, session_id, name, position, capacity, supervisor_id, co_supervisors, proctor_id, token)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			room.ID, sess.ID, room.Name, room.Position, room.Capacity, room.SupervisorID, string(co), room.ProctorID, room.Token,
		)
		if err != nil {
			return EnrollmentCommit{}, fmt.Errorf("insert room %s: %w", room.ID, err)
		}
		for seat, studentID := range room.StudentIDs {
			_, err := exec(ctx, tx,
				`INSERT INTO room_students (session_id, room_id, student_id, seat) VALUES (?, ?, ?, ?)`,
				sess.ID, room.ID, studentID, seat,
			)
			if err != nil {
				return EnrollmentCommit{}, fmt.Errorf("enroll %s in room %s: %w", studentID, room.ID, err)
			}
		}
	}
	return EnrollmentCommit{Delta: delta, Ledger: ledger}, nil
}

// chargeSeats applies delta to the tenant's ledger. A positive delta only
// succeeds while it fits; a negative one releases seats down to zero.
func chargeSeats(ctx context.Context, q dbtx, tenantID string, delta int) (model.QuotaLedger, error) {
	switch {
	case delta > 0:
		res, err := exec(ctx, q,
			`UPDATE quota_ledgers SET quota_used = quota_used + ?
			 WHERE tenant_id = ? AND quota_used + ? <= quota_total`,
			delta, tenantID, delta,
		)
		if err != nil {
			return model.QuotaLedger{}, fmt.Errorf("charge seats: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.QuotaLedger{}, err
		}
		if n == 0 {
			ledger, err := getLedger(ctx, q, tenantID)
			if err != nil {
				return model.QuotaLedger{}, err
			}
			return ledger, &model.QuotaExceededError{Requested: delta, Available: ledger.Available()}
		}
	case delta < 0:
		_, err := exec(ctx, q,
			`UPDATE quota_ledgers SET quota_used = CASE WHEN quota_used + ? < 0 THEN 0 ELSE quota_used + ? END
			 WHERE tenant_id = ?`,
			delta, delta, tenantID,
		)
		if err != nil {
			return model.QuotaLedger{}, fmt.Errorf("release seats: %w", err)
		}
	}
	return getLedger(ctx, q, tenantID)
}

// UpdateRoomToken replaces one room's entry token. The (session, token)
// uniqueness constraint rejects a token already in use in the session.
func (s *Store) UpdateRoomToken(ctx context.Context, tenantID, sessionID, roomID, token string) error {
	res, err := exec(ctx, s.db,
		`UPDATE rooms SET token = ? WHERE id = ? AND session_id IN
		   (SELECT id FROM exam_sessions WHERE tenant_id = ? AND id = ?)`,
		token, roomID, tenantID, sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", roomID, model.ErrNotFound)
	}
	return nil
}

// Entry locates the live room gated by token in which the student is enrolled.
type Entry struct {
	SessionID string `db:"session_id" json:"session_id"`
	RoomID    string `db:"room_id" json:"room_id"`
}

// FindEntry resolves a room-entry token for a student. Only live sessions
// are searched. ErrNotFound means no live room uses the token;
// ErrNotEnrolled means it does, but the student sits elsewhere.
func (s *Store) FindEntry(ctx context.Context, tenantID, token, studentID string) (Entry, error) {
	var e Entry
	err := get(ctx, s.db, &e,
		`SELECT r.session_id AS session_id, r.id AS room_id
		 FROM rooms r
		 JOIN exam_sessions s ON s.id = r.session_id
		 JOIN room_students rs ON rs.room_id = r.id AND rs.student_id = ?
		 WHERE s.tenant_id = ? AND s.status = ? AND r.token = ?`,
		studentID, tenantID, string(model.SessionLive), token,
	)
	if !errors.Is(err, model.ErrNotFound) {
		return e, err
	}
	var rooms int
	err = get(ctx, s.db, &rooms,
		`SELECT COUNT(*) FROM rooms r JOIN exam_sessions s ON s.id = r.session_id
		 WHERE s.tenant_id = ? AND s.status = ? AND r.token = ?`,
		tenantID, string(model.SessionLive), token,
	)
	if err != nil {
		return e, err
	}
	if rooms > 0 {
		return e, model.ErrNotEnrolled
	}
	return e, fmt.Errorf("entry token: %w", model.ErrNotFound)
}

type ledgerRow struct {
	TenantID   string `db:"tenant_id"`
	QuotaTotal int    `db:"quota_total"`
	QuotaUsed  int    `db:"quota_used"`
}

func getLedger(ctx context.Context, q dbtx, tenantID string) (model.QuotaLedger, error) {
	var row ledgerRow
	err := get(ctx, q, &row,
		`SELECT tenant_id, quota_total, quota_used FROM quota_ledgers WHERE tenant_id = ?`, tenantID)
	if errors.Is(err, model.ErrNotFound) {
		return model.QuotaLedger{TenantID: tenantID}, nil
	}
	if err != nil {
		return model.QuotaLedger{}, err
	}
	return model.QuotaLedger{TenantID: row.TenantID, QuotaTotal: row.QuotaTotal, QuotaUsed: row.QuotaUsed}, nil
}

// GetLedger returns the tenant's quota ledger. A tenant without a ledger has no seats.
func (s *Store) GetLedger(ctx context.Context, tenantID string) (model.QuotaLedger, error) {
	return getLedger(ctx, s.db, tenantID)
}

// SetQuota sets the tenant's seat total, keeping current usage.
func (s *Store) SetQuota(ctx context.Context, tenantID string, total int) error {
	_, err := exec(ctx, s.db,
		`INSERT INTO quota_ledgers (tenant_id, quota_total, quota_used) VALUES (?, ?, 0)
		 ON CONFLICT (tenant_id) DO UPDATE SET quota_total = excluded.quota_total`,
		tenantID, total,
	)
	return err
}
