package model

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a scheduled sitting.
type SessionStatus string

const (
	SessionPrepared SessionStatus = "prepared"
	SessionLive     SessionStatus = "live"
	SessionFinished SessionStatus = "finished"
)

// ResultStatus represents the state of one student's result record.
type ResultStatus string

const (
	StatusInProgress         ResultStatus = "in_progress"
	StatusSavedLocally       ResultStatus = "saved_locally"
	StatusSyncFailed         ResultStatus = "sync_failed"
	StatusFinished           ResultStatus = "finished"
	StatusAutoSubmitted      ResultStatus = "auto_submitted"
	StatusAwaitingCorrection ResultStatus = "awaiting_correction"
)

// ScoringMode selects how wrong answers affect the automatic score.
type ScoringMode string

const (
	ScoringStandard ScoringMode = "standard"
	ScoringNegative ScoringMode = "negative"
)

// Student is a roster entry read from the tenant's profile data.
type Student struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Level    string `json:"level"`
}

// ExamPackage is the academic definition of an exam, independent of scheduling.
type ExamPackage struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenant_id"`
	Name             string      `json:"name"`
	BankID           string      `json:"bank_id"`
	QuestionIDs      []string    `json:"question_ids"`
	DurationMinutes  int         `json:"duration_minutes"`
	ShuffleQuestions bool        `json:"shuffle_questions"`
	ShuffleOptions   bool        `json:"shuffle_options"`
	ScoringMode      ScoringMode `json:"scoring_mode"`
	NegativeMark     float64     `json:"negative_mark"`
	PassingGrade     float64     `json:"passing_grade"`
	TargetLevel      string      `json:"target_level"`
	Ready            bool        `json:"ready"`
}

// Room is a capacity-bounded group inside a session.
type Room struct {
	ID            string   `json:"id"`
	Name          string   `json:"name" validate:"required"`
	Position      int      `json:"position"`
	Capacity      int      `json:"capacity" validate:"gte=0"`
	SupervisorID  string   `json:"supervisor_id" validate:"required"`
	CoSupervisors []string `json:"co_supervisors,omitempty"`
	ProctorID     string   `json:"proctor_id,omitempty"`
	StudentIDs    []string `json:"student_ids"`
	Token         string   `json:"token"`
}

// Clone returns a deep copy so edits never alias another view of the room.
func (r Room) Clone() Room {
	r.CoSupervisors = append([]string(nil), r.CoSupervisors...)
	r.StudentIDs = append([]string(nil), r.StudentIDs...)
	return r
}

// Session is one scheduled sitting of a package.
type Session struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	PackageID string        `json:"package_id" validate:"required"`
	Name      string        `json:"name" validate:"required"`
	StartsAt  time.Time     `json:"starts_at"`
	EndsAt    time.Time     `json:"ends_at"`
	Status    SessionStatus `json:"status"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Rooms     []Room        `json:"rooms" validate:"min=1,dive"`
}

// Clone returns a deep copy of the session and its rooms.
func (s Session) Clone() Session {
	rooms := make([]Room, len(s.Rooms))
	for i, r := range s.Rooms {
		rooms[i] = r.Clone()
	}
	s.Rooms = rooms
	return s
}

// Room returns the index of the room with the given ID, or -1.
func (s Session) Room(id string) int {
	for i, r := range s.Rooms {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Enrolled returns the total number of enrolled students across all rooms.
func (s Session) Enrolled() int {
	n := 0
	for _, r := range s.Rooms {
		n += len(r.StudentIDs)
	}
	return n
}

// Answer is a single submitted answer inside a result.
type Answer struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	Doubtful   bool            `json:"doubtful"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Result is one student's outcome for one session.
type Result struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	SessionID  string       `json:"session_id"`
	StudentID  string       `json:"student_id"`
	Status     ResultStatus `json:"status"`
	Synced     bool         `json:"synced"`
	Answered   int          `json:"answered"`
	Correct    int          `json:"correct"`
	Incorrect  int          `json:"incorrect"`
	Ungraded   int          `json:"ungraded"`
	Score      float64      `json:"score"`
	MaxScore   float64      `json:"max_score"`
	FinalGrade *float64     `json:"final_grade,omitempty"`
	Passed     bool         `json:"passed"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Answers    []Answer     `json:"answers,omitempty"`
}

// AnswerFor returns the answer for a question, or nil.
func (r *Result) AnswerFor(questionID string) *Answer {
	for i := range r.Answers {
		if r.Answers[i].QuestionID == questionID {
			return &r.Answers[i]
		}
	}
	return nil
}

// QuotaLedger is the tenant-wide seat budget consumed by enrollment.
type QuotaLedger struct {
	TenantID   string `json:"tenant_id"`
	QuotaTotal int    `json:"quota_total"`
	QuotaUsed  int    `json:"quota_used"`
}

// Available returns the number of seats left in the ledger.
func (l QuotaLedger) Available() int {
	return l.QuotaTotal - l.QuotaUsed
}

// EssayScore holds the suggested and reviewer scores for one free-text answer.
type EssayScore struct {
	ResultID          string     `json:"result_id"`
	QuestionID        string     `json:"question_id"`
	SuggestedScore    *float64   `json:"suggested_score,omitempty"`
	SuggestedFeedback string     `json:"suggested_feedback,omitempty"`
	ReviewerScore     *float64   `json:"reviewer_score,omitempty"`
	ReviewerComment   string     `json:"reviewer_comment,omitempty"`
	ReviewedBy        string     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
}

// EngineConfig holds runtime parameters set via CLI flags.
type EngineConfig struct {
	TokenLength   int    // entry token length
	TokenAttempts int    // regeneration attempts on collision
	PromptVariant string // essay suggestion prompt variant (strict, standard, lenient)
}

// Fixture is the bootstrap data document loaded by the seed command.
type Fixture struct {
	TenantID   string        `json:"tenant_id"`
	QuotaTotal int           `json:"quota_total"`
	Students   []Student     `json:"students"`
	Questions  []Question    `json:"questions"`
	Packages   []ExamPackage `json:"packages"`
}
