package model

import (
	"encoding/json"
	"time"
)

// SessionExport is the top-level JSON structure for result export.
type SessionExport struct {
	TenantID     string          `json:"tenant_id"`
	SessionID    string          `json:"session_id"`
	SessionName  string          `json:"session_name"`
	PackageID    string          `json:"package_id"`
	PassingGrade float64         `json:"passing_grade"`
	NumQuestions int             `json:"num_questions"`
	ExportedAt   time.Time       `json:"exported_at"`
	Results      []StudentExport `json:"results"`
}

// StudentExport holds one student's result for export.
type StudentExport struct {
	StudentID   string         `json:"student_id"`
	DisplayName string         `json:"display_name"`
	RoomName    string         `json:"room_name"`
	Status      ResultStatus   `json:"status"`
	Answered    int            `json:"answered"`
	Correct     int            `json:"correct"`
	Incorrect   int            `json:"incorrect"`
	Ungraded    int            `json:"ungraded"`
	Score       float64        `json:"score"`
	MaxScore    float64        `json:"max_score"`
	FinalGrade  *float64       `json:"final_grade,omitempty"`
	Passed      bool           `json:"passed"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Answers     []AnswerExport `json:"answers"`
}

// AnswerExport holds per-question data for export.
type AnswerExport struct {
	QuestionID string          `json:"question_id"`
	Type       QuestionType    `json:"type"`
	Topic      string          `json:"topic"`
	Weight     float64         `json:"weight"`
	Value      json.RawMessage `json:"value,omitempty"`
	Doubtful   bool            `json:"doubtful"`
	Verdict    string          `json:"verdict"`
}
