package model

import (
	"encoding/json"
	"fmt"
)

// QuestionType names the variant of a question body.
type QuestionType string

const (
	TypeSingleChoice QuestionType = "single_choice"
	TypeMultiSelect  QuestionType = "multi_select"
	TypeTrueFalseSet QuestionType = "true_false_set"
	TypeMatching     QuestionType = "matching"
	TypeFreeText     QuestionType = "free_text"
)

// Body is the type-specific payload of a question. Exactly one variant
// applies per question and each variant carries only its own fields.
type Body interface {
	Type() QuestionType
	body()
}

// Option is a labelled choice of a single or multi choice question.
type Option struct {
	Label   string `json:"label"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Statement is one assertion of a true/false set.
type Statement struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Truth bool   `json:"truth"`
}

// Pair is one left/right line of a matching question.
type Pair struct {
	ID    string `json:"id"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

type SingleChoice struct {
	Options []Option `json:"options"`
}

type MultiSelect struct {
	Options []Option `json:"options"`
}

type TrueFalseSet struct {
	Statements []Statement `json:"statements"`
}

type Matching struct {
	Pairs []Pair `json:"pairs"`
}

// FreeText is graded manually by a reviewer.
type FreeText struct {
	Rubric      string `json:"rubric,omitempty"`
	ModelAnswer string `json:"model_answer,omitempty"`
}

func (SingleChoice) Type() QuestionType { return TypeSingleChoice }
func (MultiSelect) Type() QuestionType  { return TypeMultiSelect }
func (TrueFalseSet) Type() QuestionType { return TypeTrueFalseSet }
func (Matching) Type() QuestionType     { return TypeMatching }
func (FreeText) Type() QuestionType     { return TypeFreeText }

func (SingleChoice) body() {}
func (MultiSelect) body()  {}
func (TrueFalseSet) body() {}
func (Matching) body()     {}
func (FreeText) body()     {}

// Question is one assessable unit of a bank.
type Question struct {
	ID       string
	TenantID string
	BankID   string
	Topic    string
	Text     string
	Weight   float64
	Solution string
	Body     Body
}

// Type returns the question's variant, or "" when the body is missing.
func (q Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.Type()
}

// AutoGradable reports whether the question can be machine graded.
func (q Question) AutoGradable() bool {
	t := q.Type()
	return t != "" && t != TypeFreeText
}

type questionJSON struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id,omitempty"`
	BankID   string          `json:"bank_id"`
	Topic    string          `json:"topic"`
	Text     string          `json:"text"`
	Weight   float64         `json:"weight"`
	Solution string          `json:"solution,omitempty"`
	Type     QuestionType    `json:"type"`
	Body     json.RawMessage `json:"body"`
}

// MarshalJSON encodes the question as a type-tagged envelope.
func (q Question) MarshalJSON() ([]byte, error) {
	var body json.RawMessage = []byte("{}")
	if q.Body != nil {
		b, err := json.Marshal(q.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return json.Marshal(questionJSON{
		ID:       q.ID,
		TenantID: q.TenantID,
		BankID:   q.BankID,
		Topic:    q.Topic,
		Text:     q.Text,
		Weight:   q.Weight,
		Solution: q.Solution,
		Type:     q.Type(),
		Body:     body,
	})
}

// UnmarshalJSON decodes a type-tagged envelope.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := DecodeBody(raw.Type, raw.Body)
	if err != nil {
		return fmt.Errorf("question %s: %w", raw.ID, err)
	}
	*q = Question{
		ID:       raw.ID,
		TenantID: raw.TenantID,
		BankID:   raw.BankID,
		Topic:    raw.Topic,
		Text:     raw.Text,
		Weight:   raw.Weight,
		Solution: raw.Solution,
		Body:     body,
	}
	return nil
}

// DecodeBody decodes the payload for the given question type.
func DecodeBody(t QuestionType, data []byte) (Body, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var (
		b   Body
		err error
	)
	switch t {
	case TypeSingleChoice:
		var v SingleChoice
		err = json.Unmarshal(data, &v)
		b = v
	case TypeMultiSelect:
		var v MultiSelect
		err = json.Unmarshal(data, &v)
		b = v
	case TypeTrueFalseSet:
		var v TrueFalseSet
		err = json.Unmarshal(data, &v)
		b = v
	case TypeMatching:
		var v Matching
		err = json.Unmarshal(data, &v)
		b = v
	case TypeFreeText:
		var v FreeText
		err = json.Unmarshal(data, &v)
		b = v
	default:
		return nil, fmt.Errorf("unknown question type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", t, err)
	}
	return b, nil
}
