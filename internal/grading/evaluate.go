// Package grading evaluates submitted answers and turns them into grades.
package grading

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pavelanni/examhall/internal/model"
)

// Verdict is the outcome of evaluating one answer.
type Verdict string

const (
	VerdictCorrect    Verdict = "correct"
	VerdictIncorrect  Verdict = "incorrect"
	VerdictUngraded   Verdict = "ungraded"
	VerdictUnanswered Verdict = "unanswered"
)

// IsCorrect reports whether raw is a correct answer to q. Absent, null and
// malformed answers are incorrect; free-text questions are never correct.
func IsCorrect(q model.Question, raw json.RawMessage) bool {
	return Evaluate(q, raw) == VerdictCorrect
}

// Evaluate classifies raw against the correctness rule of q's type.
func Evaluate(q model.Question, raw json.RawMessage) Verdict {
	if IsBlank(raw) {
		return VerdictUnanswered
	}
	var ok bool
	switch b := q.Body.(type) {
	case model.SingleChoice:
		ok = singleChoice(b, raw)
	case model.MultiSelect:
		ok = multiSelect(b, raw)
	case model.TrueFalseSet:
		ok = trueFalseSet(b, raw)
	case model.Matching:
		ok = matching(b, raw)
	case model.FreeText:
		return VerdictUngraded
	default:
		ok = false
	}
	if ok {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

// IsBlank reports whether raw carries no answer at all.
func IsBlank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func singleChoice(b model.SingleChoice, raw json.RawMessage) bool {
	key := ""
	for _, o := range b.Options {
		if o.Correct {
			if key != "" {
				return false
			}
			key = o.Label
		}
	}
	if key == "" {
		return false
	}
	selected, ok := decodeLabel(raw)
	return ok && selected == key
}

// decodeLabel accepts "B" or a one-element ["B"].
func decodeLabel(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) == 1 {
		return strings.TrimSpace(list[0]), true
	}
	return "", false
}

func multiSelect(b model.MultiSelect, raw json.RawMessage) bool {
	want := make(map[string]struct{})
	for _, o := range b.Options {
		if o.Correct {
			want[o.Label] = struct{}{}
		}
	}
	if len(want) == 0 {
		return false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return false
	}
	got := make(map[string]struct{}, len(list))
	for _, s := range list {
		got[strings.TrimSpace(s)] = struct{}{}
	}
	if len(got) != len(want) {
		return false
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			return false
		}
	}
	return true
}

func trueFalseSet(b model.TrueFalseSet, raw json.RawMessage) bool {
	if len(b.Statements) == 0 {
		return false
	}
	var answers map[string]bool
	if err := json.Unmarshal(raw, &answers); err != nil {
		return false
	}
	for _, st := range b.Statements {
		v, ok := answers[st.ID]
		if !ok || v != st.Truth {
			return false
		}
	}
	return true
}

func matching(b model.Matching, raw json.RawMessage) bool {
	if len(b.Pairs) == 0 {
		return false
	}
	var answers map[string]string
	if err := json.Unmarshal(raw, &answers); err != nil {
		return false
	}
	for _, p := range b.Pairs {
		v, ok := answers[p.ID]
		if !ok || v != p.Right {
			return false
		}
	}
	return true
}
