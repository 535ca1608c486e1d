package grading

import (
	"encoding/json"

	"github.com/pavelanni/examhall/internal/model"
)

// Rules are the package-level scoring parameters.
type Rules struct {
	Mode         model.ScoringMode
	NegativeMark float64 // fraction of the weight deducted per wrong answer in negative mode
	PassingGrade float64
}

// RulesFor extracts scoring rules from a package.
func RulesFor(p model.ExamPackage) Rules {
	return Rules{Mode: p.ScoringMode, NegativeMark: p.NegativeMark, PassingGrade: p.PassingGrade}
}

// Tally is the automatic pass over a question list.
type Tally struct {
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
	ManualMax float64 `json:"manual_max"`
	Answered  int     `json:"answered"`
	Correct   int     `json:"correct"`
	Incorrect int     `json:"incorrect"`
	Ungraded  int     `json:"ungraded"`
	// FreeText lists every free-text question; Pending only those with an answer.
	FreeText []string `json:"free_text,omitempty"`
	Pending  []string `json:"pending,omitempty"`
}

// Assessment is a tally plus the grade, once it can be computed.
type Assessment struct {
	Tally
	PendingManual bool     `json:"pending_manual"`
	ManualScore   float64  `json:"manual_score"`
	TotalScore    float64  `json:"total_score"`
	TotalMax      float64  `json:"total_max"`
	FinalGrade    *float64 `json:"final_grade,omitempty"`
	Passed        bool     `json:"passed"`
}

func weight(q model.Question) float64 {
	if q.Weight < 0 {
		return 0
	}
	return q.Weight
}

func answerIndex(answers []model.Answer) map[string]json.RawMessage {
	idx := make(map[string]json.RawMessage, len(answers))
	for _, a := range answers {
		idx[a.QuestionID] = a.Value
	}
	return idx
}

// Score sums the weights of correctly answered auto-gradable questions.
// Free-text weight is kept out of MaxScore and reported as ManualMax.
func Score(questions []model.Question, answers []model.Answer, rules Rules) Tally {
	idx := answerIndex(answers)
	var t Tally
	var penalty float64
	for _, q := range questions {
		raw := idx[q.ID]
		w := weight(q)
		if q.Type() == model.TypeFreeText {
			t.ManualMax += w
			t.FreeText = append(t.FreeText, q.ID)
		} else {
			t.MaxScore += w
		}
		switch Evaluate(q, raw) {
		case VerdictCorrect:
			t.Answered++
			t.Correct++
			t.Score += w
		case VerdictIncorrect:
			t.Answered++
			t.Incorrect++
			penalty += rules.NegativeMark * w
		case VerdictUngraded:
			t.Answered++
			t.Ungraded++
			t.Pending = append(t.Pending, q.ID)
		}
	}
	if rules.Mode == model.ScoringNegative {
		t.Score -= penalty
		if t.Score < 0 {
			t.Score = 0
		}
	}
	return t
}

// Grade runs the automatic pass. When any free-text question exists the
// assessment stays pending and carries no final grade.
func Grade(questions []model.Question, answers []model.Answer, rules Rules) Assessment {
	a := Assessment{Tally: Score(questions, answers, rules)}
	if len(a.FreeText) > 0 {
		a.PendingManual = true
		return a
	}
	a.finish(0, rules)
	return a
}

// ApplyManual merges reviewer marks for free-text questions and computes
// the final grade over the complete question set. Every free-text question
// needs a mark, including ones left blank. Marks are clamped to [0, weight].
func ApplyManual(questions []model.Question, a Assessment, marks map[string]float64, rules Rules) (Assessment, error) {
	var manual float64
	for _, q := range questions {
		if q.Type() != model.TypeFreeText {
			continue
		}
		m, ok := marks[q.ID]
		if !ok {
			return a, model.ErrManualIncomplete
		}
		manual += Clamp(m, weight(q))
	}
	a.PendingManual = false
	a.finish(manual, rules)
	return a, nil
}

func (a *Assessment) finish(manual float64, rules Rules) {
	a.ManualScore = manual
	a.TotalScore = a.Score + manual
	a.TotalMax = a.MaxScore + a.ManualMax
	g := FinalGrade(a.TotalScore, a.TotalMax)
	a.FinalGrade = &g
	a.Passed = g >= rules.PassingGrade
}

// FinalGrade is the percentage of score over max, or 0 when max is 0.
func FinalGrade(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max * 100
}

// Clamp bounds a reviewer mark to [0, weight].
func Clamp(mark, weight float64) float64 {
	if mark < 0 {
		return 0
	}
	if mark > weight {
		return weight
	}
	return mark
}
