// Package analysis computes item difficulty and topic absorption over a cohort of results.
package analysis

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pavelanni/examhall/internal/grading"
	"github.com/pavelanni/examhall/internal/model"
)

// Difficulty classifies an item by its difficulty index.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Recommendation is the authoring advice for an item.
type Recommendation string

const (
	Retain Recommendation = "retain"
	Revise Recommendation = "revise"
)

// Uncategorized labels questions without a topic.
const Uncategorized = "UNCATEGORIZED"

// ItemAnalysis is the difficulty report for one question.
type ItemAnalysis struct {
	QuestionID     string         `json:"question_id"`
	Topic          string         `json:"topic"`
	Respondents    int            `json:"respondents"`
	Correct        int            `json:"correct"`
	P              float64        `json:"p"`
	Difficulty     Difficulty     `json:"difficulty"`
	Recommendation Recommendation `json:"recommendation"`
}

// TopicAbsorption is the share of correct answers within one topic.
type TopicAbsorption struct {
	Topic      string `json:"topic"`
	Questions  int    `json:"questions"`
	Answers    int    `json:"answers"`
	Correct    int    `json:"correct"`
	Absorption int    `json:"absorption"` // rounded percentage
}

// Classify maps a difficulty index to its class; both 0.30 and 0.70 are medium.
func Classify(p float64) Difficulty {
	switch {
	case p > 0.70:
		return Easy
	case p < 0.30:
		return Hard
	}
	return Medium
}

// Recommend retains items strictly between 0.10 and 0.90.
func Recommend(p float64) Recommendation {
	if p > 0.10 && p < 0.90 {
		return Retain
	}
	return Revise
}

// Index is correct over respondents, or 0 without respondents.
func Index(correct, respondents int) float64 {
	if respondents == 0 {
		return 0
	}
	return float64(correct) / float64(respondents)
}

var topicCaser = cases.Upper(language.Und)

// NormalizeTopic case-normalizes a topic label.
func NormalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Uncategorized
	}
	return topicCaser.String(topic)
}

type counts struct {
	answers int
	correct int
}

// tally counts non-empty answers and correct answers per question.
// Free-text questions are skipped.
func tally(questions []model.Question, results []model.Result) map[string]counts {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		if q.AutoGradable() {
			byID[q.ID] = q
		}
	}
	out := make(map[string]counts, len(byID))
	for _, r := range results {
		for _, a := range r.Answers {
			q, ok := byID[a.QuestionID]
			if !ok || grading.IsBlank(a.Value) {
				continue
			}
			c := out[q.ID]
			c.answers++
			if grading.IsCorrect(q, a.Value) {
				c.correct++
			}
			out[q.ID] = c
		}
	}
	return out
}

// Items reports the difficulty of every auto-gradable question, in question order.
func Items(questions []model.Question, results []model.Result) []ItemAnalysis {
	counted := tally(questions, results)
	out := make([]ItemAnalysis, 0, len(questions))
	for _, q := range questions {
		if !q.AutoGradable() {
			continue
		}
		c := counted[q.ID]
		p := Index(c.correct, c.answers)
		out = append(out, ItemAnalysis{
			QuestionID:     q.ID,
			Topic:          NormalizeTopic(q.Topic),
			Respondents:    c.answers,
			Correct:        c.correct,
			P:              p,
			Difficulty:     Classify(p),
			Recommendation: Recommend(p),
		})
	}
	return out
}

// Topics groups questions by normalized topic and reports absorption rates,
// highest first.
func Topics(questions []model.Question, results []model.Result) []TopicAbsorption {
	counted := tally(questions, results)
	byTopic := make(map[string]*TopicAbsorption)
	for _, q := range questions {
		if !q.AutoGradable() {
			continue
		}
		label := NormalizeTopic(q.Topic)
		t, ok := byTopic[label]
		if !ok {
			t = &TopicAbsorption{Topic: label}
			byTopic[label] = t
		}
		c := counted[q.ID]
		t.Questions++
		t.Answers += c.answers
		t.Correct += c.correct
	}
	out := make([]TopicAbsorption, 0, len(byTopic))
	for _, t := range byTopic {
		if t.Answers > 0 {
			t.Absorption = int(math.Round(float64(t.Correct) / float64(t.Answers) * 100))
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Absorption != out[j].Absorption {
			return out[i].Absorption > out[j].Absorption
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// Summary describes a cohort's grades.
type Summary struct {
	Results  int     `json:"results"`
	Graded   int     `json:"graded"`
	Pending  int     `json:"pending"`
	Passed   int     `json:"passed"`
	Mean     float64 `json:"mean_grade"`
	PassRate float64 `json:"pass_rate"`
}

// Summarize aggregates final grades. Results without a final grade count as pending.
func Summarize(results []model.Result) Summary {
	s := Summary{Results: len(results)}
	var total float64
	for _, r := range results {
		if r.FinalGrade == nil {
			s.Pending++
			continue
		}
		s.Graded++
		total += *r.FinalGrade
		if r.Passed {
			s.Passed++
		}
	}
	if s.Graded > 0 {
		s.Mean = total / float64(s.Graded)
		s.PassRate = float64(s.Passed) / float64(s.Graded)
	}
	return s
}
