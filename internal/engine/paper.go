package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"

	"github.com/pavelanni/examhall/internal/model"
)

// Paper is the exam as presented to one student, without answer keys.
type Paper struct {
	SessionID       string      `json:"session_id"`
	StudentID       string      `json:"student_id"`
	RoomID          string      `json:"room_id"`
	DurationMinutes int         `json:"duration_minutes"`
	Items           []PaperItem `json:"items"`
}

// PaperItem is one question stripped of its solution.
type PaperItem struct {
	QuestionID string             `json:"question_id"`
	Type       model.QuestionType `json:"type"`
	Topic      string             `json:"topic,omitempty"`
	Text       string             `json:"text"`
	Weight     float64            `json:"weight"`
	Options    []PaperOption      `json:"options,omitempty"`
	Statements []PaperOption      `json:"statements,omitempty"`
	// Left holds the matching prompts keyed by pair ID; Choices the right-hand values.
	Left    []PaperOption `json:"left,omitempty"`
	Choices []string      `json:"choices,omitempty"`
}

// PaperOption is a displayable choice. Key is an option label or a
// statement or pair ID.
type PaperOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// PaperFor returns the questions in the order a student sees them. When the
// package shuffles, the order is seeded from the session and student so
// repeated calls return the same paper.
func (e *Engine) PaperFor(ctx context.Context, tenantID, sessionID, studentID string) (Paper, error) {
	x, err := e.loadExam(ctx, tenantID, sessionID)
	if err != nil {
		return Paper{}, err
	}
	roomID := roomOf(x.session, studentID)
	if roomID == "" {
		return Paper{}, fmt.Errorf("student %s in session %s: %w", studentID, sessionID, model.ErrNotEnrolled)
	}

	rng := paperRand(sessionID, studentID)
	qs := slices.Clone(x.questions)
	if x.pkg.ShuffleQuestions {
		rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}

	p := Paper{SessionID: sessionID, StudentID: studentID, RoomID: roomID, DurationMinutes: x.pkg.DurationMinutes}
	for _, q := range qs {
		p.Items = append(p.Items, paperItem(q, x.pkg.ShuffleOptions, rng))
	}
	return p, nil
}

func paperRand(sessionID, studentID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(studentID))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

func paperItem(q model.Question, shuffle bool, rng *rand.Rand) PaperItem {
	it := PaperItem{QuestionID: q.ID, Type: q.Type(), Topic: q.Topic, Text: q.Text, Weight: q.Weight}
	switch b := q.Body.(type) {
	case model.SingleChoice:
		it.Options = options(b.Options)
	case model.MultiSelect:
		it.Options = options(b.Options)
	case model.TrueFalseSet:
		for _, s := range b.Statements {
			it.Statements = append(it.Statements, PaperOption{Key: s.ID, Text: s.Text})
		}
	case model.Matching:
		for _, pr := range b.Pairs {
			it.Left = append(it.Left, PaperOption{Key: pr.ID, Text: pr.Left})
			it.Choices = append(it.Choices, pr.Right)
		}
		// Pair order would reveal the key.
		slices.Sort(it.Choices)
	}
	if shuffle {
		shuffleOptions(rng, it.Options)
		shuffleOptions(rng, it.Statements)
		shuffleOptions(rng, it.Left)
		rng.Shuffle(len(it.Choices), func(i, j int) { it.Choices[i], it.Choices[j] = it.Choices[j], it.Choices[i] })
	}
	return it
}

func options(opts []model.Option) []PaperOption {
	out := make([]PaperOption, 0, len(opts))
	for _, o := range opts {
		out = append(out, PaperOption{Key: o.Label, Text: o.Text})
	}
	return out
}

func shuffleOptions(rng *rand.Rand, s []PaperOption) {
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
