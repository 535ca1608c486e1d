package allocation

import (
	"strings"

	"github.com/pavelanni/examhall/internal/model"
)

// EligiblePool filters the roster to students of the target level, keeping
// roster order. An empty level admits everyone.
func EligiblePool(roster []model.Student, level string) []string {
	level = strings.TrimSpace(level)
	pool := make([]string, 0, len(roster))
	for _, st := range roster {
		if level == "" || strings.EqualFold(strings.TrimSpace(st.Level), level) {
			pool = append(pool, st.ID)
		}
	}
	return pool
}

// AutoDistribute clears every roster and fills rooms in their configured
// order with the next min(capacity, remaining) students of the pool.
// The result depends only on pool order and room order.
func AutoDistribute(s model.Session, pool []string) model.Session {
	out := s.Clone()
	cursor := 0
	for i := range out.Rooms {
		out.Rooms[i].StudentIDs = nil
		remaining := len(pool) - cursor
		n := out.Rooms[i].Capacity
		if remaining < n {
			n = remaining
		}
		if n <= 0 {
			continue
		}
		out.Rooms[i].StudentIDs = append([]string(nil), pool[cursor:cursor+n]...)
		cursor += n
	}
	return out
}

// Unplaced returns the pool members that no room received.
func Unplaced(s model.Session, pool []string) []string {
	placed := make(map[string]bool, len(pool))
	for _, r := range s.Rooms {
		for _, id := range r.StudentIDs {
			placed[id] = true
		}
	}
	var out []string
	for _, id := range pool {
		if !placed[id] {
			out = append(out, id)
		}
	}
	return out
}
