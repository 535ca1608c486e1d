package allocation

import (
	"github.com/pavelanni/examhall/internal/model"
)

// SetRoomRoster replaces one room's roster and returns the edited copy.
// The input session is never modified.
func SetRoomRoster(s model.Session, roomID string, studentIDs []string) (model.Session, error) {
	i := s.Room(roomID)
	if i < 0 {
		return s, model.ErrNotFound
	}
	room := s.Rooms[i]
	if len(studentIDs) > room.Capacity {
		return s, &model.CapacityError{RoomID: room.ID, Capacity: room.Capacity, Size: len(studentIDs)}
	}
	owner := make(map[string]string)
	for _, r := range s.Rooms {
		if r.ID == roomID {
			continue
		}
		for _, id := range r.StudentIDs {
			owner[id] = r.ID
		}
	}
	seen := make(map[string]bool, len(studentIDs))
	roster := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if other, ok := owner[id]; ok {
			return s, &model.ConflictError{StudentID: id, RoomID: roomID, OtherRoom: other}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		roster = append(roster, id)
	}
	out := s.Clone()
	out.Rooms[i].StudentIDs = roster
	return out, nil
}

// CheckRosters verifies capacity and the one-room-per-student rule for
// every room of the session.
func CheckRosters(s model.Session) error {
	owner := make(map[string]string)
	for _, r := range s.Rooms {
		if len(r.StudentIDs) > r.Capacity {
			return &model.CapacityError{RoomID: r.ID, Capacity: r.Capacity, Size: len(r.StudentIDs)}
		}
		for _, id := range r.StudentIDs {
			if other, ok := owner[id]; ok {
				return &model.ConflictError{StudentID: id, RoomID: r.ID, OtherRoom: other}
			}
			owner[id] = r.ID
		}
	}
	return nil
}
