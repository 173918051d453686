package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// ViewKind selects whose timetable is projected from a result.
type ViewKind int

const (
	ViewTeacher ViewKind = iota
	ViewGroup
	ViewRoom
)

// viewFields maps a view to the assignment fields it reads.
type viewFields struct {
	name string
	// key identifies the owner of the timetable.
	key func(Assignment) string
	// detail is shown under the subject in each cell.
	detail func(Assignment) string
}

var views = [...]viewFields{
	ViewTeacher: {
		name:   "teacher",
		key:    func(a Assignment) string { return a.TeacherID },
		detail: func(a Assignment) string { return joinDetail(a.GroupID, a.RoomID) },
	},
	ViewGroup: {
		name:   "group",
		key:    func(a Assignment) string { return a.GroupID },
		detail: func(a Assignment) string { return joinDetail(a.TeacherID, a.RoomID) },
	},
	ViewRoom: {
		name:   "room",
		key:    func(a Assignment) string { return a.RoomID },
		detail: func(a Assignment) string { return joinDetail(a.GroupID, a.TeacherID) },
	},
}

// ViewKinds lists every view.
func ViewKinds() []ViewKind {
	return []ViewKind{ViewTeacher, ViewGroup, ViewRoom}
}

// ParseViewKind accepts "teacher", "group" or "room" in any case.
func ParseViewKind(raw string) (ViewKind, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for i, v := range views {
		if v.name == name {
			return ViewKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", raw)
}

// String returns the lower-case view name.
func (k ViewKind) String() string {
	if k < 0 || int(k) >= len(views) {
		return "unknown"
	}
	return views[k].name
}

// Key returns the owner id of the assignment in this view.
func (k ViewKind) Key(a Assignment) string {
	return views[k].key(a)
}

// Detail returns the secondary cell text for the assignment in this view.
func (k ViewKind) Detail(a Assignment) string {
	return views[k].detail(a)
}

// Keys returns the distinct non-empty owners present in the assignments, sorted.
func (k ViewKind) Keys(assignments []Assignment) []string {
	set := make(map[string]struct{})
	for _, a := range assignments {
		if key := k.Key(a); key != "" {
			set[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Filter returns the assignments belonging to key.
func (k ViewKind) Filter(assignments []Assignment, key string) []Assignment {
	var out []Assignment
	for _, a := range assignments {
		if k.Key(a) == key {
			out = append(out, a)
		}
	}
	return out
}

// Cell is one (day, period) entry of a projected timetable.
type Cell struct {
	Subject    string        `json:"subject,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Substitute bool          `json:"substitute,omitempty"`
	Extra      bool          `json:"extra,omitempty"`
	Blackout   BlackoutClass `json:"blackout,omitempty"`
}

// Empty reports whether nothing is booked or blacked out in the cell.
func (c Cell) Empty() bool {
	return c.Subject == "" && c.Blackout == ""
}

// Timetable is the day × period projection of one owner's assignments.
type Timetable struct {
	View    string   `json:"view"`
	Key     string   `json:"key"`
	Days    []string `json:"days"`
	Periods int      `json:"periods"`
	// Cells is indexed [period-1][day-1].
	Cells [][]Cell `json:"cells"`
}

// Project lays the owner's assignments onto the grid. Blackouts are labelled where no assignment
// covers them.
func (k ViewKind) Project(grid Grid, assignments []Assignment, key string) Timetable {
	t := Timetable{View: k.String(), Key: key, Periods: grid.Periods}
	for day := 1; day <= grid.Days; day++ {
		t.Days = append(t.Days, DayName(day))
	}
	blackouts := grid.blackoutIndex()
	t.Cells = make([][]Cell, grid.Periods)
	for p := range t.Cells {
		t.Cells[p] = make([]Cell, grid.Days)
		for d := range t.Cells[p] {
			if class, ok := blackouts[Coord{Day: d + 1, Period: p + 1}]; ok {
				t.Cells[p][d].Blackout = class
			}
		}
	}
	for _, a := range k.Filter(assignments, key) {
		for p := a.StartPeriod; p <= a.EndPeriod(); p++ {
			if !grid.Contains(Coord{Day: a.Day, Period: p}) {
				continue
			}
			t.Cells[p-1][a.Day-1] = Cell{
				Subject:    SessionLabel(a),
				Detail:     k.Detail(a),
				Substitute: a.IsSubstitute,
				Extra:      a.IsExtra,
			}
		}
	}
	return t
}

// SessionLabel returns the subject name with a "(k/n)" suffix for multi-session tasks.
func SessionLabel(a Assignment) string {
	if a.Sessions > 1 {
		return fmt.Sprintf("%s (%d/%d)", a.SubjectName, a.Session, a.Sessions)
	}
	return a.SubjectName
}

func joinDetail(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " / ")
}
