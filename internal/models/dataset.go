package models

import "time"

// Teacher is a staff member who can be booked for lessons.
type Teacher struct {
	ID        string `db:"id" json:"id"`
	DatasetID string `db:"dataset_id" json:"-"`
	Name      string `db:"name" json:"name"`
	Role      string `db:"role" json:"role,omitempty"`
}

// Group is a student group (class section) that attends lessons together.
type Group struct {
	ID        string `db:"id" json:"id"`
	DatasetID string `db:"dataset_id" json:"-"`
	Name      string `db:"name" json:"name"`
	Size      int    `db:"size" json:"size"`
	Advisor   string `db:"advisor" json:"advisor,omitempty"`
}

// Room is a bookable teaching space tagged with a room type.
type Room struct {
	ID        string `db:"id" json:"id"`
	DatasetID string `db:"dataset_id" json:"-"`
	Name      string `db:"name" json:"name,omitempty"`
	Type      string `db:"room_type" json:"roomType"`
}

// Subject carries the raw hour fields as delivered by the ingestion step. Any of them may be blank
// or non-numeric; the task builder coerces them.
type Subject struct {
	ID           string `db:"id" json:"id"`
	DatasetID    string `db:"dataset_id" json:"-"`
	Name         string `db:"name" json:"name"`
	Hours        string `db:"hours" json:"hours,omitempty"`
	Theory       string `db:"theory" json:"theory,omitempty"`
	Practice     string `db:"practice" json:"practice,omitempty"`
	Credit       string `db:"credit" json:"credit,omitempty"`
	RoomType     string `db:"room_type" json:"roomType,omitempty"`
	SessionSplit string `db:"session_split" json:"sessionSplit,omitempty"`
}

// Registration links a group to a subject it must be taught.
type Registration struct {
	DatasetID string `db:"dataset_id" json:"-"`
	GroupID   string `db:"group_id" json:"groupId"`
	SubjectID string `db:"subject_id" json:"subjectId"`
	TeacherID string `db:"teacher_id" json:"teacherId,omitempty"`
	RoomType  string `db:"room_type" json:"roomType,omitempty"`
}

// TeachAssignment records that a teacher teaches a subject, a group, or a subject to a group.
type TeachAssignment struct {
	DatasetID string `db:"dataset_id" json:"-"`
	TeacherID string `db:"teacher_id" json:"teacherId"`
	SubjectID string `db:"subject_id" json:"subjectId,omitempty"`
	GroupID   string `db:"group_id" json:"groupId,omitempty"`
}

// Dataset bundles the normalised record sets for one scheduling input.
type Dataset struct {
	ID            string            `json:"id,omitempty"`
	Teachers      []Teacher         `json:"teachers"`
	Groups        []Group           `json:"groups"`
	Rooms         []Room            `json:"rooms"`
	Subjects      []Subject         `json:"subjects"`
	Registrations []Registration    `json:"registrations"`
	Teaching      []TeachAssignment `json:"teaching"`
}

// DatasetSummary is the lightweight listing view of a stored dataset.
type DatasetSummary struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
