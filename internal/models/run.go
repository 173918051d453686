package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus captures the solver run lifecycle.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Finished reports whether the run reached a terminal state.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is a persisted solver invocation.
type Run struct {
	ID           string      `db:"id" json:"id"`
	DatasetID    string      `db:"dataset_id" json:"datasetId"`
	Fingerprint  string      `db:"fingerprint" json:"fingerprint"`
	Status       RunStatus   `db:"status" json:"status"`
	Options      RunOptions  `db:"options" json:"options"`
	Summary      *RunSummary `db:"summary" json:"summary,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedBy    string      `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time  `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt   *time.Time  `db:"finished_at" json:"finishedAt,omitempty"`
}

// RunOptions stores the solver knobs a run was requested with, persisted as JSONB.
type RunOptions struct {
	TimeBudgetSeconds      int      `json:"timeBudgetSeconds,omitempty"`
	AggressiveAfterSeconds int      `json:"aggressiveAfterSeconds,omitempty"`
	MaxAttempts            int      `json:"maxAttempts,omitempty"`
	Workers                int      `json:"workers,omitempty"`
	Seed                   int64    `json:"seed,omitempty"`
	Strategies             []string `json:"strategies,omitempty"`
	Relax                  []string `json:"relax,omitempty"`
	SubstituteScope        string   `json:"substituteScope,omitempty"`
	SkipCache              bool     `json:"skipCache,omitempty"`
}

// Value marshals options to JSON for persistence.
func (o RunOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal run options: %w", err)
	}
	// Strings bind as text; lib/pq would send []byte as bytea, which JSONB rejects.
	return string(data), nil
}

// Scan unmarshals JSON payloads into the options struct.
func (o *RunOptions) Scan(value interface{}) error {
	*o = RunOptions{}
	return scanJSON(value, o, "RunOptions")
}

// RunSummary is the persisted digest of a finished run.
type RunSummary struct {
	TotalTasks    int    `json:"totalTasks"`
	RequiredHours int    `json:"requiredHours"`
	PlacedHours   int    `json:"placedHours"`
	FailedTasks   int    `json:"failedTasks"`
	RoomsUsed     int    `json:"roomsUsed"`
	Substitutions int    `json:"substitutions"`
	ExtraSessions int    `json:"extraSessions"`
	Attempts      int    `json:"attempts"`
	BestAttempt   int    `json:"bestAttempt"`
	Aggressive    bool   `json:"aggressive"`
	Seed          int64  `json:"seed"`
	ElapsedMs     int64  `json:"elapsedMs"`
	StopReason    string `json:"stopReason"`
	Cached        bool   `json:"cached,omitempty"`
}

// Value marshals the summary to JSON for persistence.
func (s RunSummary) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return string(data), nil
}

// Scan unmarshals JSON payloads into the summary struct.
func (s *RunSummary) Scan(value interface{}) error {
	*s = RunSummary{}
	return scanJSON(value, s, "RunSummary")
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

// RunAssignment is one booked session of a run.
type RunAssignment struct {
	RunID            string `db:"run_id" json:"-"`
	TaskID           string `db:"task_id" json:"taskId"`
	SubjectID        string `db:"subject_id" json:"subjectId"`
	SubjectName      string `db:"subject_name" json:"subjectName"`
	GroupID          string `db:"group_id" json:"groupId"`
	NominalTeacherID string `db:"nominal_teacher_id" json:"nominalTeacherId"`
	TeacherID        string `db:"teacher_id" json:"teacherId"`
	RoomID           string `db:"room_id" json:"roomId"`
	Day              int    `db:"day" json:"day"`
	StartPeriod      int    `db:"start_period" json:"startPeriod"`
	Duration         int    `db:"duration" json:"duration"`
	IsSubstitute     bool   `db:"is_substitute" json:"isSubstitute"`
	IsExtra          bool   `db:"is_extra" json:"isExtra"`
	Strategy         string `db:"strategy" json:"strategy"`
	Session          int    `db:"session" json:"session"`
	Sessions         int    `db:"sessions" json:"sessions"`
}

// RunFailure is a task the run could not place.
type RunFailure struct {
	RunID            string `db:"run_id" json:"-"`
	TaskID           string `db:"task_id" json:"taskId"`
	SubjectID        string `db:"subject_id" json:"subjectId"`
	SubjectName      string `db:"subject_name" json:"subjectName"`
	GroupID          string `db:"group_id" json:"groupId"`
	TeacherID        string `db:"teacher_id" json:"teacherId"`
	Hours            int    `db:"hours" json:"hours"`
	Reason           string `db:"reason" json:"reason"`
	TeacherFreeSlots int    `db:"teacher_free_slots" json:"teacherFreeSlots"`
	GroupFreeSlots   int    `db:"group_free_slots" json:"groupFreeSlots"`
}

// RunFilter narrows run listings.
type RunFilter struct {
	DatasetID string
	Status    RunStatus
	Page      int
	PageSize  int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
