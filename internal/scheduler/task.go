package scheduler

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-timetable/internal/models"
)

const (
	defaultHours        = 2
	activitySubjectID   = "ACTIVITY"
	activitySubjectName = "Activity"
	ungroupedID         = "UNGROUPED"
	unassignedPrefix    = "UNASSIGNED:"

	// maxWeeklyHours bounds any hour figure read from a dataset; larger values are malformed.
	maxWeeklyHours = 40
)

// Task is one schedulable teaching obligation.
type Task struct {
	ID          string `json:"id"`
	TeacherID   string `json:"teacherId"`
	GroupID     string `json:"groupId"`
	SubjectID   string `json:"subjectId"`
	SubjectName string `json:"subjectName"`
	RoomType    string `json:"roomType,omitempty"`
	Hours       int    `json:"hours"`
	// Splits lists the session-duration alternatives, least fragmented first. Splits[0] is the
	// nominal session list; every alternative sums to Hours.
	Splits [][]int `json:"splits"`
}

// Sessions returns the nominal session durations.
func (t Task) Sessions() []int {
	if len(t.Splits) == 0 {
		return []int{t.Hours}
	}
	return t.Splits[0]
}

// HasPlaceholderTeacher reports whether the builder had to invent the teacher.
func (t Task) HasPlaceholderTeacher() bool {
	return strings.HasPrefix(t.TeacherID, unassignedPrefix)
}

// Plan is the Task Builder output consumed by the allocator.
type Plan struct {
	Tasks           []Task
	Rooms           []models.Room
	Groups          []string
	Teachers        []string
	SubjectTeachers map[string][]string
}

// TotalHours sums the required hours of every task.
func (p Plan) TotalHours() int {
	total := 0
	for _, task := range p.Tasks {
		total += task.Hours
	}
	return total
}

// BuildPlan derives the task list from normalised records. Missing or malformed values are
// defaulted, never rejected.
func BuildPlan(data models.Dataset) Plan {
	subjects := make(map[string]models.Subject, len(data.Subjects))
	for _, subject := range data.Subjects {
		id := strings.TrimSpace(subject.ID)
		if id == "" {
			continue
		}
		if _, seen := subjects[id]; !seen {
			subjects[id] = subject
		}
	}
	teach := newTeachIndex(data.Teaching)

	var tasks []Task
	seen := make(map[string]bool)
	add := func(task Task) {
		if seen[task.ID] {
			return
		}
		seen[task.ID] = true
		tasks = append(tasks, task)
	}

	for _, reg := range data.Registrations {
		groupID := normalizeGroup(reg.GroupID)
		subjectID := strings.TrimSpace(reg.SubjectID)
		if subjectID == "" {
			continue
		}
		subject := subjects[subjectID]
		taskID := groupID + "_" + subjectID
		teacherID := strings.TrimSpace(reg.TeacherID)
		if teacherID == "" {
			teacherID = teach.resolve(groupID, subjectID)
		}
		if teacherID == "" {
			teacherID = unassignedPrefix + taskID
		}
		roomType := strings.TrimSpace(reg.RoomType)
		if roomType == "" {
			roomType = strings.TrimSpace(subject.RoomType)
		}
		add(newTask(taskID, teacherID, groupID, subjectID, subjectName(subject, subjectID), roomType, resolveHours(subject), subject.SessionSplit))
	}

	if len(data.Registrations) == 0 {
		for _, rec := range data.Teaching {
			subjectID := strings.TrimSpace(rec.SubjectID)
			groupID := strings.TrimSpace(rec.GroupID)
			teacherID := strings.TrimSpace(rec.TeacherID)
			if subjectID == "" || groupID == "" || teacherID == "" {
				continue
			}
			subject := subjects[subjectID]
			add(newTask(groupID+"_"+subjectID, teacherID, groupID, subjectID, subjectName(subject, subjectID), strings.TrimSpace(subject.RoomType), resolveHours(subject), subject.SessionSplit))
		}
	}

	for _, rec := range data.Teaching {
		groupID := strings.TrimSpace(rec.GroupID)
		teacherID := strings.TrimSpace(rec.TeacherID)
		if strings.TrimSpace(rec.SubjectID) != "" || groupID == "" || teacherID == "" {
			continue
		}
		taskID := groupID + "_" + activitySubjectID + "_" + teacherID
		add(newTask(taskID, teacherID, groupID, activitySubjectID, activitySubjectName, "", defaultHours, ""))
	}

	return Plan{
		Tasks:           tasks,
		Rooms:           normalizeRooms(data.Rooms),
		Groups:          collectGroups(data.Groups, tasks),
		Teachers:        collectTeachers(data.Teachers, tasks),
		SubjectTeachers: subjectTeacherMap(tasks, data.Teaching),
	}
}

func newTask(id, teacherID, groupID, subjectID, name, roomType string, hours int, split string) Task {
	return Task{
		ID:          id,
		TeacherID:   teacherID,
		GroupID:     groupID,
		SubjectID:   subjectID,
		SubjectName: name,
		RoomType:    roomType,
		Hours:       hours,
		Splits:      SessionSplits(hours, parseSessionSplit(split, hours)),
	}
}

func subjectName(subject models.Subject, fallback string) string {
	if name := strings.TrimSpace(subject.Name); name != "" {
		return name
	}
	return fallback
}

func normalizeGroup(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || strings.EqualFold(id, "nan") {
		return ungroupedID
	}
	return id
}

// resolveHours picks the explicit hour count, then theory+practice, then credit, then the default.
func resolveHours(subject models.Subject) int {
	if h, ok := parseHours(subject.Hours); ok && h > 0 {
		return h
	}
	theory, okTheory := parseHours(subject.Theory)
	practice, okPractice := parseHours(subject.Practice)
	if okTheory || okPractice {
		if sum := theory + practice; sum > 0 && sum <= maxWeeklyHours {
			return sum
		}
	}
	if h, ok := parseHours(subject.Credit); ok && h > 0 {
		return h
	}
	return defaultHours
}

// parseHours accepts integer or decimal text within [0, maxWeeklyHours]; decimals are truncated.
func parseHours(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > maxWeeklyHours {
		return 0, false
	}
	return int(f), true
}

// parseSessionSplit reads "a+b+..." and keeps it only when every part is positive and the parts
// add up to hours.
func parseSessionSplit(raw string, hours int) []int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "+")
	split := make([]int, 0, len(parts))
	sum := 0
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 {
			return nil
		}
		split = append(split, v)
		sum += v
	}
	if sum != hours {
		return nil
	}
	return split
}

// SessionSplits returns the split alternatives for a task of the given length, least fragmented
// first. A preferred split, when given, leads the list.
func SessionSplits(hours int, preferred []int) [][]int {
	if hours < 1 {
		hours = 1
	}
	if hours > maxWeeklyHours {
		hours = maxWeeklyHours
		preferred = nil
	}
	var candidates [][]int
	if len(preferred) > 0 {
		candidates = append(candidates, preferred)
	}
	switch {
	case hours == 1:
		candidates = append(candidates, []int{1})
	case hours == 2:
		candidates = append(candidates, []int{2}, []int{1, 1})
	case hours == 3:
		candidates = append(candidates, []int{3}, []int{2, 1}, []int{1, 1, 1})
	default:
		candidates = append(candidates, chunk(hours, 4), chunk(hours, 2), chunk(hours, 1))
	}
	return dedupeSplits(candidates)
}

func chunk(total, size int) []int {
	out := make([]int, 0, total/size+1)
	for total >= size {
		out = append(out, size)
		total -= size
	}
	if total > 0 {
		out = append(out, total)
	}
	return out
}

func dedupeSplits(splits [][]int) [][]int {
	out := make([][]int, 0, len(splits))
	seen := make(map[string]bool, len(splits))
	for _, split := range splits {
		key := splitKey(split)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, split)
	}
	return out
}

func splitKey(split []int) string {
	parts := make([]string, len(split))
	for i, v := range split {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "+")
}

func normalizeRooms(rooms []models.Room) []models.Room {
	out := make([]models.Room, 0, len(rooms))
	seen := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		id := strings.TrimSpace(room.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		room.ID = id
		room.Type = strings.TrimSpace(room.Type)
		out = append(out, room)
	}
	return out
}

func collectGroups(roster []models.Group, tasks []Task) []string {
	set := make(map[string]struct{})
	for _, g := range roster {
		if id := strings.TrimSpace(g.ID); id != "" {
			set[id] = struct{}{}
		}
	}
	for _, task := range tasks {
		set[task.GroupID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectTeachers(roster []models.Teacher, tasks []Task) []string {
	set := make(map[string]struct{})
	for _, t := range roster {
		if id := strings.TrimSpace(t.ID); id != "" {
			set[id] = struct{}{}
		}
	}
	for _, task := range tasks {
		if !task.HasPlaceholderTeacher() {
			set[task.TeacherID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func subjectTeacherMap(tasks []Task, teaching []models.TeachAssignment) map[string][]string {
	sets := make(map[string]map[string]struct{})
	put := func(subjectID, teacherID string) {
		if subjectID == "" || teacherID == "" || strings.HasPrefix(teacherID, unassignedPrefix) {
			return
		}
		if sets[subjectID] == nil {
			sets[subjectID] = make(map[string]struct{})
		}
		sets[subjectID][teacherID] = struct{}{}
	}
	for _, task := range tasks {
		put(task.SubjectID, task.TeacherID)
	}
	for _, rec := range teaching {
		put(strings.TrimSpace(rec.SubjectID), strings.TrimSpace(rec.TeacherID))
	}
	out := make(map[string][]string, len(sets))
	for subjectID, set := range sets {
		list := make([]string, 0, len(set))
		for teacherID := range set {
			list = append(list, teacherID)
		}
		sort.Strings(list)
		out[subjectID] = list
	}
	return out
}

// --- Teach-table lookup ---

type teachIndex struct {
	byPair    map[string]string
	bySubject map[string]string
	byGroup   map[string]string
}

func newTeachIndex(records []models.TeachAssignment) teachIndex {
	idx := teachIndex{
		byPair:    make(map[string]string),
		bySubject: make(map[string]string),
		byGroup:   make(map[string]string),
	}
	for _, rec := range records {
		teacherID := strings.TrimSpace(rec.TeacherID)
		subjectID := strings.TrimSpace(rec.SubjectID)
		groupID := strings.TrimSpace(rec.GroupID)
		if teacherID == "" {
			continue
		}
		if subjectID != "" && groupID != "" {
			setOnce(idx.byPair, groupID+"|"+subjectID, teacherID)
		}
		if subjectID != "" {
			setOnce(idx.bySubject, subjectID, teacherID)
		}
		if groupID != "" {
			setOnce(idx.byGroup, groupID, teacherID)
		}
	}
	return idx
}

func (idx teachIndex) resolve(groupID, subjectID string) string {
	if id, ok := idx.byPair[groupID+"|"+subjectID]; ok {
		return id
	}
	if id, ok := idx.bySubject[subjectID]; ok {
		return id
	}
	return idx.byGroup[groupID]
}

func setOnce(m map[string]string, key, value string) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
