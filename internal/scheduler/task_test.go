package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
)

func TestResolveHours(t *testing.T) {
	cases := []struct {
		name    string
		subject models.Subject
		want    int
	}{
		{name: "explicit hours", subject: models.Subject{Hours: "4", Credit: "2"}, want: 4},
		{name: "theory and practice", subject: models.Subject{Theory: "2", Practice: "1"}, want: 3},
		{name: "credit", subject: models.Subject{Credit: "3"}, want: 3},
		{name: "decimal truncated", subject: models.Subject{Credit: "2.7"}, want: 2},
		{name: "non numeric defaults", subject: models.Subject{Hours: "n/a", Credit: "abc"}, want: 2},
		{name: "zero skipped", subject: models.Subject{Hours: "0", Theory: "0", Practice: "0", Credit: "1"}, want: 1},
		{name: "blank defaults", subject: models.Subject{}, want: 2},
		{name: "huge exponent falls through", subject: models.Subject{Hours: "1e15", Credit: "3"}, want: 3},
		{name: "infinity defaults", subject: models.Subject{Hours: "Inf"}, want: 2},
		{name: "nan defaults", subject: models.Subject{Hours: "NaN", Theory: "NaN"}, want: 2},
		{name: "oversized integer defaults", subject: models.Subject{Hours: "1000000000"}, want: 2},
		{name: "oversized sum skipped", subject: models.Subject{Theory: "30", Practice: "30", Credit: "4"}, want: 4},
		{name: "negative part ignored", subject: models.Subject{Theory: "-100", Practice: "3"}, want: 3},
		{name: "upper bound kept", subject: models.Subject{Hours: "40"}, want: 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveHours(tc.subject))
		})
	}
}

func TestSessionSplits(t *testing.T) {
	assert.Equal(t, [][]int{{1}}, SessionSplits(1, nil))
	assert.Equal(t, [][]int{{2}, {1, 1}}, SessionSplits(2, nil))
	assert.Equal(t, [][]int{{3}, {2, 1}, {1, 1, 1}}, SessionSplits(3, nil))
	assert.Equal(t, [][]int{{4}, {2, 2}, {1, 1, 1, 1}}, SessionSplits(4, nil))
	assert.Equal(t, [][]int{{4, 2}, {2, 2, 2}, {1, 1, 1, 1, 1, 1}}, SessionSplits(6, nil))
	assert.Equal(t, [][]int{{3, 1}, {4}, {2, 2}, {1, 1, 1, 1}}, SessionSplits(4, []int{3, 1}))
	assert.Equal(t, [][]int{{2, 2}, {4}, {1, 1, 1, 1}}, SessionSplits(4, []int{2, 2}))

	for hours := 1; hours <= 9; hours++ {
		for _, split := range SessionSplits(hours, nil) {
			sum := 0
			for _, d := range split {
				sum += d
			}
			assert.Equal(t, hours, sum, "split %v", split)
		}
	}
}

func TestParseSessionSplit(t *testing.T) {
	assert.Equal(t, []int{2, 2}, parseSessionSplit("2+2", 4))
	assert.Equal(t, []int{3, 1}, parseSessionSplit(" 3 + 1 ", 4))
	assert.Nil(t, parseSessionSplit("2+1", 4))
	assert.Nil(t, parseSessionSplit("2+x", 4))
	assert.Nil(t, parseSessionSplit("4+0", 4))
	assert.Nil(t, parseSessionSplit("", 4))
}

func TestBuildPlanResolvesTeachers(t *testing.T) {
	plan := BuildPlan(models.Dataset{
		Subjects: []models.Subject{
			{ID: "MATH", Name: "Mathematics", Hours: "4", RoomType: "CLASS"},
			{ID: "PHY", Name: "Physics", Theory: "2", Practice: "1", RoomType: "LAB"},
			{ID: "ART", Name: "Art"},
			{ID: "BIO", Name: "Biology"},
		},
		Registrations: []models.Registration{
			{GroupID: "10A", SubjectID: "MATH", TeacherID: "T-REG"},
			{GroupID: "10A", SubjectID: "PHY"},
			{GroupID: "10B", SubjectID: "ART"},
			{GroupID: "10C", SubjectID: "BIO", RoomType: "LAB"},
			{GroupID: "10A", SubjectID: "MATH"},
		},
		Teaching: []models.TeachAssignment{
			{TeacherID: "T-SUBJ", SubjectID: "PHY"},
			{TeacherID: "T-PAIR", SubjectID: "PHY", GroupID: "10A"},
			{TeacherID: "T-GROUP", GroupID: "10B"},
		},
	})

	require.Len(t, plan.Tasks, 5)
	byID := make(map[string]Task)
	for _, task := range plan.Tasks {
		byID[task.ID] = task
	}

	assert.Equal(t, "T-REG", byID["10A_MATH"].TeacherID)
	assert.Equal(t, 4, byID["10A_MATH"].Hours)
	assert.Equal(t, "CLASS", byID["10A_MATH"].RoomType)

	assert.Equal(t, "T-PAIR", byID["10A_PHY"].TeacherID)
	assert.Equal(t, 3, byID["10A_PHY"].Hours)

	assert.Equal(t, "T-GROUP", byID["10B_ART"].TeacherID)
	assert.Equal(t, 2, byID["10B_ART"].Hours)

	bio := byID["10C_BIO"]
	assert.True(t, bio.HasPlaceholderTeacher())
	assert.Equal(t, "UNASSIGNED:10C_BIO", bio.TeacherID)
	assert.Equal(t, "LAB", bio.RoomType)

	activity, ok := byID["10B_ACTIVITY_T-GROUP"]
	require.True(t, ok)
	assert.Equal(t, 2, activity.Hours)
	assert.Equal(t, "Activity", activity.SubjectName)

	assert.ElementsMatch(t, []string{"T-PAIR", "T-SUBJ"}, plan.SubjectTeachers["PHY"])
	assert.NotContains(t, plan.SubjectTeachers, "BIO")
	assert.Equal(t, []string{"10A", "10B", "10C"}, plan.Groups)
	assert.NotContains(t, plan.Teachers, "UNASSIGNED:10C_BIO")
	assert.Equal(t, 4+3+2+2+2, plan.TotalHours())
}

func TestBuildPlanWithoutRegistrationsUsesTeachTable(t *testing.T) {
	plan := BuildPlan(models.Dataset{
		Subjects: []models.Subject{{ID: "CHEM", Name: "Chemistry", Credit: "3", SessionSplit: "2+1"}},
		Teaching: []models.TeachAssignment{
			{TeacherID: "T1", SubjectID: "CHEM", GroupID: "11A"},
			{TeacherID: "T1", SubjectID: "CHEM"},
		},
	})

	require.Len(t, plan.Tasks, 1)
	task := plan.Tasks[0]
	assert.Equal(t, "11A_CHEM", task.ID)
	assert.Equal(t, []int{2, 1}, task.Sessions())
	assert.Equal(t, 3, task.Hours)
}

func TestBuildPlanDefaultsMissingGroup(t *testing.T) {
	plan := BuildPlan(models.Dataset{
		Registrations: []models.Registration{{GroupID: " ", SubjectID: "GEO", TeacherID: "T1"}},
	})

	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "UNGROUPED", plan.Tasks[0].GroupID)
	assert.Equal(t, "GEO", plan.Tasks[0].SubjectName)
	assert.Equal(t, 2, plan.Tasks[0].Hours)
}

func TestBuildPlanEmptyDataset(t *testing.T) {
	plan := BuildPlan(models.Dataset{})

	assert.Empty(t, plan.Tasks)
	assert.Empty(t, plan.Rooms)
	assert.Equal(t, 0, plan.TotalHours())
}

func TestBuildPlanCoercesMalformedHours(t *testing.T) {
	var plan Plan
	require.NotPanics(t, func() {
		plan = BuildPlan(models.Dataset{
			Subjects: []models.Subject{
				{ID: "S1", Hours: "1e15"},
				{ID: "S2", Hours: "Inf", Credit: "3"},
			},
			Registrations: []models.Registration{
				{GroupID: "G1", SubjectID: "S1", TeacherID: "T1"},
				{GroupID: "G1", SubjectID: "S2", TeacherID: "T2"},
			},
		})
	})

	require.Len(t, plan.Tasks, 2)
	hours := map[string]int{}
	for _, task := range plan.Tasks {
		hours[task.SubjectID] = task.Hours
	}
	assert.Equal(t, map[string]int{"S1": 2, "S2": 3}, hours)

	for _, split := range SessionSplits(1<<40, nil) {
		sum := 0
		for _, v := range split {
			sum += v
		}
		assert.Equal(t, maxWeeklyHours, sum)
	}
}
