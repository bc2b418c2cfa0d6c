package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/sis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chicago = time.FixedZone("CDT", -5*3600)

type memoryStore struct {
	courses     []model.MoodleCourse
	categories  []int
	students    map[string]*model.Student
	enrollments map[string]model.StudentEnrollment
	prestaged   []string
	linked      bool
}

func newStore(courses ...model.MoodleCourse) *memoryStore {
	return &memoryStore{
		courses:     courses,
		students:    make(map[string]*model.Student),
		enrollments: make(map[string]model.StudentEnrollment),
	}
}

func (m *memoryStore) ListSISCourses(_ context.Context, categories []int) ([]model.MoodleCourse, error) {
	m.categories = categories
	return m.courses, nil
}

func (m *memoryStore) PrestageDrops(_ context.Context, idnumber string) (int64, error) {
	m.prestaged = append(m.prestaged, idnumber)
	var n int64
	for k, e := range m.enrollments {
		if e.CourseIDNumber == idnumber {
			e.Action = model.EnrollActionUnenroll
			m.enrollments[k] = e
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) UpsertStudent(_ context.Context, student *model.Student) (int64, error) {
	if existing, ok := m.students[student.SISID]; ok {
		student.ID = existing.ID
	} else {
		student.ID = int64(len(m.students) + 1)
	}
	copied := *student
	m.students[student.SISID] = &copied
	return student.ID, nil
}

func (m *memoryStore) UpsertEnrollment(_ context.Context, studentID int64, e model.StudentEnrollment) error {
	m.enrollments[fmt.Sprintf("%d/%s", studentID, e.CourseIDNumber)] = e
	return nil
}

func (m *memoryStore) LinkMoodleUsers(context.Context) (int64, error) {
	m.linked = true
	return 0, nil
}

type fakeSIS struct {
	classLists     map[string]*sis.ClassList
	days           map[string]string
	logins         map[string]string
	studentLookups int
}

func (f *fakeSIS) Authenticate(context.Context, string, string) (string, error) {
	return "token", nil
}

func (f *fakeSIS) GetClassList(_ context.Context, _, course, section string) (*sis.ClassList, error) {
	list, ok := f.classLists[course+"__"+section]
	if !ok {
		return nil, &sis.SRSException{Message: "[Course section not found]"}
	}
	return list, nil
}

func (f *fakeSIS) GetCourseSection(_ context.Context, _, sectionID string) (*sis.CourseSection, error) {
	section := &sis.CourseSection{ObjectID: sis.FlexString(sectionID)}
	if d, ok := f.days[sectionID]; ok {
		section.SectionDueDateRule = &struct {
			DaysAfterEnroll json.Number `json:"daysAfterEnroll"`
		}{DaysAfterEnroll: json.Number(d)}
	}
	return section, nil
}

func (f *fakeSIS) GetStudent(_ context.Context, _, studentID string) (*sis.StudentProfile, error) {
	f.studentLookups++
	login, ok := f.logins[studentID]
	if !ok {
		return nil, &sis.SRSException{Message: "Student not found"}
	}
	return &sis.StudentProfile{ObjectID: sis.FlexString(studentID), LoginID: login}, nil
}

func item(id, number, date string) sis.StudentListItem {
	return sis.StudentListItem{
		StudentID:        sis.FlexString(id),
		StudentNumber:    number,
		FirstName:        "Ada",
		LastName:         "Lovelace",
		Email:            " ada@example.edu ",
		EnrollmentDate:   date,
		EnrollmentStatus: "Enrolled",
	}
}

func TestEnrollmentWindow(t *testing.T) {
	start := time.Date(2023, 4, 13, 19, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		date      string
		days      int
		wantStart int64
		wantEnd   int64
	}{
		{"with due date rule", "13 Apr 2023 02:30:00 PM", 30, start.Unix(), start.AddDate(0, 0, 30).Unix()},
		{"no due date rule", "13 Apr 2023 02:30:00 PM", 0, start.Unix(), 0},
		{"unparseable", "2023-04-13", 30, 0, 0},
		{"empty", "", 30, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotStart, gotEnd := EnrollmentWindow(tt.date, tt.days, chicago)
			assert.Equal(t, tt.wantStart, gotStart)
			assert.Equal(t, tt.wantEnd, gotEnd)
		})
	}
}

func TestSync(t *testing.T) {
	store := newStore(
		model.MoodleCourse{ID: 10, IDNumber: "ACCT 2001__003", Category: 4},
		model.MoodleCourse{ID: 11, IDNumber: "BIOL 1001__001", Category: 4},
		model.MoodleCourse{ID: 12, IDNumber: "HIST 3001__002", Category: 4},
	)
	store.enrollments["99/ACCT 2001__003"] = model.StudentEnrollment{CourseIDNumber: "ACCT 2001__003", Action: model.EnrollActionEnroll}

	client := &fakeSIS{
		classLists: map[string]*sis.ClassList{
			"ACCT 2001__003": {SectionID: "SEC-1", Students: []sis.StudentListItem{
				item("501", "X001688", "13 Apr 2023 02:30:00 PM"),
				item("502", "X001689", "14 Apr 2023 09:00:00 AM"),
			}},
			"BIOL 1001__001": {SectionID: "SEC-2", Students: []sis.StudentListItem{
				item("501", "X001688", "01 May 2023 10:00:00 AM"),
				item("503", "X001690", "01 May 2023 10:00:00 AM"),
			}},
		},
		days:   map[string]string{"SEC-1": "30"},
		logins: map[string]string{"501": "ALovelace", "502": "cbabbage"},
	}

	svc := NewService(store, client, config.SISConfig{Username: "svc", Password: "secret", TokenRefreshEvery: 100},
		config.EnrollmentConfig{Categories: []int{4}}, chicago)

	summary, err := svc.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{4}, store.categories)
	assert.Equal(t, []string{"ACCT 2001__003", "BIOL 1001__001"}, store.prestaged)
	assert.True(t, store.linked)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Enrolled)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 3, client.studentLookups)

	ada := store.students["501"]
	require.NotNil(t, ada)
	assert.Equal(t, "alovelace", ada.Username)
	assert.Equal(t, "ada@example.edu", ada.Email)
	assert.Equal(t, "X001688", ada.StudentNumber)

	acct := store.enrollments[fmt.Sprintf("%d/ACCT 2001__003", ada.ID)]
	start := time.Date(2023, 4, 13, 19, 30, 0, 0, time.UTC)
	assert.Equal(t, model.EnrollActionEnroll, acct.Action)
	assert.Equal(t, start.Unix(), acct.EnrollStart)
	assert.Equal(t, start.AddDate(0, 0, 30).Unix(), acct.EnrollEnd)
	assert.Equal(t, "Enrolled", acct.EnrollmentStatus)

	biol := store.enrollments[fmt.Sprintf("%d/BIOL 1001__001", ada.ID)]
	assert.Zero(t, biol.EnrollEnd)

	assert.Equal(t, model.EnrollActionUnenroll, store.enrollments["99/ACCT 2001__003"].Action)
	assert.NotContains(t, store.students, "503")
}
