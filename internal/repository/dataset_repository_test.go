package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestDatasetRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDatasetRepository(db)

	data := &models.Dataset{
		Teachers:      []models.Teacher{{ID: "T1", Name: "Ana"}, {ID: "T2", Name: "Budi"}},
		Groups:        []models.Group{{ID: "10A", Name: "10A", Size: 32}},
		Rooms:         []models.Room{{ID: "R1", Type: "CLASS"}},
		Subjects:      []models.Subject{{ID: "MATH", Name: "Mathematics", Hours: "4"}},
		Registrations: []models.Registration{{GroupID: "10A", SubjectID: "MATH", TeacherID: "T1"}},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO datasets (id, name, created_at)")).
		WithArgs(sqlmock.AnyArg(), "week 1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_teachers")).
		WithArgs(sqlmock.AnyArg(), "T1", "Ana", "", sqlmock.AnyArg(), "T2", "Budi", "").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_groups")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_rooms")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_subjects")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_registrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary, err := repo.Create(context.Background(), nil, " week 1 ", data)
	require.NoError(t, err)
	require.NotEmpty(t, summary.ID)
	require.Equal(t, "week 1", summary.Name)
	require.Equal(t, summary.ID, data.Teachers[1].DatasetID)
	require.Equal(t, summary.ID, data.Registrations[0].DatasetID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetRepositoryCreateWrapsError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDatasetRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO datasets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_teachers")).
		WillReturnError(errors.New("boom"))

	_, err := repo.Create(context.Background(), nil, "", &models.Dataset{ID: "ds-1", Teachers: []models.Teacher{{ID: "T1"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert dataset teachers")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetRepositoryLoad(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDatasetRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, created_at FROM datasets WHERE id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).AddRow("ds-1", "week 1", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_teachers WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "id", "name", "role"}).AddRow("ds-1", "T1", "Ana", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_groups WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "id", "name", "size", "advisor"}).AddRow("ds-1", "10A", "10A", 30, "T1"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_rooms WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "id", "name", "room_type"}).AddRow("ds-1", "R1", "Room 1", "CLASS"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_subjects WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "id", "name", "hours", "theory", "practice", "credit", "room_type", "session_split"}).
			AddRow("ds-1", "MATH", "Mathematics", "4", "", "", "", "CLASS", "2+2"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_registrations WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "group_id", "subject_id", "teacher_id", "room_type"}).AddRow("ds-1", "10A", "MATH", "T1", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dataset_teaching WHERE dataset_id = $1")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id", "teacher_id", "subject_id", "group_id"}))

	data, err := repo.Load(context.Background(), "ds-1")
	require.NoError(t, err)
	require.Equal(t, "ds-1", data.ID)
	require.Len(t, data.Teachers, 1)
	require.Equal(t, "2+2", data.Subjects[0].SessionSplit)
	require.Equal(t, "T1", data.Registrations[0].TeacherID)
	require.Empty(t, data.Teaching)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetRepositoryLoadMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDatasetRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM datasets WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Load(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDatasetRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM datasets WHERE id = $1")).
		WithArgs("ds-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "ds-1"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM datasets WHERE id = $1")).
		WithArgs("ds-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Delete(context.Background(), "ds-2"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
