package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// DatasetRepository stores uploaded scheduling inputs.
type DatasetRepository struct {
	db *sqlx.DB
}

// NewDatasetRepository constructs the repository.
func NewDatasetRepository(db *sqlx.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the dataset header and every record set. Callers pass a transaction so a partial
// upload never becomes visible.
func (r *DatasetRepository) Create(ctx context.Context, exec sqlx.ExtContext, name string, data *models.Dataset) (*models.DatasetSummary, error) {
	target := r.exec(exec)
	if data.ID == "" {
		data.ID = uuid.NewString()
	}
	summary := &models.DatasetSummary{ID: data.ID, Name: strings.TrimSpace(name), CreatedAt: time.Now().UTC()}
	if summary.Name == "" {
		summary.Name = data.ID
	}

	const headerQuery = `INSERT INTO datasets (id, name, created_at) VALUES (:id, :name, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, headerQuery, summary); err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}

	for i := range data.Teachers {
		data.Teachers[i].DatasetID = data.ID
	}
	for i := range data.Groups {
		data.Groups[i].DatasetID = data.ID
	}
	for i := range data.Rooms {
		data.Rooms[i].DatasetID = data.ID
	}
	for i := range data.Subjects {
		data.Subjects[i].DatasetID = data.ID
	}
	for i := range data.Registrations {
		data.Registrations[i].DatasetID = data.ID
	}
	for i := range data.Teaching {
		data.Teaching[i].DatasetID = data.ID
	}

	inserts := []struct {
		label string
		query string
		rows  interface{}
		count int
	}{
		{"teachers", `INSERT INTO dataset_teachers (dataset_id, id, name, role) VALUES (:dataset_id, :id, :name, :role)`, data.Teachers, len(data.Teachers)},
		{"groups", `INSERT INTO dataset_groups (dataset_id, id, name, size, advisor) VALUES (:dataset_id, :id, :name, :size, :advisor)`, data.Groups, len(data.Groups)},
		{"rooms", `INSERT INTO dataset_rooms (dataset_id, id, name, room_type) VALUES (:dataset_id, :id, :name, :room_type)`, data.Rooms, len(data.Rooms)},
		{"subjects", `INSERT INTO dataset_subjects (dataset_id, id, name, hours, theory, practice, credit, room_type, session_split) VALUES (:dataset_id, :id, :name, :hours, :theory, :practice, :credit, :room_type, :session_split)`, data.Subjects, len(data.Subjects)},
		{"registrations", `INSERT INTO dataset_registrations (dataset_id, group_id, subject_id, teacher_id, room_type) VALUES (:dataset_id, :group_id, :subject_id, :teacher_id, :room_type)`, data.Registrations, len(data.Registrations)},
		{"teaching", `INSERT INTO dataset_teaching (dataset_id, teacher_id, subject_id, group_id) VALUES (:dataset_id, :teacher_id, :subject_id, :group_id)`, data.Teaching, len(data.Teaching)},
	}
	for _, ins := range inserts {
		if ins.count == 0 {
			continue
		}
		if _, err := sqlx.NamedExecContext(ctx, target, ins.query, ins.rows); err != nil {
			return nil, fmt.Errorf("insert dataset %s: %w", ins.label, err)
		}
	}
	return summary, nil
}

// FindByID returns the dataset header.
func (r *DatasetRepository) FindByID(ctx context.Context, id string) (*models.DatasetSummary, error) {
	const query = `SELECT id, name, created_at FROM datasets WHERE id = $1`
	var summary models.DatasetSummary
	if err := r.db.GetContext(ctx, &summary, query, id); err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &summary, nil
}

// Load assembles every record set of a dataset. A missing dataset surfaces sql.ErrNoRows.
func (r *DatasetRepository) Load(ctx context.Context, id string) (*models.Dataset, error) {
	if _, err := r.FindByID(ctx, id); err != nil {
		return nil, err
	}
	data := &models.Dataset{ID: id}

	const teachersQuery = `SELECT dataset_id, id, name, role FROM dataset_teachers WHERE dataset_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &data.Teachers, teachersQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset teachers: %w", err)
	}
	const groupsQuery = `SELECT dataset_id, id, name, size, advisor FROM dataset_groups WHERE dataset_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &data.Groups, groupsQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset groups: %w", err)
	}
	const roomsQuery = `SELECT dataset_id, id, name, room_type FROM dataset_rooms WHERE dataset_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &data.Rooms, roomsQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset rooms: %w", err)
	}
	const subjectsQuery = `SELECT dataset_id, id, name, hours, theory, practice, credit, room_type, session_split FROM dataset_subjects WHERE dataset_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &data.Subjects, subjectsQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset subjects: %w", err)
	}
	const registrationsQuery = `SELECT dataset_id, group_id, subject_id, teacher_id, room_type FROM dataset_registrations WHERE dataset_id = $1 ORDER BY group_id, subject_id`
	if err := r.db.SelectContext(ctx, &data.Registrations, registrationsQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset registrations: %w", err)
	}
	const teachingQuery = `SELECT dataset_id, teacher_id, subject_id, group_id FROM dataset_teaching WHERE dataset_id = $1 ORDER BY teacher_id, subject_id, group_id`
	if err := r.db.SelectContext(ctx, &data.Teaching, teachingQuery, id); err != nil {
		return nil, fmt.Errorf("load dataset teaching: %w", err)
	}
	return data, nil
}

// List returns dataset headers, newest first.
func (r *DatasetRepository) List(ctx context.Context) ([]models.DatasetSummary, error) {
	const query = `SELECT id, name, created_at FROM datasets ORDER BY created_at DESC`
	var summaries []models.DatasetSummary
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return summaries, nil
}

// Delete removes a dataset; record sets cascade.
func (r *DatasetRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM datasets WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete dataset: %w", sql.ErrNoRows)
	}
	return nil
}
