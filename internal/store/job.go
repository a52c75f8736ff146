package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/store/model"
)

type Job interface {
	Save(ctx context.Context, job *api.Job) error
	Get(ctx context.Context, id uuid.UUID) (*api.Job, error)
	List(ctx context.Context) ([]*api.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InitialMigration() error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to the Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{})
}

// Save upserts the job row; the last write wins.
func (s *JobStore) Save(ctx context.Context, job *api.Job) error {
	row := model.NewJobFromApiResource(job)
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	return result.Error
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	row := model.Job{ID: id}
	result := s.db.WithContext(ctx).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return row.ToApiResource(), nil
}

func (s *JobStore) List(ctx context.Context) ([]*api.Job, error) {
	var rows model.JobList
	result := s.db.WithContext(ctx).Order("created_at").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	jobs := make([]*api.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].ToApiResource())
	}
	return jobs, nil
}

func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.Job{ID: id})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}
