package recorder

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/errors"
)

var terminalStatuses = []string{
	string(dag.StatusCompleted),
	string(dag.StatusFailed),
	string(dag.StatusCancelled),
}

// Store persists executions and steps with GORM.
type Store struct {
	db *database.DB
}

var _ dag.Recorder = (*Store)(nil)

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateExecution(ctx context.Context, exec *dag.Execution) error {
	if err := s.db.WithContext(ctx).Create(executionRecord(exec)).Error; err != nil {
		return database.FromDatabase(err, "execution")
	}
	return nil
}

// UpdateExecution overwrites a non-terminal execution. Terminal rows are
// immutable: updating one returns dag.ErrExecutionFinished.
func (s *Store) UpdateExecution(ctx context.Context, exec *dag.Execution) error {
	rec := executionRecord(exec)
	res := s.db.WithContext(ctx).Model(rec).
		Where("status NOT IN ?", terminalStatuses).
		Select("*").Omit("id", "created_at").
		Updates(rec)
	if res.Error != nil {
		return database.FromDatabase(res.Error, "execution")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&ExecutionRecord{}).Where("id = ?", exec.ID).Count(&count).Error; err != nil {
		return database.FromDatabase(err, "execution")
	}
	if count == 0 {
		return errors.NotFound("execution", exec.ID)
	}
	return dag.ErrExecutionFinished
}

// RecordStep inserts a step or replaces the one with the same index.
func (s *Store) RecordStep(ctx context.Context, step *dag.Step) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "execution_id"}, {Name: "step_index"}},
		UpdateAll: true,
	}).Create(stepRecord(step)).Error
	if err != nil {
		return database.FromDatabase(err, "execution step")
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*dag.Execution, error) {
	return s.findExecution(ctx, s.db.WithContext(ctx).Where("id = ?", id), id)
}

// GetExecutionByTask returns the latest execution of a task.
func (s *Store) GetExecutionByTask(ctx context.Context, taskID string) (*dag.Execution, error) {
	q := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at DESC")
	return s.findExecution(ctx, q, taskID)
}

func (s *Store) findExecution(_ context.Context, q *gorm.DB, key string) (*dag.Execution, error) {
	var rec ExecutionRecord
	if err := q.Take(&rec).Error; err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.NotFound("execution", key)
		}
		return nil, database.FromDatabase(err, "execution")
	}
	return rec.execution(), nil
}

// Filter narrows ListExecutions. Zero fields match everything.
type Filter struct {
	UserID   string     `form:"user_id"`
	TaskID   string     `form:"task_id"`
	SchemaID string     `form:"schema_id"`
	Status   dag.Status `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PageSize int        `form:"page_size" binding:"omitempty,min=1,max=200"`
}

func (f *Filter) ApplyDefaults() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Page is a page of executions, newest first.
type Page struct {
	Data       []*dag.Execution `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

func (s *Store) ListExecutions(ctx context.Context, f Filter) (*Page, error) {
	f.ApplyDefaults()
	q := s.db.WithContext(ctx).Model(&ExecutionRecord{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.SchemaID != "" {
		q = q.Where("schema_id = ?", f.SchemaID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, database.FromDatabase(err, "execution")
	}

	var recs []ExecutionRecord
	err := q.Order("created_at DESC").Order("id").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&recs).Error
	if err != nil {
		return nil, database.FromDatabase(err, "execution")
	}

	page := &Page{
		Data: make([]*dag.Execution, 0, len(recs)),
		Pagination: Pagination{
			Page:       f.Page,
			PageSize:   f.PageSize,
			Total:      total,
			TotalPages: int((total + int64(f.PageSize) - 1) / int64(f.PageSize)),
		},
	}
	if page.Pagination.TotalPages < 1 {
		page.Pagination.TotalPages = 1
	}
	for i := range recs {
		page.Data = append(page.Data, recs[i].execution())
	}
	return page, nil
}

// ListSteps returns an execution's steps ordered by step index.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]dag.Step, error) {
	var recs []StepRecord
	if err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).Order("step_index").Find(&recs).Error; err != nil {
		return nil, database.FromDatabase(err, "execution step")
	}
	steps := make([]dag.Step, len(recs))
	for i := range recs {
		steps[i] = recs[i].step()
	}
	return steps, nil
}
