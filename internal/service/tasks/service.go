// Package tasks implements task CRUD with strict per-owner isolation.
// Every read is scoped by the owner id supplied from the verified
// token; mutations additionally re-check ownership on the entity
// itself before touching the database.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"todochat/internal/apperr"
	"todochat/internal/models"
)

const (
	titleMaxLen       = 200
	descriptionMaxLen = 1000
)

// Service handles task persistence and validation.
type Service struct {
	db *sql.DB
}

// NewService builds a new task service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// UpdateParams carries a partial update. Nil fields keep their prior
// value; a pointer to the empty string clears the field. This keeps
// "unset description" distinguishable from "leave it alone".
type UpdateParams struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Completed   *bool            `json:"completed"`
	Priority    *models.Priority `json:"priority"`
	Starred     *bool            `json:"starred"`
}

// Create validates and persists a new task for the owner. Priority
// defaults to medium when empty.
func (s *Service) Create(ctx context.Context, ownerID, title, description string, priority models.Priority, starred bool) (*models.Task, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperr.Validation("priority", "must be one of: low, medium, high")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, priority, starred, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		ownerID, title, description, priority, starred, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	return &models.Task{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Starred:     starred,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// List returns the owner's tasks, optionally filtered by completion.
// Starred tasks come first, newest first within each group.
func (s *Service) List(ctx context.Context, ownerID string, completed *bool) ([]models.Task, error) {
	query := `SELECT id, user_id, title, description, completed, priority, starred, created_at, updated_at
		FROM tasks WHERE user_id = ?`
	args := []interface{}{ownerID}
	if completed != nil {
		query += ` AND completed = ?`
		args = append(args, *completed)
	}
	query += ` ORDER BY starred DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.Starred, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetByID returns the task if it exists and belongs to the owner.
// A task owned by someone else reports apperr.ErrNotFound, identical
// to a missing task.
func (s *Service) GetByID(ctx context.Context, taskID int64, ownerID string) (*models.Task, error) {
	var t models.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, completed, priority, starred, created_at, updated_at
		 FROM tasks WHERE id = ? AND user_id = ?`,
		taskID, ownerID,
	).Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.Starred, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// Update applies a partial update to the task. Changed title and
// description re-validate against the creation constraints.
func (s *Service) Update(ctx context.Context, task *models.Task, ownerID string, p UpdateParams) (*models.Task, error) {
	if task.OwnerID != ownerID {
		return nil, apperr.ErrOwnership
	}

	updated := *task
	if p.Title != nil {
		title, err := validateTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		updated.Title = title
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return nil, err
		}
		updated.Description = *p.Description
	}
	if p.Completed != nil {
		updated.Completed = *p.Completed
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return nil, apperr.Validation("priority", "must be one of: low, medium, high")
		}
		updated.Priority = *p.Priority
	}
	if p.Starred != nil {
		updated.Starred = *p.Starred
	}
	updated.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, completed = ?, priority = ?, starred = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		updated.Title, updated.Description, updated.Completed, updated.Priority, updated.Starred, updated.UpdatedAt,
		task.ID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("task rows affected: %w", err)
	}
	if affected == 0 {
		return nil, apperr.ErrNotFound
	}
	return &updated, nil
}

// ToggleComplete flips the completion flag and refreshes updated_at.
func (s *Service) ToggleComplete(ctx context.Context, task *models.Task, ownerID string) (*models.Task, error) {
	if task.OwnerID != ownerID {
		return nil, apperr.ErrOwnership
	}

	updated := *task
	updated.Completed = !task.Completed
	updated.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		updated.Completed, updated.UpdatedAt, task.ID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("task rows affected: %w", err)
	}
	if affected == 0 {
		return nil, apperr.ErrNotFound
	}
	return &updated, nil
}

// Delete permanently removes the task.
func (s *Service) Delete(ctx context.Context, task *models.Task, ownerID string) error {
	if task.OwnerID != ownerID {
		return apperr.ErrOwnership
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, task.ID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.Validation("title", "cannot be empty or whitespace")
	}
	if len([]rune(title)) > titleMaxLen {
		return "", apperr.Validation("title", fmt.Sprintf("must be %d characters or less", titleMaxLen))
	}
	return title, nil
}

func validateDescription(description string) error {
	if len([]rune(description)) > descriptionMaxLen {
		return apperr.Validation("description", fmt.Sprintf("must be %d characters or less", descriptionMaxLen))
	}
	return nil
}
