package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
	domain "github.com/ahmethakanbesel/treasury-api/internal/task"
)

const columns = `id, client_id, user_id, connection_id, type, status, progress, steps,
	start_time, end_time, estimated_duration, results, error_code, error_message,
	version, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, t *domain.Task) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	if t.Version == 0 {
		t.Version = 1
	}

	const query = `INSERT INTO tasks (id, client_id, user_id, connection_id, type, status, progress, steps,
		estimated_duration, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.ClientID, t.UserID, sqlite.NullString(t.ConnectionID),
		string(t.Type), string(t.Status), t.Progress, string(steps),
		t.EstimatedDuration, t.Version,
		sqlite.FormatTime(t.CreatedAt), sqlite.FormatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, t *domain.Task) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	var errCode, errMsg sql.NullString
	if t.Error != nil {
		errCode = sql.NullString{String: t.Error.Code, Valid: true}
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
	}

	const query = `UPDATE tasks SET status = ?, progress = ?, steps = ?,
		start_time = ?, end_time = ?, results = ?, error_code = ?, error_message = ?,
		version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(t.Status), t.Progress, string(steps),
		nullTimePtr(t.StartTime), nullTimePtr(t.EndTime),
		nullJSON(t.Results), errCode, errMsg,
		sqlite.FormatTime(t.UpdatedAt),
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, t.ID); getErr != nil {
			return getErr
		}
		return domain.ErrStale
	}
	t.Version++
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	query := `SELECT ` + columns + ` FROM tasks WHERE 1=1`

	var args []any
	if f.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *Repository) ClaimQueued(ctx context.Context, types []domain.Type) (*domain.Task, error) {
	if len(types) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim queued: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := inClause(types)
	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE status IN ('PENDING', 'QUEUED') AND type IN (`+placeholders+`)
		ORDER BY created_at ASC LIMIT 1`, //nolint:gosec // placeholders are not user input
		args...,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queued: select: %w", err)
	}

	now := sqlite.FormatTime(time.Now())
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'IN_PROGRESS', start_time = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim queued: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim queued: commit: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *Repository) RecoverStale(ctx context.Context, types []domain.Type) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(types)
	args = append([]any{sqlite.FormatTime(time.Now())}, args...)

	query := `UPDATE tasks SET status = 'QUEUED', start_time = NULL, updated_at = ?, version = version + 1
		WHERE status = 'IN_PROGRESS' AND type IN (` + placeholders + `)` //nolint:gosec // placeholders are not user input

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*domain.Task, error) {
	var (
		t                      domain.Task
		typ, status, steps     string
		connID, results        sql.NullString
		errCode, errMsg        sql.NullString
		startStr, endStr       sql.NullString
		createdStr, updatedStr string
	)
	err := s.Scan(
		&t.ID, &t.ClientID, &t.UserID, &connID, &typ, &status, &t.Progress, &steps,
		&startStr, &endStr, &t.EstimatedDuration, &results, &errCode, &errMsg,
		&t.Version, &createdStr, &updatedStr,
	)
	if err != nil {
		return nil, err
	}

	t.Type = domain.Type(typ)
	t.Status = domain.Status(status)
	t.ConnectionID = connID.String
	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	t.StartTime = timePtr(startStr)
	t.EndTime = timePtr(endStr)
	if results.Valid {
		t.Results = json.RawMessage(results.String)
	}
	if errCode.Valid {
		t.Error = &domain.Failure{Code: errCode.String, Message: errMsg.String}
	}
	t.CreatedAt = sqlite.ParseTime(createdStr)
	t.UpdatedAt = sqlite.ParseTime(updatedStr)
	return &t, nil
}

func inClause(types []domain.Type) (string, []any) {
	args := make([]any, len(types))
	for i, typ := range types {
		args[i] = string(typ)
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", "), args
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sqlite.NullTime(*t)
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := sqlite.ParseTime(ns.String)
	return &t
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
