package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	domain "github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
)

const columns = `id, user_id, type, title, message, data, read, expires_at, created_at`

// sortColumns maps API sort keys onto columns. Anything else is rejected
// before it reaches SQL.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"type":      "type",
	"read":      "read",
	"title":     "title",
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	var data sql.NullString
	if len(n.Data) > 0 {
		data = sql.NullString{String: string(n.Data), Valid: true}
	}
	var expires sql.NullString
	if n.ExpiresAt != nil {
		expires = sqlite.NullTime(*n.ExpiresAt)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, data, read, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data, n.Read, expires,
		sqlite.FormatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id, userID string) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func where(f domain.Filter) (string, []any) {
	clause := " WHERE user_id = ?"
	args := []any{f.UserID}
	if f.Read != nil {
		clause += " AND read = ?"
		args = append(args, *f.Read)
	}
	if f.Type != "" {
		clause += " AND type = ?"
		args = append(args, string(f.Type))
	}
	return clause, args
}

func (r *Repository) Query(ctx context.Context, f domain.Filter, s domain.Sort, offset, limit int) ([]domain.Notification, error) {
	col, ok := sortColumns[s.By]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}

	clause, args := where(f)
	query := `SELECT ` + columns + ` FROM notifications` + clause +
		` ORDER BY ` + col + ` ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *Repository) Count(ctx context.Context, f domain.Filter) (int64, error) {
	clause, args := where(f)
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

func (r *Repository) MarkRead(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) ExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		sqlite.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan notification id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id IN (`+placeholders+`)`, //nolint:gosec // placeholders are not user input
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(s scanner) (*domain.Notification, error) {
	var (
		n          domain.Notification
		typ        string
		data       sql.NullString
		expires    sql.NullString
		createdStr string
	)
	if err := s.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &n.Read, &expires, &createdStr); err != nil {
		return nil, err
	}
	n.Type = domain.Type(typ)
	if data.Valid {
		n.Data = json.RawMessage(data.String)
	}
	if expires.Valid {
		t := sqlite.ParseTime(expires.String)
		n.ExpiresAt = &t
	}
	n.CreatedAt = sqlite.ParseTime(createdStr)
	return &n, nil
}
