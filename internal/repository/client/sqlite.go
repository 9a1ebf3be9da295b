package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	domain "github.com/ahmethakanbesel/treasury-api/internal/client"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, c *domain.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, owner_user_id, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.OwnerUserID, sqlite.FormatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	var createdStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_user_id, created_at FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.OwnerUserID, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	c.CreatedAt = sqlite.ParseTime(createdStr)
	return &c, nil
}
