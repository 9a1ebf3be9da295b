package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	domain "github.com/ahmethakanbesel/treasury-api/internal/connection"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
)

const columns = `id, client_id, account_id, bank_name, external_ref, status, last_sync,
	current_task_id, last_error, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, c *domain.Connection) error {
	var lastSync sql.NullString
	if c.LastSync != nil {
		lastSync = sqlite.NullTime(*c.LastSync)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bank_connections (id, client_id, account_id, bank_name, external_ref, status,
		last_sync, current_task_id, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.AccountID, c.BankName, c.ExternalRef, string(c.Status),
		lastSync, sqlite.NullString(c.CurrentTaskID), c.LastError,
		sqlite.FormatTime(c.CreatedAt), sqlite.FormatTime(c.UpdatedAt),
	)
	if sqlite.IsUniqueViolation(err) {
		return errAccountTaken
	}
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// errAccountTaken is returned when a write would give an account a second
// CONNECTED or SYNCING connection.
var errAccountTaken = apperror.New(apperror.Conflict, "another connection to this account is already active")

func (r *Repository) Get(ctx context.Context, id string) (*domain.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM bank_connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "connection not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListByStatus returns every connection in status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM bank_connections WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*domain.Connection, error) {
	var (
		c                      domain.Connection
		status                 string
		lastSync, taskID       sql.NullString
		createdStr, updatedStr string
	)
	if err := s.Scan(
		&c.ID, &c.ClientID, &c.AccountID, &c.BankName, &c.ExternalRef, &status, &lastSync,
		&taskID, &c.LastError, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	c.Status = domain.Status(status)
	if lastSync.Valid {
		t := sqlite.ParseTime(lastSync.String)
		c.LastSync = &t
	}
	c.CurrentTaskID = taskID.String
	c.CreatedAt = sqlite.ParseTime(createdStr)
	c.UpdatedAt = sqlite.ParseTime(updatedStr)
	return &c, nil
}

func (r *Repository) Transition(ctx context.Context, id string, from domain.Status, u domain.Update) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(u.Status), sqlite.FormatTime(u.At)}
	if u.LastSync != nil {
		sets = append(sets, "last_sync = ?")
		args = append(args, sqlite.FormatTime(*u.LastSync))
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}
	switch {
	case u.TaskID != "":
		sets = append(sets, "current_task_id = ?")
		args = append(args, u.TaskID)
	case u.ClearTask:
		sets = append(sets, "current_task_id = NULL")
	}
	args = append(args, id, string(from))

	query := `UPDATE bank_connections SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?` //nolint:gosec // column list is fixed
	res, err := r.db.ExecContext(ctx, query, args...)
	if sqlite.IsUniqueViolation(err) {
		return false, errAccountTaken
	}
	if err != nil {
		return false, fmt.Errorf("transition connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) ActiveForAccount(ctx context.Context, accountID, excludeID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bank_connections
		WHERE account_id = ? AND id != ? AND status IN ('CONNECTED', 'SYNCING')`,
		accountID, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("active connections for account: %w", err)
	}
	return n > 0, nil
}

// SaveTransactions inserts txs in batches; rows whose external id is already
// stored for the connection are skipped. It returns the number inserted.
func (r *Repository) SaveTransactions(ctx context.Context, c *domain.Connection, txs []bank.Transaction) (int64, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	const batchSize = 500
	var total int64

	for i := 0; i < len(txs); i += batchSize {
		batch := txs[i:min(i+batchSize, len(txs))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*8)
		for j, tx := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, uuid.NewString(), c.ID, c.AccountID, tx.ExternalID,
				sqlite.FormatTime(tx.BookedAt), tx.Amount.String(), tx.Currency, tx.Description)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			`INSERT OR IGNORE INTO bank_transactions
			(id, connection_id, account_id, external_id, booked_at, amount, currency, description) VALUES %s`,
			strings.Join(placeholders, ", "),
		)

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("save transactions: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ListTransactions returns the stored transactions of a connection, oldest
// first.
func (r *Repository) ListTransactions(ctx context.Context, connectionID string) ([]bank.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT external_id, booked_at, amount, currency, description
		FROM bank_transactions WHERE connection_id = ? ORDER BY booked_at ASC, external_id ASC`,
		connectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []bank.Transaction
	for rows.Next() {
		var tx bank.Transaction
		var booked, amount string
		if err := rows.Scan(&tx.ExternalID, &booked, &amount, &tx.Currency, &tx.Description); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.BookedAt = sqlite.ParseTime(booked)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
