package connection

import (
	"context"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

type Repository interface {
	Create(ctx context.Context, c *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	ListByStatus(ctx context.Context, status Status) ([]Connection, error)
	// Transition applies u only if the stored status still equals from. It
	// reports whether a row changed; the check and the write are one statement.
	// A write that would leave two CONNECTED or SYNCING connections on one
	// account fails with a Conflict error.
	Transition(ctx context.Context, id string, from Status, u Update) (bool, error)
	// ActiveForAccount reports whether another connection to accountID is
	// CONNECTED or SYNCING.
	ActiveForAccount(ctx context.Context, accountID, excludeID string) (bool, error)
	// ListTransactions returns the stored transactions of a connection, oldest
	// first.
	ListTransactions(ctx context.Context, connectionID string) ([]bank.Transaction, error)
}

// TransactionStore persists fetched bank transactions, ignoring ones already
// stored for the connection.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, c *Connection, txs []bank.Transaction) (int64, error)
}

// Bank is the provider API used to probe links and pull transactions.
type Bank interface {
	Probe(ctx context.Context, ref string) error
	FetchAll(ctx context.Context, ref string, since time.Time) ([]bank.Transaction, error)
}

// Tasks is the part of the task engine the coordinator and processor drive.
type Tasks interface {
	Create(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	Get(ctx context.Context, req task.GetRequest) (*task.Task, error)
	Advance(ctx context.Context, req task.AdvanceRequest) (*task.Task, error)
	Complete(ctx context.Context, req task.CompleteRequest) (*task.Task, error)
}

// ClientDirectory resolves a client id to its owning user.
type ClientDirectory interface {
	Owner(ctx context.Context, clientID string) (string, error)
}
