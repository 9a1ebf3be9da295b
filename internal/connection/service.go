package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

// syncEstimate is the advisory duration given to DATA_SYNC tasks, in seconds.
const syncEstimate = 120

// Service coordinates bank connections with the DATA_SYNC tasks that sync
// them. A connection is SYNCING exactly while one such task is open.
type Service struct {
	repo    Repository
	tasks   Tasks
	bank    Bank
	clients ClientDirectory
	now     func() time.Time
}

func NewService(repo Repository, tasks Tasks, bank Bank, clients ClientDirectory) *Service {
	return &Service{
		repo:    repo,
		tasks:   tasks,
		bank:    bank,
		clients: clients,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.clients.Owner(ctx, req.ClientID); err != nil {
		if apperror.Is(err, apperror.NotFound) {
			return nil, apperror.Newf(apperror.InvalidRequest, "client %s does not exist", req.ClientID)
		}
		return nil, fmt.Errorf("resolve client: %w", err)
	}

	now := s.now()
	c := &Connection{
		ID:          uuid.NewString(),
		ClientID:    req.ClientID,
		AccountID:   req.AccountID,
		BankName:    req.BankName,
		ExternalRef: req.ExternalRef,
		Status:      StatusDisconnected,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	slog.Info("connection created", "connection", c.ID, "client", c.ClientID, "bank", c.BankName)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.New(apperror.BadRequest, "invalid connection id")
	}
	return s.repo.Get(ctx, id)
}

// Sync moves the connection to SYNCING and creates its DATA_SYNC task. A
// DISCONNECTED connection cannot sync and a SYNCING one is a conflict; two
// concurrent calls produce exactly one task. The task id is recorded in the
// same write that enters SYNCING, so the task can never finish unclaimed.
func (s *Service) Sync(ctx context.Context, id string) (*task.Task, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case StatusDisconnected:
		return nil, apperror.New(apperror.InvalidState, "Cannot sync disconnected connection")
	case StatusSyncing:
		return nil, apperror.New(apperror.Conflict, "Sync already in progress")
	}

	prev := c.Status
	taskID := uuid.NewString()
	ok, err := s.repo.Transition(ctx, id, prev, Update{Status: StatusSyncing, TaskID: taskID, At: s.now()})
	if err != nil {
		return nil, fmt.Errorf("begin sync: %w", err)
	}
	if !ok {
		return nil, apperror.New(apperror.Conflict, "Sync already in progress")
	}

	t, err := s.tasks.Create(ctx, task.CreateRequest{
		ID:                taskID,
		ClientID:          c.ClientID,
		Type:              task.TypeDataSync,
		EstimatedDuration: syncEstimate,
		ConnectionID:      c.ID,
	})
	if err != nil {
		if _, rerr := s.repo.Transition(ctx, id, StatusSyncing, Update{Status: prev, ClearTask: true, At: s.now()}); rerr != nil {
			slog.Error("revert sync status", "connection", id, "error", rerr)
		}
		return nil, err
	}

	slog.Info("sync started", "connection", id, "task", t.ID)
	return t, nil
}

// OnTaskTerminal releases the connection once its sync task finished:
// COMPLETED refreshes lastSync, FAILED moves to ERROR and CANCELLED returns to
// CONNECTED. Events for other tasks are ignored.
func (s *Service) OnTaskTerminal(ctx context.Context, t *task.Task) error {
	if t.ConnectionID == "" || !t.Status.Terminal() {
		return nil
	}

	c, err := s.repo.Get(ctx, t.ConnectionID)
	if err != nil {
		return err
	}
	if c.Status != StatusSyncing || c.CurrentTaskID != t.ID {
		slog.Debug("ignoring task for idle connection", "connection", c.ID, "task", t.ID, "status", c.Status)
		return nil
	}

	now := s.now()
	u := Update{ClearTask: true, At: now}
	switch t.Status {
	case task.StatusCompleted:
		at := now
		if t.EndTime != nil {
			at = *t.EndTime
		}
		empty := ""
		u.Status, u.LastSync, u.LastError = StatusConnected, &at, &empty
	case task.StatusFailed:
		msg := "sync failed"
		if t.Error != nil {
			msg = t.Error.Message
		}
		u.Status, u.LastError = StatusError, &msg
	default:
		u.Status = StatusConnected
	}

	ok, err := s.repo.Transition(ctx, c.ID, StatusSyncing, u)
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	if ok {
		slog.Info("sync finished", "connection", c.ID, "task", t.ID, "status", u.Status)
	}
	return nil
}

// Connect probes the provider and marks the connection CONNECTED, or ERROR
// when the probe fails. Only one connection per account may be active.
func (s *Service) Connect(ctx context.Context, id string) (*Connection, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusSyncing:
		return nil, apperror.New(apperror.Conflict, "Sync already in progress")
	case StatusConnected:
		return c, nil
	}

	taken, err := s.repo.ActiveForAccount(ctx, c.AccountID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("check account connections: %w", err)
	}
	if taken {
		return nil, apperror.Newf(apperror.Conflict, "account %s already has an active connection", c.AccountID)
	}

	u := Update{Status: StatusConnected, At: s.now()}
	if perr := s.bank.Probe(ctx, c.ExternalRef); perr != nil {
		slog.Warn("connect probe failed", "connection", c.ID, "error", perr)
		msg := perr.Error()
		u.Status, u.LastError = StatusError, &msg
	} else {
		empty := ""
		u.LastError = &empty
	}
	return s.apply(ctx, c, u)
}

// Disconnect drops the link. A connection cannot disconnect mid-sync.
func (s *Service) Disconnect(ctx context.Context, id string) (*Connection, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusSyncing:
		return nil, apperror.New(apperror.Conflict, "Cannot disconnect while a sync is in progress")
	case StatusDisconnected:
		return c, nil
	}
	return s.apply(ctx, c, Update{Status: StatusDisconnected, At: s.now()})
}

// TestConnection probes the provider with the bank client's retry policy.
// Failure moves the connection to ERROR; success moves ERROR back to
// CONNECTED unless another connection holds the account. A SYNCING
// connection keeps its status either way so its open task stays the only one.
func (s *Service) TestConnection(ctx context.Context, id string) (*TestResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	perr := s.bank.Probe(ctx, c.ExternalRef)
	if perr != nil && errors.Is(perr, context.Canceled) {
		return nil, perr
	}

	u := Update{Status: c.Status, At: s.now()}
	res := &TestResult{Healthy: perr == nil}
	if perr != nil {
		res.Error = perr.Error()
		u.LastError = &res.Error
		if c.Status != StatusSyncing {
			u.Status = StatusError
		}
	} else {
		empty := ""
		u.LastError = &empty
		if c.Status == StatusError {
			taken, err := s.repo.ActiveForAccount(ctx, c.AccountID, c.ID)
			if err != nil {
				return nil, fmt.Errorf("check account connections: %w", err)
			}
			// A sibling holds the account's link; stay ERROR until it lets go.
			if !taken {
				u.Status = StatusConnected
			}
		}
	}

	res.Connection, err = s.apply(ctx, c, u)
	if err != nil {
		return nil, err
	}
	slog.Info("connection tested", "connection", c.ID, "healthy", res.Healthy, "status", res.Connection.Status)
	return res, nil
}

// apply writes u if c is still in the status it was read with.
func (s *Service) apply(ctx context.Context, c *Connection, u Update) (*Connection, error) {
	ok, err := s.repo.Transition(ctx, c.ID, c.Status, u)
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	if !ok {
		return nil, apperror.Newf(apperror.Conflict, "connection %s changed concurrently", c.ID)
	}
	return s.repo.Get(ctx, c.ID)
}

// Transactions lists what the connection's syncs have stored.
func (s *Service) Transactions(ctx context.Context, id string) ([]bank.Transaction, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, id)
}

// ReleaseStale frees SYNCING connections whose sync task already finished or
// was never created, as a crash or a lost terminal event leaves them. Open
// tasks are left to the workers. It runs before requests are served.
func (s *Service) ReleaseStale(ctx context.Context) (int, error) {
	conns, err := s.repo.ListByStatus(ctx, StatusSyncing)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range conns {
		c := &conns[i]
		var t *task.Task
		if c.CurrentTaskID != "" {
			t, err = s.tasks.Get(ctx, task.GetRequest{ID: c.CurrentTaskID})
			if err != nil && !apperror.Is(err, apperror.NotFound) {
				return released, fmt.Errorf("load sync task of %s: %w", c.ID, err)
			}
		}

		switch {
		case t != nil && !t.Status.Terminal():
			continue
		case t != nil:
			if err := s.OnTaskTerminal(ctx, t); err != nil {
				return released, err
			}
		default:
			msg := "sync was interrupted before its task started"
			if _, err := s.repo.Transition(ctx, c.ID, StatusSyncing, Update{
				Status: StatusError, LastError: &msg, ClearTask: true, At: s.now(),
			}); err != nil {
				return released, fmt.Errorf("release connection %s: %w", c.ID, err)
			}
		}
		released++
		slog.Info("released stale sync", "connection", c.ID, "task", c.CurrentTaskID)
	}
	return released, nil
}
