package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

const (
	stepAuthenticate = iota
	stepFetch
	stepProcess
	stepUpdateRecords
)

// Processor runs DATA_SYNC tasks: authenticate, fetch, process and
// update-records, reporting each step to the task engine.
type Processor struct {
	repo  Repository
	tasks Tasks
	bank  Bank
	store TransactionStore
}

func NewProcessor(repo Repository, tasks Tasks, bank Bank, store TransactionStore) *Processor {
	return &Processor{repo: repo, tasks: tasks, bank: bank, store: store}
}

func (p *Processor) Process(ctx context.Context, t *task.Task) error {
	if t.ConnectionID == "" {
		return &task.StepError{Code: "INVALID_TASK", Err: fmt.Errorf("task %s has no connection", t.ID)}
	}
	c, err := p.repo.Get(ctx, t.ConnectionID)
	if err != nil {
		return &task.StepError{Code: "CONNECTION_NOT_FOUND", Err: err}
	}

	if err := p.bank.Probe(ctx, c.ExternalRef); err != nil {
		return &task.StepError{Code: "AUTH_FAILED", Err: err}
	}
	if err := p.advance(ctx, t.ID, stepAuthenticate, "provider accepted credentials"); err != nil {
		return err
	}

	var since time.Time
	if c.LastSync != nil {
		since = *c.LastSync
	}
	fetched, err := p.bank.FetchAll(ctx, c.ExternalRef, since)
	if err != nil {
		return &task.StepError{Code: "FETCH_FAILED", Err: err}
	}
	if err := p.advance(ctx, t.ID, stepFetch, fmt.Sprintf("%d transactions fetched", len(fetched))); err != nil {
		return err
	}

	txs := normalize(fetched)
	if err := p.advance(ctx, t.ID, stepProcess, fmt.Sprintf("%d unique transactions", len(txs))); err != nil {
		return err
	}

	inserted, err := p.store.SaveTransactions(ctx, c, txs)
	if err != nil {
		return &task.StepError{Code: "STORE_FAILED", Err: err}
	}
	if err := p.advance(ctx, t.ID, stepUpdateRecords, fmt.Sprintf("%d new records", inserted)); err != nil {
		return err
	}

	results, err := json.Marshal(SyncResults{Fetched: len(fetched), Inserted: inserted})
	if err != nil {
		return err
	}
	if _, err := p.tasks.Complete(ctx, task.CompleteRequest{TaskID: t.ID, Results: results}); err != nil {
		return err
	}
	slog.Info("data sync done", "connection", c.ID, "task", t.ID, "fetched", len(fetched), "inserted", inserted)
	return nil
}

func (p *Processor) advance(ctx context.Context, taskID string, step int, detail string) error {
	_, err := p.tasks.Advance(ctx, task.AdvanceRequest{
		TaskID:        taskID,
		StepIndex:     step,
		ProgressDelta: 100,
		Detail:        detail,
	})
	return err
}

// normalize drops entries without an id and keeps the first occurrence of
// each external id.
func normalize(txs []bank.Transaction) []bank.Transaction {
	seen := make(map[string]struct{}, len(txs))
	out := make([]bank.Transaction, 0, len(txs))
	for _, tx := range txs {
		tx.ExternalID = strings.TrimSpace(tx.ExternalID)
		if tx.ExternalID == "" {
			continue
		}
		if _, dup := seen[tx.ExternalID]; dup {
			continue
		}
		seen[tx.ExternalID] = struct{}{}
		tx.Currency = strings.ToUpper(strings.TrimSpace(tx.Currency))
		tx.Description = strings.TrimSpace(tx.Description)
		tx.BookedAt = tx.BookedAt.UTC()
		out = append(out, tx)
	}
	return out
}
