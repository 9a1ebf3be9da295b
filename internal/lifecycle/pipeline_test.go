package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/client"
	"github.com/ahmethakanbesel/treasury-api/internal/connection"
	"github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
	clientrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/client"
	connrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/connection"
	notifrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/notification"
	taskrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/task"
	"github.com/ahmethakanbesel/treasury-api/internal/stream"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

type streamConn struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (c *streamConn) Write(p []byte) (int, error) {
	var f map[string]any
	if err := json.Unmarshal(p, &f); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return len(p), nil
}

func (c *streamConn) Close() error { return nil }

func (c *streamConn) events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		if f["type"] != "connected" && f["type"] != "heartbeat" {
			out = append(out, f)
		}
	}
	return out
}

type fakeBank struct {
	txs []bank.Transaction
}

func (b *fakeBank) Probe(context.Context, string) error { return nil }

func (b *fakeBank) FetchAll(context.Context, string, time.Time) ([]bank.Transaction, error) {
	return b.txs, nil
}

type env struct {
	tasks    *task.Service
	conns    *connection.Service
	notes    *notification.Service
	streams  *stream.Registry
	pipeline *Pipeline
	connRepo *connrepo.Repository
	bank     *fakeBank
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clients := clientrepo.NewRepository(db.DB)
	require.NoError(t, clients.Create(context.Background(), &client.Client{ID: "c1", Name: "Acme", OwnerUserID: "rm-1"}))
	dir := client.NewDirectory(clients)

	e := &env{
		streams:  stream.NewRegistry(time.Hour),
		connRepo: connrepo.NewRepository(db.DB),
		bank:     &fakeBank{},
	}
	e.tasks = task.NewService(taskrepo.NewRepository(db.DB), dir)
	e.notes = notification.NewService(notifrepo.NewRepository(db.DB), e.streams)
	e.conns = connection.NewService(e.connRepo, e.tasks, e.bank, dir)
	e.pipeline = New(e.tasks, e.conns, e.notes)
	e.tasks.SetObserver(e.pipeline)
	return e
}

func (e *env) seedConnection(t *testing.T, id string, status connection.Status) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.connRepo.Create(context.Background(), &connection.Connection{
		ID: id, ClientID: "c1", AccountID: "acct-" + id, BankName: "First Bank",
		ExternalRef: "ref-" + id, Status: status, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestSyncCompletesAndNotifies(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seedConnection(t, "C1", connection.StatusConnected)
	conn := &streamConn{}
	e.streams.Subscribe("rm-1", conn, nil)

	t1, err := e.conns.Sync(ctx, "C1")
	require.NoError(t, err)

	c, err := e.conns.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusSyncing, c.Status)

	got, err := e.tasks.Get(ctx, task.GetRequest{ID: t1.ID})
	require.NoError(t, err)
	require.Len(t, got.Steps, 4)
	for i, name := range task.DataSyncSteps {
		assert.Equal(t, name, got.Steps[i].Name)
		assert.Equal(t, task.StepPending, got.Steps[i].Status)
		assert.Zero(t, got.Steps[i].Progress)
	}

	_, err = e.conns.Sync(ctx, "C1")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))

	_, err = e.tasks.Start(ctx, t1.ID)
	require.NoError(t, err)
	_, err = e.tasks.Complete(ctx, task.CompleteRequest{TaskID: t1.ID, Results: json.RawMessage(`{"fetched":0,"inserted":0}`)})
	require.NoError(t, err)

	c, err = e.conns.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusConnected, c.Status)
	require.NotNil(t, c.LastSync)
	assert.Empty(t, c.CurrentTaskID)

	events := conn.events()
	require.Len(t, events, 1)
	assert.Equal(t, "PROCESSING_COMPLETE", events[0]["type"])
	data := events[0]["data"].(map[string]any)
	assert.Equal(t, t1.ID, data["taskId"])

	page, err := e.notes.Query(ctx, notification.QueryRequest{UserID: "rm-1"})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, events[0]["id"], page.Notifications[0].ID)
}

func TestSyncFailureMovesConnectionToError(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seedConnection(t, "C1", connection.StatusConnected)
	conn := &streamConn{}
	e.streams.Subscribe("rm-1", conn, []notification.Type{notification.TypeProcessingFailed})

	t1, err := e.conns.Sync(ctx, "C1")
	require.NoError(t, err)
	_, err = e.tasks.Fail(ctx, task.FailRequest{TaskID: t1.ID, Code: "FETCH_FAILED", Message: "bank timeout"})
	require.NoError(t, err)

	c, _ := e.conns.Get(ctx, "C1")
	assert.Equal(t, connection.StatusError, c.Status)
	assert.Equal(t, "bank timeout", c.LastError)

	events := conn.events()
	require.Len(t, events, 1)
	assert.Equal(t, "PROCESSING_FAILED", events[0]["type"])

	_, err = e.conns.Sync(ctx, "C1")
	require.NoError(t, err, "a connection in ERROR may sync again")
}

func TestSyncCancelReturnsToConnected(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seedConnection(t, "C1", connection.StatusConnected)

	t1, err := e.conns.Sync(ctx, "C1")
	require.NoError(t, err)
	_, err = e.tasks.Cancel(ctx, t1.ID)
	require.NoError(t, err)

	c, _ := e.conns.Get(ctx, "C1")
	assert.Equal(t, connection.StatusConnected, c.Status)
	assert.Nil(t, c.LastSync)

	page, err := e.notes.Query(ctx, notification.QueryRequest{UserID: "rm-1", Type: notification.TypeSystemAlert})
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 1)
}

func TestStatementUploaded_FilteredStream(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	conn := &streamConn{}
	e.streams.Subscribe("rm-1", conn, []notification.Type{notification.TypeProcessingFailed})

	tk, err := e.pipeline.StatementUploaded(ctx, StatementRequest{ClientID: "c1", FileName: "march.pdf"})
	require.NoError(t, err)
	assert.Equal(t, task.TypeStatementParse, tk.Type)
	assert.Equal(t, task.StatusQueued, tk.Status)

	assert.Empty(t, conn.events())

	page, err := e.notes.Query(ctx, notification.QueryRequest{UserID: "rm-1"})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, notification.TypeStatementUploaded, page.Notifications[0].Type)

	_, err = e.pipeline.StatementUploaded(ctx, StatementRequest{ClientID: "ghost", FileName: "x.pdf"})
	assert.Equal(t, apperror.InvalidRequest, apperror.CodeOf(err))
	_, err = e.pipeline.StatementUploaded(ctx, StatementRequest{ClientID: "c1"})
	assert.Equal(t, apperror.BadRequest, apperror.CodeOf(err))
}

func TestRecommendationCompletion(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	tk, err := e.tasks.Create(ctx, task.CreateRequest{ClientID: "c1", Type: task.TypeRecommendationGeneration})
	require.NoError(t, err)
	_, err = e.tasks.Start(ctx, tk.ID)
	require.NoError(t, err)
	_, err = e.tasks.Complete(ctx, task.CompleteRequest{TaskID: tk.ID, Results: json.RawMessage(`{"recommendations":[{},{},{}]}`)})
	require.NoError(t, err)

	page, err := e.notes.Query(ctx, notification.QueryRequest{UserID: "rm-1", Type: notification.TypeRecommendationReady})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Contains(t, page.Notifications[0].Message, "3 new")
}

func TestWorkerRunsDataSync(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seedConnection(t, "C1", connection.StatusConnected)
	e.bank.txs = []bank.Transaction{
		{ExternalID: "tx-1", BookedAt: time.Now().UTC(), Amount: decimal.RequireFromString("25.00"), Currency: "usd"},
		{ExternalID: "tx-1", BookedAt: time.Now().UTC(), Amount: decimal.RequireFromString("25.00"), Currency: "usd"},
		{ExternalID: "tx-2", BookedAt: time.Now().UTC(), Amount: decimal.RequireFromString("-3.20"), Currency: "USD"},
	}

	registry := task.NewRegistry()
	registry.Register(task.TypeDataSync, connection.NewProcessor(e.connRepo, e.tasks, e.bank, e.connRepo))
	pool := task.NewWorkerPool(e.tasks, registry, 1)
	e.tasks.SetNotify(pool.Notify)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	t1, err := e.conns.Sync(ctx, "C1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, err := e.conns.Get(ctx, "C1")
		return err == nil && c.Status == connection.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	got, err := e.tasks.Get(ctx, task.GetRequest{ID: t1.ID})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.JSONEq(t, `{"fetched":3,"inserted":2}`, string(got.Results))

	stored, err := e.connRepo.ListTransactions(ctx, "C1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRecommendationCount(t *testing.T) {
	assert.Equal(t, 4, recommendationCount(json.RawMessage(`{"count":4}`)))
	assert.Equal(t, 2, recommendationCount(json.RawMessage(`{"recommendations":[1,2]}`)))
	assert.Zero(t, recommendationCount(nil))
	assert.Zero(t, recommendationCount(json.RawMessage(`[]`)))
}
