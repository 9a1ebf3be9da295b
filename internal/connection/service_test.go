package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

type mockRepo struct {
	mu    sync.Mutex
	conns map[string]*Connection
	txs   map[string][]bank.Transaction
}

func newMockRepo() *mockRepo {
	return &mockRepo{conns: make(map[string]*Connection), txs: make(map[string][]bank.Transaction)}
}

func (m *mockRepo) Create(_ context.Context, c *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conns[c.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "connection not found")
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Connection
	for _, c := range m.conns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepo) Transition(_ context.Context, id string, from Status, u Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	if u.Status == StatusConnected || u.Status == StatusSyncing {
		for _, o := range m.conns {
			if o.ID != id && o.AccountID == c.AccountID && o.Active() {
				return false, apperror.New(apperror.Conflict, "another connection to this account is already active")
			}
		}
	}
	c.Status = u.Status
	if u.LastSync != nil {
		c.LastSync = u.LastSync
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
	switch {
	case u.TaskID != "":
		c.CurrentTaskID = u.TaskID
	case u.ClearTask:
		c.CurrentTaskID = ""
	}
	c.UpdatedAt = u.At
	return true, nil
}

func (m *mockRepo) ListTransactions(_ context.Context, connectionID string) ([]bank.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs[connectionID], nil
}

func (m *mockRepo) ActiveForAccount(_ context.Context, accountID, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.ID != excludeID && c.AccountID == accountID && c.Active() {
			return true, nil
		}
	}
	return false, nil
}

type mockTasks struct {
	mu        sync.Mutex
	created   []task.CreateRequest
	tasks     map[string]*task.Task
	advances  []task.AdvanceRequest
	completed []task.CompleteRequest
	createErr error
	delay     time.Duration
	onCreate  func(req task.CreateRequest)
}

func (m *mockTasks) Create(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	time.Sleep(m.delay)
	if m.onCreate != nil {
		m.onCreate(req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	id := req.ID
	if id == "" {
		id = "task-" + string(rune('0'+len(m.created)))
	}
	t := &task.Task{
		ID:           id,
		ClientID:     req.ClientID,
		ConnectionID: req.ConnectionID,
		Type:         req.Type,
		Status:       task.StatusQueued,
	}
	m.put(t)
	return t, nil
}

func (m *mockTasks) put(t *task.Task) {
	if m.tasks == nil {
		m.tasks = make(map[string]*task.Task)
	}
	cp := *t
	m.tasks[t.ID] = &cp
}

func (m *mockTasks) Get(_ context.Context, req task.GetRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[req.ID]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "task not found")
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) Advance(_ context.Context, req task.AdvanceRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advances = append(m.advances, req)
	return &task.Task{ID: req.TaskID}, nil
}

func (m *mockTasks) Complete(_ context.Context, req task.CompleteRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, req)
	return &task.Task{ID: req.TaskID, Status: task.StatusCompleted}, nil
}

type mockBank struct {
	probeErr error
	fetchErr error
	txs      []bank.Transaction
	since    time.Time
	probes   atomic.Int32
}

func (m *mockBank) Probe(context.Context, string) error {
	m.probes.Add(1)
	return m.probeErr
}

func (m *mockBank) FetchAll(_ context.Context, _ string, since time.Time) ([]bank.Transaction, error) {
	m.since = since
	return m.txs, m.fetchErr
}

type mockClients struct{}

func (mockClients) Owner(_ context.Context, clientID string) (string, error) {
	if clientID != "c1" {
		return "", apperror.New(apperror.NotFound, "client not found")
	}
	return "rm-1", nil
}

func newTestService(t *testing.T) (*Service, *mockRepo, *mockTasks, *mockBank) {
	t.Helper()
	repo := newMockRepo()
	tasks := &mockTasks{}
	bk := &mockBank{}
	return NewService(repo, tasks, bk, mockClients{}), repo, tasks, bk
}

func seedConnection(t *testing.T, repo *mockRepo, id string, status Status) *Connection {
	t.Helper()
	c := &Connection{
		ID: id, ClientID: "c1", AccountID: "acct-" + id, BankName: "First Bank",
		ExternalRef: "ref-" + id, Status: status,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestService_Create(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateRequest{ClientID: "c1", AccountID: "a1", BankName: "First Bank", ExternalRef: "r1"})
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status)
	assert.NotEmpty(t, c.ID)

	_, err = svc.Create(ctx, CreateRequest{ClientID: "ghost", AccountID: "a1", BankName: "B", ExternalRef: "r"})
	assert.Equal(t, apperror.InvalidRequest, apperror.CodeOf(err))

	_, err = svc.Create(ctx, CreateRequest{ClientID: "c1", BankName: "B", ExternalRef: "r"})
	assert.Equal(t, apperror.BadRequest, apperror.CodeOf(err))
}

func TestService_Sync(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)

	tk, err := svc.Sync(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "C1", tk.ConnectionID)
	require.Len(t, tasks.created, 1)
	assert.Equal(t, task.TypeDataSync, tasks.created[0].Type)
	assert.Equal(t, "c1", tasks.created[0].ClientID)

	c, _ := repo.Get(ctx, "C1")
	assert.Equal(t, StatusSyncing, c.Status)
	assert.Equal(t, tk.ID, c.CurrentTaskID)

	_, err = svc.Sync(ctx, "C1")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))
	assert.Len(t, tasks.created, 1)
}

func TestService_Sync_Errors(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "off", StatusDisconnected)

	_, err := svc.Sync(ctx, "missing")
	assert.Equal(t, apperror.NotFound, apperror.CodeOf(err))

	_, err = svc.Sync(ctx, "off")
	assert.Equal(t, apperror.InvalidState, apperror.CodeOf(err))
	assert.Contains(t, err.Error(), "Cannot sync disconnected connection")
}

func TestService_Sync_FromError(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedConnection(t, repo, "C1", StatusError)

	_, err := svc.Sync(context.Background(), "C1")
	require.NoError(t, err)
	c, _ := repo.Get(context.Background(), "C1")
	assert.Equal(t, StatusSyncing, c.Status)
}

func TestService_Sync_TaskCreateFailureReverts(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	seedConnection(t, repo, "C1", StatusConnected)
	tasks.createErr = errors.New("database is locked")

	_, err := svc.Sync(context.Background(), "C1")
	require.Error(t, err)

	c, _ := repo.Get(context.Background(), "C1")
	assert.Equal(t, StatusConnected, c.Status)
	assert.Empty(t, c.CurrentTaskID)
}

func TestService_Sync_RecordsTaskBeforeCreating(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)

	var during *Connection
	tasks.onCreate = func(task.CreateRequest) { during, _ = repo.Get(ctx, "C1") }

	tk, err := svc.Sync(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, during)
	assert.Equal(t, StatusSyncing, during.Status)
	assert.Equal(t, tk.ID, during.CurrentTaskID)
	assert.Equal(t, tk.ID, tasks.created[0].ID)
}

func TestService_Sync_FinishedTaskCannotHoldNextSync(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)

	t1, err := svc.Sync(ctx, "C1")
	require.NoError(t, err)
	t1.Status = task.StatusCompleted
	require.NoError(t, svc.OnTaskTerminal(ctx, t1))

	t2, err := svc.Sync(ctx, "C1")
	require.NoError(t, err)

	// A repeated event for the first sync does not touch the second.
	require.NoError(t, svc.OnTaskTerminal(ctx, t1))
	c, _ := repo.Get(ctx, "C1")
	assert.Equal(t, StatusSyncing, c.Status)
	assert.Equal(t, t2.ID, c.CurrentTaskID)

	t2.Status = task.StatusCompleted
	require.NoError(t, svc.OnTaskTerminal(ctx, t2))
	c, _ = repo.Get(ctx, "C1")
	assert.Equal(t, StatusConnected, c.Status)
	assert.Empty(t, c.CurrentTaskID)

	_, err = svc.Sync(ctx, "C1")
	assert.NoError(t, err)
}

func TestService_Sync_FromErrorWhileSiblingActive(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	ctx := context.Background()
	a := seedConnection(t, repo, "A", StatusError)
	b := seedConnection(t, repo, "B", StatusConnected)
	b.AccountID = a.AccountID
	require.NoError(t, repo.Create(ctx, b))

	_, err := svc.Sync(ctx, "A")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))
	assert.Empty(t, tasks.created)

	got, _ := repo.Get(ctx, "A")
	assert.Equal(t, StatusError, got.Status)
	assert.Empty(t, got.CurrentTaskID)
}

func TestService_Sync_Concurrent(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	seedConnection(t, repo, "C1", StatusConnected)
	tasks.delay = 5 * time.Millisecond

	const callers = 10
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Sync(context.Background(), "C1")
			switch {
			case err == nil:
				ok.Add(1)
			case apperror.Is(err, apperror.Conflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	assert.Len(t, tasks.created, 1)
}

func TestService_OnTaskTerminal(t *testing.T) {
	end := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		status    task.Status
		failure   *task.Failure
		want      Status
		wantSync  bool
		wantError string
	}{
		{"completed", task.StatusCompleted, nil, StatusConnected, true, ""},
		{"failed", task.StatusFailed, &task.Failure{Code: "FETCH_FAILED", Message: "bank timeout"}, StatusError, false, "bank timeout"},
		{"cancelled", task.StatusCancelled, nil, StatusConnected, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _, _ := newTestService(t)
			ctx := context.Background()
			seedConnection(t, repo, "C1", StatusConnected)
			tk, err := svc.Sync(ctx, "C1")
			require.NoError(t, err)

			tk.Status = tt.status
			tk.Error = tt.failure
			tk.EndTime = &end
			require.NoError(t, svc.OnTaskTerminal(ctx, tk))

			c, _ := repo.Get(ctx, "C1")
			assert.Equal(t, tt.want, c.Status)
			assert.Empty(t, c.CurrentTaskID)
			assert.Equal(t, tt.wantError, c.LastError)
			if tt.wantSync {
				require.NotNil(t, c.LastSync)
				assert.True(t, c.LastSync.Equal(end))
			} else {
				assert.Nil(t, c.LastSync)
			}
		})
	}
}

func TestService_OnTaskTerminal_IgnoresUnrelated(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)
	tk, err := svc.Sync(ctx, "C1")
	require.NoError(t, err)

	require.NoError(t, svc.OnTaskTerminal(ctx, &task.Task{ID: "other", ConnectionID: "C1", Status: task.StatusCompleted}))
	require.NoError(t, svc.OnTaskTerminal(ctx, &task.Task{ID: tk.ID, ConnectionID: "C1", Status: task.StatusInProgress}))
	require.NoError(t, svc.OnTaskTerminal(ctx, &task.Task{ID: "x", Status: task.StatusCompleted}))

	c, _ := repo.Get(ctx, "C1")
	assert.Equal(t, StatusSyncing, c.Status)
}

func TestService_Connect(t *testing.T) {
	svc, repo, _, bk := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusDisconnected)

	c, err := svc.Connect(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, c.Status)

	c, err = svc.Connect(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, c.Status)
	assert.Equal(t, int32(1), bk.probes.Load())
}

func TestService_Connect_ProbeFailure(t *testing.T) {
	svc, repo, _, bk := newTestService(t)
	seedConnection(t, repo, "C1", StatusDisconnected)
	bk.probeErr = bank.ErrInactive

	c, err := svc.Connect(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, c.Status)
	assert.Equal(t, bank.ErrInactive.Error(), c.LastError)
}

func TestService_Connect_AccountAlreadyActive(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedConnection(t, repo, "C1", StatusConnected)
	dup := seedConnection(t, repo, "C2", StatusDisconnected)
	dup.AccountID = "acct-C1"
	require.NoError(t, repo.Create(context.Background(), dup))

	_, err := svc.Connect(context.Background(), "C2")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))
}

// racyRepo hides sibling connections from the pre-check, as a concurrent
// Connect on a sibling would.
type racyRepo struct {
	*mockRepo
}

func (racyRepo) ActiveForAccount(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestService_Connect_SiblingWinsRace(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(racyRepo{repo}, &mockTasks{}, &mockBank{}, mockClients{})
	ctx := context.Background()
	a := seedConnection(t, repo, "A", StatusDisconnected)
	b := seedConnection(t, repo, "B", StatusDisconnected)
	b.AccountID = a.AccountID
	require.NoError(t, repo.Create(ctx, b))

	_, err := svc.Connect(ctx, "A")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, "B")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))

	got, _ := repo.Get(ctx, "B")
	assert.Equal(t, StatusDisconnected, got.Status)
}

func TestService_Disconnect(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)
	seedConnection(t, repo, "C2", StatusSyncing)

	c, err := svc.Disconnect(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status)

	_, err = svc.Disconnect(ctx, "C2")
	assert.Equal(t, apperror.Conflict, apperror.CodeOf(err))
}

func TestService_TestConnection(t *testing.T) {
	svc, repo, _, bk := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)
	seedConnection(t, repo, "C2", StatusSyncing)

	bk.probeErr = errors.New("bank api returned HTTP 503")
	res, err := svc.TestConnection(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, res.Healthy)
	assert.Equal(t, StatusError, res.Connection.Status)
	assert.Equal(t, "bank api returned HTTP 503", res.Connection.LastError)

	res, err = svc.TestConnection(ctx, "C2")
	require.NoError(t, err)
	assert.False(t, res.Healthy)
	assert.Equal(t, StatusSyncing, res.Connection.Status)

	bk.probeErr = nil
	res, err = svc.TestConnection(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, res.Healthy)
	assert.Equal(t, StatusConnected, res.Connection.Status)
	assert.Empty(t, res.Connection.LastError)
}

func TestService_TestConnection_SiblingHoldsAccount(t *testing.T) {
	svc, repo, _, bk := newTestService(t)
	ctx := context.Background()
	a := seedConnection(t, repo, "A", StatusDisconnected)
	b := seedConnection(t, repo, "B", StatusDisconnected)
	b.AccountID = a.AccountID
	require.NoError(t, repo.Create(ctx, b))

	bk.probeErr = bank.ErrInactive
	c, err := svc.Connect(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, StatusError, c.Status)

	bk.probeErr = nil
	c, err = svc.Connect(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, StatusConnected, c.Status)

	res, err := svc.TestConnection(ctx, "A")
	require.NoError(t, err)
	assert.True(t, res.Healthy)
	assert.Equal(t, StatusError, res.Connection.Status)
	assert.Empty(t, res.Connection.LastError)

	got, _ := repo.Get(ctx, "B")
	assert.Equal(t, StatusConnected, got.Status)
}

func TestService_ReleaseStale(t *testing.T) {
	svc, repo, tasks, _ := newTestService(t)
	ctx := context.Background()
	end := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

	setTask := func(connID, taskID string) {
		repo.mu.Lock()
		repo.conns[connID].CurrentTaskID = taskID
		repo.mu.Unlock()
	}
	seedConnection(t, repo, "orphan", StatusSyncing)
	setTask("orphan", "never-created")
	seedConnection(t, repo, "done", StatusSyncing)
	setTask("done", "t-done")
	seedConnection(t, repo, "running", StatusSyncing)
	setTask("running", "t-running")
	seedConnection(t, repo, "idle", StatusConnected)

	tasks.put(&task.Task{ID: "t-done", ConnectionID: "done", Status: task.StatusCompleted, EndTime: &end})
	tasks.put(&task.Task{ID: "t-running", ConnectionID: "running", Status: task.StatusInProgress})

	n, err := svc.ReleaseStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, _ := repo.Get(ctx, "orphan")
	assert.Equal(t, StatusError, c.Status)
	assert.Empty(t, c.CurrentTaskID)
	assert.NotEmpty(t, c.LastError)

	c, _ = repo.Get(ctx, "done")
	assert.Equal(t, StatusConnected, c.Status)
	require.NotNil(t, c.LastSync)
	assert.True(t, c.LastSync.Equal(end))

	c, _ = repo.Get(ctx, "running")
	assert.Equal(t, StatusSyncing, c.Status)
	assert.Equal(t, "t-running", c.CurrentTaskID)

	n, err = svc.ReleaseStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.Sync(ctx, "orphan")
	assert.NoError(t, err, "a released connection can sync again")
}

func TestService_Transactions(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedConnection(t, repo, "C1", StatusConnected)
	repo.txs["C1"] = []bank.Transaction{{ExternalID: "tx-1", Amount: decimal.NewFromInt(5), Currency: "USD"}}

	txs, err := svc.Transactions(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].ExternalID)

	_, err = svc.Transactions(ctx, "missing")
	assert.Equal(t, apperror.NotFound, apperror.CodeOf(err))
}

func TestProcessor_Process(t *testing.T) {
	repo := newMockRepo()
	tasks := &mockTasks{}
	lastSync := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bk := &mockBank{txs: []bank.Transaction{
		{ExternalID: "tx-1", Amount: decimal.RequireFromString("10.50"), Currency: "usd"},
		{ExternalID: " tx-1 ", Amount: decimal.RequireFromString("10.50"), Currency: "usd"},
		{ExternalID: "", Amount: decimal.NewFromInt(3)},
		{ExternalID: "tx-2", Amount: decimal.RequireFromString("-4"), Currency: "USD"},
	}}
	store := &mockStore{}
	c := seedConnection(t, repo, "C1", StatusSyncing)
	c.LastSync = &lastSync
	require.NoError(t, repo.Create(context.Background(), c))

	p := NewProcessor(repo, tasks, bk, store)
	err := p.Process(context.Background(), &task.Task{ID: "t1", ConnectionID: "C1", Type: task.TypeDataSync})
	require.NoError(t, err)

	assert.True(t, bk.since.Equal(lastSync))
	require.Len(t, store.saved, 2)
	assert.Equal(t, "USD", store.saved[0].Currency)

	require.Len(t, tasks.advances, 4)
	for i, a := range tasks.advances {
		assert.Equal(t, i, a.StepIndex)
		assert.Equal(t, 100, a.ProgressDelta)
	}
	require.Len(t, tasks.completed, 1)
	assert.JSONEq(t, `{"fetched":4,"inserted":2}`, string(tasks.completed[0].Results))
}

func TestProcessor_StepFailures(t *testing.T) {
	tests := []struct {
		name     string
		bank     *mockBank
		store    *mockStore
		code     string
		advances int
	}{
		{"auth", &mockBank{probeErr: bank.ErrInactive}, &mockStore{}, "AUTH_FAILED", 0},
		{"fetch", &mockBank{fetchErr: errors.New("timeout")}, &mockStore{}, "FETCH_FAILED", 1},
		{"store", &mockBank{}, &mockStore{err: errors.New("disk full")}, "STORE_FAILED", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			tasks := &mockTasks{}
			seedConnection(t, repo, "C1", StatusSyncing)

			err := NewProcessor(repo, tasks, tt.bank, tt.store).
				Process(context.Background(), &task.Task{ID: "t1", ConnectionID: "C1"})

			var se *task.StepError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
			assert.Len(t, tasks.advances, tt.advances)
			assert.Empty(t, tasks.completed)
		})
	}
}

type mockStore struct {
	saved []bank.Transaction
	err   error
}

func (m *mockStore) SaveTransactions(_ context.Context, _ *Connection, txs []bank.Transaction) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.saved = append(m.saved, txs...)
	return int64(len(txs)), nil
}
