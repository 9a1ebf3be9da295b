package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/connection"
	"github.com/ahmethakanbesel/treasury-api/internal/lifecycle"
	"github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/stream"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

// Services are the dependencies the HTTP layer dispatches to.
type Services struct {
	Tasks         *task.Service
	Connections   *connection.Service
	Notifications *notification.Service
	Streams       *stream.Registry
	Pipeline      *lifecycle.Pipeline
}

type handler struct {
	Services
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "streams": h.Streams.Count()})
}

// Tasks

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.Tasks.Create(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := h.Tasks.List(r.Context(), task.ListRequest{
		ClientID: q.Get("clientId"),
		Status:   task.Status(strings.ToUpper(q.Get("status"))),
		Type:     task.Type(strings.ToUpper(q.Get("type"))),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), task.GetRequest{ID: r.PathValue("id")})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) advanceTask(w http.ResponseWriter, r *http.Request) {
	var req task.AdvanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TaskID = r.PathValue("id")
	t, err := h.Tasks.Advance(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) completeTask(w http.ResponseWriter, r *http.Request) {
	var req task.CompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TaskID = r.PathValue("id")
	t, err := h.Tasks.Complete(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) failTask(w http.ResponseWriter, r *http.Request) {
	var req task.FailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TaskID = r.PathValue("id")
	t, err := h.Tasks.Fail(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) uploadStatement(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.StatementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ClientID = r.PathValue("id")
	t, err := h.Pipeline.StatementUploaded(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// Connections

func (h *handler) createConnection(w http.ResponseWriter, r *http.Request) {
	var req connection.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Connections.Create(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) getConnection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type syncResponse struct {
	TaskID string     `json:"taskId"`
	Task   *task.Task `json:"task"`
}

func (h *handler) syncConnection(w http.ResponseWriter, r *http.Request) {
	t, err := h.Connections.Sync(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, syncResponse{TaskID: t.ID, Task: t})
}

func (h *handler) connectConnection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Connections.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) disconnectConnection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Connections.Disconnect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) testConnection(w http.ResponseWriter, r *http.Request) {
	res, err := h.Connections.TestConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listConnectionTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Connections.Transactions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if txs == nil {
		txs = []bank.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Notifications

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := notification.QueryRequest{
		UserID:  userID,
		Type:    notification.Type(strings.ToUpper(q.Get("type"))),
		SortBy:  q.Get("sortBy"),
		SortDir: q.Get("sortDir"),
	}
	if v := q.Get("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read must be true or false")
			return
		}
		req.Read = &read
	}
	for name, dst := range map[string]*int{"page": &req.Page, "limit": &req.Limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, name+" must be a number")
				return
			}
			*dst = n
		}
	}

	page, err := h.Notifications.Query(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.Notifications.MarkRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.Notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Notifications.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

// requireUser reads the caller from X-User-ID. Browsers cannot set headers on
// websocket upgrades, so the userId query parameter is accepted as well.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	if id == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return "", false
	}
	return id, true
}
