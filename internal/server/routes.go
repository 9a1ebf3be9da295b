package server

import (
	"net/http"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(svc Services) http.Handler {
	return newMux(svc)
}

func newMux(svc Services) http.Handler {
	h := &handler{Services: svc}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /api/v1/tasks", h.createTask)
	mux.HandleFunc("GET /api/v1/tasks", h.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.getTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/advance", h.advanceTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/complete", h.completeTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/fail", h.failTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.cancelTask)
	mux.HandleFunc("POST /api/v1/clients/{id}/statements", h.uploadStatement)

	mux.HandleFunc("POST /api/v1/connections", h.createConnection)
	mux.HandleFunc("GET /api/v1/connections/{id}", h.getConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/sync", h.syncConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/connect", h.connectConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/disconnect", h.disconnectConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/test", h.testConnection)
	mux.HandleFunc("GET /api/v1/connections/{id}/transactions", h.listConnectionTransactions)

	mux.HandleFunc("GET /api/v1/notifications", h.listNotifications)
	mux.HandleFunc("GET /api/v1/notifications/stream", h.streamNotifications)
	mux.HandleFunc("POST /api/v1/notifications/read-all", h.markAllNotificationsRead)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.markNotificationRead)
	mux.HandleFunc("DELETE /api/v1/notifications/{id}", h.deleteNotification)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
