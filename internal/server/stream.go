package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/ahmethakanbesel/treasury-api/internal/notification"
)

const streamWriteTimeout = 10 * time.Second

// streamNotifications upgrades to a websocket and registers it as the
// caller's live notification stream. Incoming frames are read and discarded
// until either side closes.
func (h *handler) streamNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	types, ok := parseTypes(w, r.URL.Query().Get("types"))
	if !ok {
		return
	}

	websocket.Handler(func(ws *websocket.Conn) {
		// The http.Server read/write timeouts still apply to the hijacked conn.
		_ = ws.SetDeadline(time.Time{})

		sub := h.Streams.Subscribe(userID, &wsConn{ws: ws}, types)
		defer sub.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			var discard string
			for {
				if err := websocket.Message.Receive(ws, &discard); err != nil {
					return
				}
			}
		}()

		select {
		case <-closed:
			slog.Debug("stream closed by client", "user_id", userID)
		case <-sub.Done():
		case <-ws.Request().Context().Done():
		}
	}).ServeHTTP(w, r)
}

func parseTypes(w http.ResponseWriter, raw string) ([]notification.Type, bool) {
	if raw == "" {
		return nil, true
	}
	var types []notification.Type
	for _, s := range strings.Split(raw, ",") {
		t := notification.Type(strings.ToUpper(strings.TrimSpace(s)))
		if t == "" {
			continue
		}
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "unknown notification type "+string(t))
			return nil, false
		}
		types = append(types, t)
	}
	return types, true
}

// wsConn writes each payload as one text frame under a write deadline.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return 0, err
	}
	return c.ws.Write(p)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
