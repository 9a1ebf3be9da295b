package stream

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/notification"
)

const DefaultHeartbeat = 30 * time.Second

// Registry holds at most one live connection per user and pushes
// notifications to it. Delivery is best effort: nothing is queued for users
// who are offline, and a failed write drops the connection.
type Registry struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	heartbeat time.Duration
	now       func() time.Time
}

func NewRegistry(heartbeat time.Duration) *Registry {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Registry{
		subs:      make(map[string]*Subscription),
		heartbeat: heartbeat,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Subscription is one user's live connection.
type Subscription struct {
	reg    *Registry
	userID string
	types  map[notification.Type]struct{}

	mu     sync.Mutex // guards w and closed
	w      io.WriteCloser
	closed bool
	done   chan struct{}
}

type connectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type heartbeatFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type eventFrame struct {
	ID        string            `json:"id"`
	Type      notification.Type `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      json.RawMessage   `json:"data"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Subscribe registers w as the live connection for userID, replacing and
// closing any earlier one. An empty types list receives every notification.
// The first frame written is the connected frame.
func (r *Registry) Subscribe(userID string, w io.WriteCloser, types []notification.Type) *Subscription {
	sub := &Subscription{
		reg:    r,
		userID: userID,
		w:      w,
		done:   make(chan struct{}),
	}
	if len(types) > 0 {
		sub.types = make(map[notification.Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	// Holding sub.mu until sub is registered keeps publishes behind the
	// connected frame.
	sub.mu.Lock()
	if err := sub.writeLocked(connectedFrame{Type: "connected", Message: "Notification stream connected"}); err != nil {
		sub.mu.Unlock()
		slog.Debug("stream: connected frame failed", "user_id", userID, "error", err)
		sub.close()
		return sub
	}
	r.mu.Lock()
	prev := r.subs[userID]
	r.subs[userID] = sub
	r.mu.Unlock()
	sub.mu.Unlock()

	if prev != nil {
		prev.close()
		slog.Debug("stream: replaced connection", "user_id", userID)
	}

	go r.heartbeatLoop(sub)
	slog.Info("stream: subscribed", "user_id", userID, "types", len(types))
	return sub
}

// Publish writes n to the user's connection if one is open and its type
// filter admits n. Write failures unsubscribe the connection and are not
// reported.
func (r *Registry) Publish(userID string, n *notification.Notification) {
	r.mu.Lock()
	sub := r.subs[userID]
	r.mu.Unlock()

	if sub == nil || !sub.accepts(n.Type) {
		return
	}

	err := sub.write(eventFrame{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		slog.Debug("stream: publish failed, dropping connection", "user_id", userID, "error", err)
		r.remove(sub)
	}
}

// Unsubscribe removes and closes the user's connection, if any.
func (r *Registry) Unsubscribe(userID string) {
	r.mu.Lock()
	sub := r.subs[userID]
	delete(r.subs, userID)
	r.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// remove drops sub only if it is still the registered connection for its user.
func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	if r.subs[sub.userID] == sub {
		delete(r.subs, sub.userID)
	}
	r.mu.Unlock()
	sub.close()
}

func (r *Registry) heartbeatLoop(sub *Subscription) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			if err := sub.write(heartbeatFrame{Type: "heartbeat", Timestamp: r.now()}); err != nil {
				slog.Debug("stream: heartbeat failed, dropping connection", "user_id", sub.userID, "error", err)
				r.remove(sub)
				return
			}
		}
	}
}

func (s *Subscription) accepts(t notification.Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// write sends v as a single frame.
func (s *Subscription) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *Subscription) writeLocked(v any) error {
	if s.closed {
		return io.ErrClosedPipe
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.w.Write(b)
	return err
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	_ = s.w.Close()
}

// Done is closed once the subscription is replaced or removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes s. It is a no-op if s was already replaced.
func (s *Subscription) Close() {
	s.reg.remove(s)
}

func (s *Subscription) UserID() string {
	return s.userID
}
