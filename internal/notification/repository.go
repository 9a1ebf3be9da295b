package notification

import (
	"context"
	"time"
)

type Filter struct {
	UserID string
	Read   *bool
	Type   Type
}

type Sort struct {
	By   string // createdAt, type, read or title
	Desc bool
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// Get returns the notification only if it belongs to userID.
	Get(ctx context.Context, id, userID string) (*Notification, error)
	Query(ctx context.Context, f Filter, s Sort, offset, limit int) ([]Notification, error)
	Count(ctx context.Context, f Filter) (int64, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
	ExpiredIDs(ctx context.Context, now time.Time) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Publisher delivers a persisted notification to the user's live stream, if
// one is open. It never reports delivery failures.
type Publisher interface {
	Publish(userID string, n *Notification)
}
