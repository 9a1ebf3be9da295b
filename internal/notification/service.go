package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

type Service struct {
	repo      Repository
	publisher Publisher
	batchSize int
	now       func() time.Time
}

func NewService(repo Repository, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: publisher,
		batchSize: 500,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithBatchSize sets how many rows one expiry delete removes at most.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Create persists the notification and then hands it to the publisher. The
// returned record is durable whether or not the user is online.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := req.data()
	if err != nil {
		return nil, fmt.Errorf("encode notification data: %w", err)
	}

	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      data,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(n.UserID, n)
	}
	return n, nil
}

func (s *Service) Query(ctx context.Context, req QueryRequest) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f := Filter{UserID: req.UserID, Read: req.Read, Type: req.Type}
	offset := (req.Page - 1) * req.Limit
	items, err := s.repo.Query(ctx, f, Sort{By: req.SortBy, Desc: req.SortDir == "desc"}, offset, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}

	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	unread := false
	unreadCount, err := s.repo.Count(ctx, Filter{UserID: req.UserID, Read: &unread, Type: req.Type})
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}

	if items == nil {
		items = []Notification{}
	}
	return &Page{
		Notifications: items,
		Total:         total,
		UnreadCount:   unreadCount,
		Page:          req.Page,
		Limit:         req.Limit,
		TotalPages:    int((total + int64(req.Limit) - 1) / int64(req.Limit)),
	}, nil
}

// MarkRead flags the user's notification as read. Marking it again is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	if id == "" || userID == "" {
		return nil, apperror.New(apperror.BadRequest, "notification id and userId are required")
	}
	n, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.Read = true
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperror.New(apperror.BadRequest, "userId is required")
	}
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if id == "" || userID == "" {
		return apperror.New(apperror.BadRequest, "notification id and userId are required")
	}
	ok, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if !ok {
		return apperror.New(apperror.NotFound, "notification not found")
	}
	return nil
}

// ExpireSweep deletes every notification whose expiresAt is at or before now.
// Batches that fail are logged and skipped; the returned error joins them and
// the next sweep picks the rows up again.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	now := s.now()
	ids, err := s.repo.ExpiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired notifications: %w", err)
	}

	var deleted int64
	var errs []error
	for _, batch := range chunk(ids, s.batchSize) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.repo.DeleteByIDs(ctx, batch)
		if err != nil {
			slog.Warn("expire sweep: batch failed", "size", len(batch), "error", err)
			errs = append(errs, err)
			continue
		}
		deleted += n
	}

	if deleted > 0 {
		slog.Info("expired notifications deleted", "count", deleted)
	}
	return deleted, errors.Join(errs...)
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
