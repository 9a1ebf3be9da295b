package notification

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type CreateRequest struct {
	UserID    string
	Type      Type
	Title     string
	Message   string
	Data      any
	ExpiresAt *time.Time
}

func (r CreateRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.UserID) == "" {
		return apperror.New(apperror.BadRequest, "userId is required")
	}
	if !r.Type.Valid() {
		return apperror.Newf(apperror.BadRequest, "unknown notification type %q", r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return apperror.New(apperror.BadRequest, "title is required")
	}
	return nil
}

func (r CreateRequest) data() (json.RawMessage, error) {
	switch d := r.Data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(d)
	}
}

type QueryRequest struct {
	UserID  string
	Read    *bool
	Type    Type
	Page    int
	Limit   int
	SortBy  string
	SortDir string
}

// Validate checks r and fills in paging and sort defaults.
func (r *QueryRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.UserID) == "" {
		return apperror.New(apperror.BadRequest, "userId is required")
	}
	if r.Type != "" && !r.Type.Valid() {
		return apperror.Newf(apperror.BadRequest, "unknown notification type %q", r.Type)
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Page < 0 {
		return apperror.New(apperror.BadRequest, "page must be positive")
	}
	if r.Limit == 0 {
		r.Limit = defaultLimit
	}
	if r.Limit < 0 || r.Limit > maxLimit {
		return apperror.Newf(apperror.BadRequest, "limit must be between 1 and %d", maxLimit)
	}
	switch r.SortBy {
	case "":
		r.SortBy = "createdAt"
	case "createdAt", "type", "read", "title":
	default:
		return apperror.Newf(apperror.BadRequest, "cannot sort by %q", r.SortBy)
	}
	switch strings.ToLower(r.SortDir) {
	case "":
		r.SortDir = "desc"
	case "asc", "desc":
		r.SortDir = strings.ToLower(r.SortDir)
	default:
		return apperror.New(apperror.BadRequest, "sortDir must be asc or desc")
	}
	return nil
}

type Page struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	UnreadCount   int64          `json:"unreadCount"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	TotalPages    int            `json:"totalPages"`
}
