package notification

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeProcessingComplete    Type = "PROCESSING_COMPLETE"
	TypeProcessingFailed      Type = "PROCESSING_FAILED"
	TypeRecommendationReady   Type = "RECOMMENDATION_READY"
	TypeStatementUploaded     Type = "STATEMENT_UPLOADED"
	TypeWorkflowTaskAssigned  Type = "WORKFLOW_TASK_ASSIGNED"
	TypeWorkflowTaskCompleted Type = "WORKFLOW_TASK_COMPLETED"
	TypeSystemAlert           Type = "SYSTEM_ALERT"
	TypeClientUpdated         Type = "CLIENT_UPDATED"
)

func (t Type) Valid() bool {
	switch t {
	case TypeProcessingComplete, TypeProcessingFailed, TypeRecommendationReady, TypeStatementUploaded,
		TypeWorkflowTaskAssigned, TypeWorkflowTaskCompleted, TypeSystemAlert, TypeClientUpdated:
		return true
	}
	return false
}

type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      Type            `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Expired reports whether n is due for deletion at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

const (
	businessRetention = 30 * 24 * time.Hour
	alertRetention    = 7 * 24 * time.Hour
)
