package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskRef identifies the processing task a notification is about.
type TaskRef struct {
	ID       string `json:"taskId"`
	Type     string `json:"taskType"`
	ClientID string `json:"clientId"`
}

func (s *Service) expiry(retention time.Duration) *time.Time {
	t := s.now().Add(retention)
	return &t
}

func (s *Service) ProcessingComplete(ctx context.Context, userID string, task TaskRef, results json.RawMessage) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeProcessingComplete,
		Title:   "Processing complete",
		Message: fmt.Sprintf("%s task finished successfully.", humanize(task.Type)),
		Data: struct {
			TaskRef
			Results json.RawMessage `json:"results,omitempty"`
		}{task, results},
		ExpiresAt: s.expiry(businessRetention),
	})
}

func (s *Service) ProcessingFailed(ctx context.Context, userID string, task TaskRef, code, reason string) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeProcessingFailed,
		Title:   "Processing failed",
		Message: fmt.Sprintf("%s task failed: %s", humanize(task.Type), reason),
		Data: struct {
			TaskRef
			ErrorCode string `json:"errorCode"`
			Error     string `json:"error"`
		}{task, code, reason},
		ExpiresAt: s.expiry(businessRetention),
	})
}

func (s *Service) RecommendationReady(ctx context.Context, userID, clientID, taskID string, count int) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeRecommendationReady,
		Title:   "New recommendations available",
		Message: fmt.Sprintf("%d new treasury recommendation(s) are ready for review.", count),
		Data: map[string]any{
			"clientId": clientID,
			"taskId":   taskID,
			"count":    count,
		},
		ExpiresAt: s.expiry(businessRetention),
	})
}

func (s *Service) StatementUploaded(ctx context.Context, userID, clientID, fileName, taskID string) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeStatementUploaded,
		Title:   "Statement uploaded",
		Message: fmt.Sprintf("%s was uploaded and queued for parsing.", fileName),
		Data: map[string]any{
			"clientId": clientID,
			"fileName": fileName,
			"taskId":   taskID,
		},
		ExpiresAt: s.expiry(businessRetention),
	})
}

func (s *Service) WorkflowTaskAssigned(ctx context.Context, userID, workflowID, taskTitle, assignedBy string) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeWorkflowTaskAssigned,
		Title:   "Workflow task assigned",
		Message: fmt.Sprintf("%s assigned you %q.", assignedBy, taskTitle),
		Data: map[string]any{
			"workflowId": workflowID,
			"taskTitle":  taskTitle,
			"assignedBy": assignedBy,
		},
		ExpiresAt: s.expiry(businessRetention),
	})
}

func (s *Service) WorkflowTaskCompleted(ctx context.Context, userID, workflowID, taskTitle, completedBy string) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeWorkflowTaskCompleted,
		Title:   "Workflow task completed",
		Message: fmt.Sprintf("%s completed %q.", completedBy, taskTitle),
		Data: map[string]any{
			"workflowId":  workflowID,
			"taskTitle":   taskTitle,
			"completedBy": completedBy,
		},
		ExpiresAt: s.expiry(businessRetention),
	})
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s *Service) SystemAlert(ctx context.Context, userID, title, message string, severity Severity) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:    userID,
		Type:      TypeSystemAlert,
		Title:     title,
		Message:   message,
		Data:      map[string]any{"severity": severity},
		ExpiresAt: s.expiry(alertRetention),
	})
}

func (s *Service) ClientUpdated(ctx context.Context, userID, clientID, clientName string, changes []string) (*Notification, error) {
	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Type:    TypeClientUpdated,
		Title:   "Client updated",
		Message: fmt.Sprintf("%s was updated: %s.", clientName, strings.Join(changes, ", ")),
		Data: map[string]any{
			"clientId": clientID,
			"changes":  changes,
		},
		ExpiresAt: s.expiry(businessRetention),
	})
}

// humanize turns DATA_SYNC into "Data sync".
func humanize(typ string) string {
	s := strings.ToLower(strings.ReplaceAll(typ, "_", " "))
	if s == "" {
		return "Processing"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
