package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
	"github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

// Coordinator reacts to the end of a connection's sync task.
type Coordinator interface {
	OnTaskTerminal(ctx context.Context, t *task.Task) error
}

// Pipeline turns task transitions into their side effects, in order: the
// connection is released first, then the notification is persisted and pushed
// to the owner's stream. It runs synchronously inside the transition call.
type Pipeline struct {
	tasks         *task.Service
	coordinator   Coordinator
	notifications *notification.Service
}

func New(tasks *task.Service, coordinator Coordinator, notifications *notification.Service) *Pipeline {
	return &Pipeline{tasks: tasks, coordinator: coordinator, notifications: notifications}
}

// TaskChanged implements task.Observer. Failures are logged; the transition
// itself is already persisted and stays.
func (p *Pipeline) TaskChanged(ctx context.Context, t *task.Task, tr task.Transition) {
	switch tr {
	case task.TransitionCompleted, task.TransitionFailed, task.TransitionCancelled:
	default:
		return
	}
	ctx = context.WithoutCancel(ctx)

	if t.ConnectionID != "" && p.coordinator != nil {
		if err := p.coordinator.OnTaskTerminal(ctx, t); err != nil {
			slog.Error("release connection", "task", t.ID, "connection", t.ConnectionID, "error", err)
		}
	}

	if err := p.notify(ctx, t, tr); err != nil {
		slog.Error("task notification", "task", t.ID, "transition", tr, "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, t *task.Task, tr task.Transition) error {
	ref := notification.TaskRef{ID: t.ID, Type: string(t.Type), ClientID: t.ClientID}

	switch tr {
	case task.TransitionCompleted:
		if _, err := p.notifications.ProcessingComplete(ctx, t.UserID, ref, t.Results); err != nil {
			return err
		}
		if t.Type == task.TypeRecommendationGeneration {
			_, err := p.notifications.RecommendationReady(ctx, t.UserID, t.ClientID, t.ID, recommendationCount(t.Results))
			return err
		}
	case task.TransitionFailed:
		code, reason := "PROCESSING_ERROR", "unknown error"
		if t.Error != nil {
			code, reason = t.Error.Code, t.Error.Message
		}
		_, err := p.notifications.ProcessingFailed(ctx, t.UserID, ref, code, reason)
		return err
	case task.TransitionCancelled:
		_, err := p.notifications.SystemAlert(ctx, t.UserID, "Processing cancelled",
			fmt.Sprintf("%s task %s was cancelled.", strings.ToLower(strings.ReplaceAll(string(t.Type), "_", " ")), t.ID),
			notification.SeverityInfo)
		return err
	}
	return nil
}

// recommendationCount reads {"count": n} or the length of
// {"recommendations": [...]} from task results.
func recommendationCount(results json.RawMessage) int {
	var r struct {
		Count           *int              `json:"count"`
		Recommendations []json.RawMessage `json:"recommendations"`
	}
	if len(results) == 0 || json.Unmarshal(results, &r) != nil {
		return 0
	}
	if r.Count != nil {
		return *r.Count
	}
	return len(r.Recommendations)
}

type StatementRequest struct {
	ClientID string `json:"-"`
	FileName string `json:"fileName"`
}

func (r StatementRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.ClientID) == "" {
		return apperror.New(apperror.BadRequest, "clientId is required")
	}
	if strings.TrimSpace(r.FileName) == "" {
		return apperror.New(apperror.BadRequest, "fileName is required")
	}
	return nil
}

// StatementUploaded queues a STATEMENT_PARSE task for the uploaded file and
// tells the client's owner about it.
func (p *Pipeline) StatementUploaded(ctx context.Context, req StatementRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t, err := p.tasks.Create(ctx, task.CreateRequest{ClientID: req.ClientID, Type: task.TypeStatementParse})
	if err != nil {
		return nil, err
	}
	if _, err := p.notifications.StatementUploaded(context.WithoutCancel(ctx), t.UserID, req.ClientID, req.FileName, t.ID); err != nil {
		slog.Error("statement notification", "task", t.ID, "error", err)
	}
	return t, nil
}
