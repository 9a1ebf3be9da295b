package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

const maxUpdateAttempts = 5

// Service is the task engine. It owns the task state machine; every persisted
// transition is reported to the observer before the call returns.
type Service struct {
	repo     Repository
	clients  ClientDirectory
	observer Observer
	notify   func() // optional: wake worker pool
	now      func() time.Time
}

func NewService(repo Repository, clients ClientDirectory) *Service {
	return &Service{
		repo:    repo,
		clients: clients,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver sets the receiver of task transitions.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// SetNotify sets a callback invoked when a new queued task is created.
func (s *Service) SetNotify(fn func()) { s.notify = fn }

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, err := s.clients.Owner(ctx, req.ClientID)
	if err != nil {
		if apperror.Is(err, apperror.NotFound) {
			return nil, apperror.Newf(apperror.InvalidRequest, "client %s does not exist", req.ClientID)
		}
		return nil, fmt.Errorf("resolve client: %w", err)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	t := &Task{
		ID:                id,
		ClientID:          req.ClientID,
		UserID:            owner,
		ConnectionID:      req.ConnectionID,
		Type:              req.Type,
		Status:            StatusQueued,
		Steps:             newSteps(req.stepNames()),
		EstimatedDuration: req.EstimatedDuration,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	slog.Info("task created", "task", t.ID, "type", t.Type, "client", t.ClientID)
	s.emit(ctx, t, TransitionCreated)
	if s.notify != nil {
		s.notify()
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, req GetRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ListFilter{ClientID: req.ClientID, Status: req.Status, Type: req.Type, Limit: 100})
}

// Start moves a PENDING or QUEUED task to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, id string) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task, now time.Time) (Transition, error) {
		if t.Status != StatusPending && t.Status != StatusQueued {
			return "", apperror.Newf(apperror.InvalidState, "cannot start task in status %s", t.Status)
		}
		start(t, now)
		return TransitionStarted, nil
	})
}

// Claim hands the oldest queued task of one of types to a worker.
func (s *Service) Claim(ctx context.Context, types []Type) (*Task, error) {
	t, err := s.repo.ClaimQueued(ctx, types)
	if err != nil || t == nil {
		return nil, err
	}
	s.emit(ctx, t, TransitionStarted)
	return t, nil
}

// Advance adds progress to one step and recomputes the overall progress as the
// arithmetic mean of step progress. A task that was not started yet is
// started implicitly.
func (s *Service) Advance(ctx context.Context, req AdvanceRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, req.TaskID, func(t *Task, now time.Time) (Transition, error) {
		if t.Status.Terminal() {
			return "", apperror.Newf(apperror.InvalidState, "task is already %s", t.Status)
		}
		if req.StepIndex >= len(t.Steps) {
			return "", apperror.Newf(apperror.InvalidRequest, "step %d out of range (task has %d steps)", req.StepIndex, len(t.Steps))
		}
		if t.Status != StatusInProgress {
			start(t, now)
		}

		step := &t.Steps[req.StepIndex]
		step.Progress = min(step.Progress+req.ProgressDelta, 100)
		if step.Progress == 100 {
			step.Status = StepCompleted
		} else {
			step.Status = StepInProgress
		}
		if req.Detail != "" {
			step.Detail = req.Detail
		}
		step.UpdatedAt = &now

		t.Progress = max(t.Progress, overallProgress(t.Steps))
		return TransitionProgressed, nil
	})
}

func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, req.TaskID, func(t *Task, now time.Time) (Transition, error) {
		if t.Status != StatusInProgress {
			return "", apperror.Newf(apperror.InvalidState, "cannot complete task in status %s", t.Status)
		}
		for i := range t.Steps {
			if t.Steps[i].Status != StepCompleted {
				t.Steps[i].Status = StepCompleted
				t.Steps[i].Progress = 100
				t.Steps[i].UpdatedAt = &now
			}
		}
		t.Progress = 100
		t.Status = StatusCompleted
		t.Results = req.Results
		t.Error = nil
		t.EndTime = &now
		return TransitionCompleted, nil
	})
}

func (s *Service) Fail(ctx context.Context, req FailRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	code := req.Code
	if code == "" {
		code = "PROCESSING_ERROR"
	}
	return s.mutate(ctx, req.TaskID, func(t *Task, now time.Time) (Transition, error) {
		if t.Status.Terminal() {
			return "", apperror.Newf(apperror.InvalidState, "task is already %s", t.Status)
		}
		for i := range t.Steps {
			if t.Steps[i].Status == StepInProgress {
				t.Steps[i].Status = StepFailed
				t.Steps[i].UpdatedAt = &now
			}
		}
		t.Status = StatusFailed
		t.Error = &Failure{Code: code, Message: req.Message}
		t.Results = nil
		t.EndTime = &now
		return TransitionFailed, nil
	})
}

func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, apperror.New(apperror.BadRequest, "invalid task id")
	}
	return s.mutate(ctx, id, func(t *Task, now time.Time) (Transition, error) {
		if t.Status.Terminal() {
			return "", apperror.Newf(apperror.InvalidState, "task is already %s", t.Status)
		}
		for i := range t.Steps {
			if t.Steps[i].Status == StepPending || t.Steps[i].Status == StepInProgress {
				t.Steps[i].Status = StepSkipped
				t.Steps[i].UpdatedAt = &now
			}
		}
		t.Status = StatusCancelled
		t.EndTime = &now
		return TransitionCancelled, nil
	})
}

// RecoverStale re-queues tasks of the given types left IN_PROGRESS by a
// previous process.
func (s *Service) RecoverStale(ctx context.Context, types []Type) error {
	n, err := s.repo.RecoverStale(ctx, types)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("re-queued interrupted tasks", "count", n)
	}
	return nil
}

// mutate reads the task, applies fn and writes it back, retrying when a
// concurrent writer got there first.
func (s *Service) mutate(ctx context.Context, id string, fn func(t *Task, now time.Time) (Transition, error)) (*Task, error) {
	for range maxUpdateAttempts {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.now()
		tr, err := fn(t, now)
		if err != nil {
			return nil, err
		}
		t.UpdatedAt = now

		if err := s.repo.Update(ctx, t); err != nil {
			if errors.Is(err, ErrStale) {
				continue
			}
			return nil, fmt.Errorf("update task: %w", err)
		}

		if tr != TransitionProgressed {
			slog.Info("task transition", "task", t.ID, "transition", tr, "status", t.Status)
		}
		s.emit(ctx, t, tr)
		return t, nil
	}
	return nil, apperror.Newf(apperror.Conflict, "task %s is being modified concurrently", id)
}

func (s *Service) emit(ctx context.Context, t *Task, tr Transition) {
	if s.observer == nil {
		return
	}
	cp := *t
	s.observer.TaskChanged(ctx, &cp, tr)
}

func start(t *Task, now time.Time) {
	t.Status = StatusInProgress
	t.StartTime = &now
}

func overallProgress(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	sum := 0
	for _, st := range steps {
		sum += st.Progress
	}
	return sum / len(steps)
}
