package task

import (
	"encoding/json"
	"strings"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

type CreateRequest struct {
	ClientID          string   `json:"clientId"`
	Type              Type     `json:"type"`
	Steps             []string `json:"steps,omitempty"`
	EstimatedDuration int      `json:"estimatedDuration,omitempty"`
	// ConnectionID ties a DATA_SYNC task to the bank connection it syncs.
	ConnectionID string `json:"-"`
	// ID is chosen by callers that record it before the task exists.
	ID string `json:"-"`
}

func (r CreateRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.ClientID) == "" {
		return apperror.New(apperror.BadRequest, "clientId is required")
	}
	if !r.Type.Valid() {
		return apperror.Newf(apperror.BadRequest, "unknown task type %q", r.Type)
	}
	if r.Type == TypeDataSync && r.ConnectionID == "" {
		return apperror.New(apperror.BadRequest, "DATA_SYNC tasks are started by syncing a connection")
	}
	for _, s := range r.Steps {
		if strings.TrimSpace(s) == "" {
			return apperror.New(apperror.BadRequest, "step names must not be empty")
		}
	}
	if r.EstimatedDuration < 0 {
		return apperror.New(apperror.BadRequest, "estimatedDuration must not be negative")
	}
	return nil
}

// stepNames returns the steps the task is created with. DATA_SYNC always uses
// its fixed list.
func (r CreateRequest) stepNames() []string {
	if r.Type == TypeDataSync || len(r.Steps) == 0 {
		return defaultSteps[r.Type]
	}
	return r.Steps
}

type GetRequest struct {
	ID string
}

func (r GetRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.ID) == "" {
		return apperror.New(apperror.BadRequest, "invalid task id")
	}
	return nil
}

type ListRequest struct {
	ClientID string
	Status   Status
	Type     Type
}

func (r ListRequest) Validate() *apperror.AppError {
	if r.Status != "" && !r.Status.Valid() {
		return apperror.Newf(apperror.BadRequest, "unknown task status %q", r.Status)
	}
	if r.Type != "" && !r.Type.Valid() {
		return apperror.Newf(apperror.BadRequest, "unknown task type %q", r.Type)
	}
	return nil
}

type AdvanceRequest struct {
	TaskID        string `json:"-"`
	StepIndex     int    `json:"stepIndex"`
	ProgressDelta int    `json:"progressDelta"`
	Detail        string `json:"detail,omitempty"`
}

func (r AdvanceRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.TaskID) == "" {
		return apperror.New(apperror.BadRequest, "invalid task id")
	}
	if r.StepIndex < 0 {
		return apperror.New(apperror.InvalidRequest, "stepIndex must not be negative")
	}
	if r.ProgressDelta < 0 {
		return apperror.New(apperror.InvalidRequest, "progressDelta must not be negative")
	}
	return nil
}

type CompleteRequest struct {
	TaskID  string          `json:"-"`
	Results json.RawMessage `json:"results,omitempty"`
}

func (r CompleteRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.TaskID) == "" {
		return apperror.New(apperror.BadRequest, "invalid task id")
	}
	if len(r.Results) > 0 && !json.Valid(r.Results) {
		return apperror.New(apperror.BadRequest, "results must be valid JSON")
	}
	return nil
}

type FailRequest struct {
	TaskID  string `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r FailRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.TaskID) == "" {
		return apperror.New(apperror.BadRequest, "invalid task id")
	}
	if strings.TrimSpace(r.Message) == "" {
		return apperror.New(apperror.BadRequest, "error message is required")
	}
	return nil
}
