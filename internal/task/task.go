package task

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

type Type string

const (
	TypeDataSync                 Type = "DATA_SYNC"
	TypeStatementParse           Type = "STATEMENT_PARSE"
	TypeAnalysis                 Type = "ANALYSIS"
	TypeRecommendationGeneration Type = "RECOMMENDATION_GENERATION"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDataSync, TypeStatementParse, TypeAnalysis, TypeRecommendationGeneration:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

type Step struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Progress  int        `json:"progress"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Failure is the error payload of a FAILED task.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Task struct {
	ID           string `json:"id"`
	ClientID     string `json:"clientId"`
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId,omitempty"`
	Type         Type   `json:"type"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	Steps        []Step `json:"steps"`

	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// EstimatedDuration is advisory, in seconds.
	EstimatedDuration int `json:"estimatedDuration"`

	Results json.RawMessage `json:"results,omitempty"`
	Error   *Failure        `json:"error,omitempty"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Duration is endTime-startTime for finished tasks, or the time spent so far.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartTime == nil {
		return 0
	}
	if t.EndTime != nil {
		return t.EndTime.Sub(*t.StartTime)
	}
	return now.Sub(*t.StartTime)
}

// MarshalJSON adds the derived duration, in seconds with millisecond
// precision.
func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	d := t.Duration(time.Now())
	return json.Marshal(struct {
		plain
		Duration float64 `json:"duration"`
	}{plain(t), math.Round(d.Seconds()*1000) / 1000})
}

// Transition names the change reported to an Observer.
type Transition string

const (
	TransitionCreated    Transition = "created"
	TransitionStarted    Transition = "started"
	TransitionProgressed Transition = "progressed"
	TransitionCompleted  Transition = "completed"
	TransitionFailed     Transition = "failed"
	TransitionCancelled  Transition = "cancelled"
)

// ErrStale is returned by Repository.Update when the stored version moved on
// since the task was read.
var ErrStale = errors.New("task version is stale")

// StepError is returned by a Processor to fail its task with a specific code.
type StepError struct {
	Code string
	Err  error
}

func (e *StepError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// DataSyncSteps is the fixed step list of every DATA_SYNC task.
var DataSyncSteps = []string{"authenticate", "fetch", "process", "update-records"}

var defaultSteps = map[Type][]string{
	TypeDataSync:                 DataSyncSteps,
	TypeStatementParse:           {"validate", "parse", "categorize", "store"},
	TypeAnalysis:                 {"collect", "analyze", "summarize"},
	TypeRecommendationGeneration: {"analyze", "generate", "rank"},
}

func newSteps(names []string) []Step {
	steps := make([]Step, len(names))
	for i, n := range names {
		steps[i] = Step{Name: n, Status: StepPending}
	}
	return steps
}
