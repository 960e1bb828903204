package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrAlreadyRunning = errors.New("pipeline is already running")

// InterruptedMessage is written to runs swept by startup recovery.
const InterruptedMessage = "Pipeline interrupted by server restart"

type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerStartup   TriggerType = "startup"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one named unit of work within a run. Transition methods return a new
// value and never modify the receiver.
type Step struct {
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	Status      StepStatus  `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	DurationMs  int64       `json:"durationMs"`
	Message     string      `json:"message,omitempty"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`
	RetryErrors []string    `json:"retryErrors"`
	RetriedAt   []time.Time `json:"retriedAt"`
}

// NewStep returns a pending step.
func NewStep(name, label string) Step {
	return Step{
		Name:        name,
		Label:       label,
		Status:      StepPending,
		RetryErrors: []string{},
		RetriedAt:   []time.Time{},
	}
}

func (s Step) Begin(now time.Time) Step {
	next := s.clone()
	next.Status = StepRunning
	next.StartedAt = &now
	return next
}

// Retry records a failed attempt that will be tried again.
func (s Step) Retry(err error, now time.Time) Step {
	next := s.clone()
	next.RetryCount++
	next.RetryErrors = append(next.RetryErrors, err.Error())
	next.RetriedAt = append(next.RetriedAt, now)
	return next
}

func (s Step) Complete(message string, now time.Time) Step {
	next := s.clone()
	next.Status = StepCompleted
	next.CompletedAt = &now
	next.DurationMs = next.elapsed(now)
	if next.RetryCount > 0 {
		message = fmt.Sprintf("%s (succeeded after %d retries)", message, next.RetryCount)
	}
	next.Message = message
	return next
}

func (s Step) Fail(errMsg string, now time.Time) Step {
	next := s.clone()
	next.Status = StepFailed
	next.CompletedAt = &now
	next.DurationMs = next.elapsed(now)
	next.Error = errMsg
	return next
}

func (s Step) elapsed(now time.Time) int64 {
	if s.StartedAt == nil {
		return 0
	}
	return now.Sub(*s.StartedAt).Milliseconds()
}

func (s Step) clone() Step {
	next := s
	next.RetryErrors = append([]string(nil), s.RetryErrors...)
	next.RetriedAt = append([]time.Time(nil), s.RetriedAt...)
	if next.RetryErrors == nil {
		next.RetryErrors = []string{}
	}
	if next.RetriedAt == nil {
		next.RetriedAt = []time.Time{}
	}
	return next
}

// CloneSteps deep-copies a step list.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out
}

// PipelineRun is one orchestration attempt.
type PipelineRun struct {
	ID              string                 `json:"id"`
	TriggerType     TriggerType            `json:"triggerType"`
	TriggeredBy     string                 `json:"triggeredBy"`
	Status          RunStatus              `json:"status"`
	CurrentStepName string                 `json:"currentStepName"`
	TotalSteps      int                    `json:"totalSteps"`
	CompletedSteps  int                    `json:"completedSteps"`
	Steps           []Step                 `json:"steps"`
	StartedAt       time.Time              `json:"startedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	DurationMs      int64                  `json:"durationMs"`
	Summary         map[string]interface{} `json:"summary,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
}

// PipelineRunUpdate carries the fields to change on a run record. Nil fields are left as-is.
type PipelineRunUpdate struct {
	Status          *RunStatus
	CurrentStepName *string
	CompletedSteps  *int
	Steps           []Step
	CompletedAt     *time.Time
	DurationMs      *int64
	Summary         map[string]interface{}
	ErrorMessage    *string
}

// StatusSnapshot is the read-only view of the in-flight run.
type StatusSnapshot struct {
	IsRunning       bool        `json:"isRunning"`
	RunID           string      `json:"runId,omitempty"`
	TriggerType     TriggerType `json:"triggerType,omitempty"`
	CurrentStepName string      `json:"currentStepName"`
	ProgressPercent int         `json:"progressPercent"`
	Steps           []Step      `json:"steps"`
}

// IdleStatus is returned when no run is active.
func IdleStatus() StatusSnapshot {
	return StatusSnapshot{Steps: []Step{}}
}
