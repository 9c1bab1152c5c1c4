// Package models defines the core domain types for cortex.
package models

import (
	"encoding/json"
	"time"
)

// StepType identifies the kind of reasoning step recorded in a ledger.
type StepType string

const (
	StepSystem   StepType = "system"
	StepTask     StepType = "task"
	StepPlanning StepType = "planning"
	StepAction   StepType = "action"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepSystem, StepTask, StepPlanning, StepAction:
		return true
	}
	return false
}

// Step is one entry in a reasoning ledger.
// Exactly one of the detail pointers matching Type may be set.
type Step struct {
	ID        string            `json:"id"`
	Type      StepType          `json:"type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      []string          `json:"tags,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`

	Action   *ActionDetail   `json:"action,omitempty"`
	Planning *PlanningDetail `json:"planning,omitempty"`
	System   *SystemDetail   `json:"system,omitempty"`
	Task     *TaskDetail     `json:"task,omitempty"`
}

// ToolCall describes the external effect an action step performed.
type ToolCall struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionDetail carries the outcome of an executed action.
type ActionDetail struct {
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	Error        string        `json:"error,omitempty"`
	Observations string        `json:"observations,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// PlanningDetail carries the plan produced for a query.
type PlanningDetail struct {
	Plan  string `json:"plan"`
	Facts string `json:"facts,omitempty"`
}

// SystemDetail carries the system prompt in effect.
type SystemDetail struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// TaskDetail carries the user task a session was started for.
type TaskDetail struct {
	Task string `json:"task"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	c := s
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.Meta != nil {
		c.Meta = make(map[string]string, len(s.Meta))
		for k, v := range s.Meta {
			c.Meta[k] = v
		}
	}
	if s.Action != nil {
		a := *s.Action
		if s.Action.ToolCall != nil {
			tc := *s.Action.ToolCall
			tc.Payload = append(json.RawMessage(nil), s.Action.ToolCall.Payload...)
			a.ToolCall = &tc
		}
		c.Action = &a
	}
	if s.Planning != nil {
		p := *s.Planning
		c.Planning = &p
	}
	if s.System != nil {
		sys := *s.System
		c.System = &sys
	}
	if s.Task != nil {
		t := *s.Task
		c.Task = &t
	}
	return c
}

// Horizon is a goal's planning scope.
type Horizon string

const (
	HorizonLong   Horizon = "long"
	HorizonMedium Horizon = "medium"
	HorizonShort  Horizon = "short"
)

// Valid reports whether h is a known horizon.
func (h Horizon) Valid() bool {
	return h == HorizonLong || h == HorizonMedium || h == HorizonShort
}

// GoalStatus represents the stored state of a goal.
// Ready and Blocked are derived views and are never stored.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalReady     GoalStatus = "ready"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalBlocked   GoalStatus = "blocked"
)

// Goal is a unit of intent tracked by the goal manager.
type Goal struct {
	ID              string     `json:"id"`
	Horizon         Horizon    `json:"horizon"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"`
	Status          GoalStatus `json:"status"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	Subgoals        []string   `json:"subgoals,omitempty"`
	ParentGoal      string     `json:"parent_goal,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the goal.
func (g Goal) Clone() Goal {
	c := g
	c.Dependencies = append([]string(nil), g.Dependencies...)
	c.Subgoals = append([]string(nil), g.Subgoals...)
	c.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// TaskStatus represents the current state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
)

// ScheduledTask is a durable unit of deferred or recurring work.
// Interval of zero marks a one-shot task.
type ScheduledTask struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	HandlerName string        `json:"handler_name"`
	TaskData    string        `json:"task_data"`
	NextRunAt   time.Time     `json:"next_run_at"`
	Interval    time.Duration `json:"interval,omitempty"`
	Status      TaskStatus    `json:"status"`
	RunCount    int           `json:"run_count"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Recurring reports whether the task is re-enqueued after each run.
func (t ScheduledTask) Recurring() bool {
	return t.Interval > 0
}

// ContextLogEntry is one mirrored ledger mutation kept for offline audit.
type ContextLogEntry struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Op         string    `json:"op"`
	StepID     string    `json:"step_id"`
	StepType   StepType  `json:"step_type"`
	InputsHash string    `json:"inputs_hash"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// MemoryRecord is a stored semantic memory with its embedding.
type MemoryRecord struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Meta      map[string]string `json:"meta,omitempty"`
	Embedding []float32         `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}
