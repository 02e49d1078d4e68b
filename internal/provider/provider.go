package provider

import (
	"context"
	"fmt"
)

// GenerateOptions tune a single code-generation call.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the provider's answer to a prompt.
type GenerateResult struct {
	Code        string
	Explanation string
}

// CodeGenerationProvider is the external LLM collaborator. Implementations
// fail with *Error on network/auth trouble.
type CodeGenerationProvider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error)
}

// Error marks a failed provider call.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("provider: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Complexity hints how aggressively a description should be decomposed.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// PlannedTask is one step of a decomposition. Dependencies reference
// sibling step titles; ids are assigned by the orchestrator.
type PlannedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
}

// TaskPlan is the task-planning collaborator's output.
type TaskPlan struct {
	Summary string        `json:"summary,omitempty"`
	Steps   []PlannedTask `json:"steps"`
}

// TaskPlanner is the external task-planning collaborator.
type TaskPlanner interface {
	Decompose(ctx context.Context, description string, complexity Complexity) (TaskPlan, error)
}

// RunStatus is the terminal or in-flight state of a task run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run can make no further progress.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunResult is the outcome of a finished run.
type RunResult struct {
	Status   RunStatus
	Response string
	Err      string
}

// RunHandle tracks one dispatched run. Wait blocks until the run reaches a
// terminal status or ctx is done; there is no polling.
type RunHandle interface {
	ID() string
	Status() RunStatus
	Wait(ctx context.Context) (RunResult, error)
}

// TaskRunner is the external task-running collaborator.
type TaskRunner interface {
	StartRun(ctx context.Context, prompt string) (RunHandle, error)
}
