package planner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGoalNotFound       = errors.New("goal not found")
	ErrDecisionNotFound   = errors.New("decision not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrDecisionResolved guards decision immutability: a second submit
	// with a differing choice fails instead of overwriting.
	ErrDecisionResolved = errors.New("decision already resolved")
	ErrInvalidChoice    = errors.New("choice is not one of the decision's options")
)

// ParseError marks a malformed roadmap or plan response.
type ParseError struct {
	Stage string
	Msg   string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %s", e.Stage, e.Msg) }

// DependencyError marks a cyclic or unsatisfiable dependency set. It is
// surfaced to operators as a blocking decision, never a hard failure.
type DependencyError struct {
	MilestoneID string
	Unsatisfied []string
	Cycle       []string
}

func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("milestone %s has unsatisfied dependencies: %s", e.MilestoneID, strings.Join(e.Unsatisfied, ", "))
}

// ExecutionError marks a failed or cancelled task run.
type ExecutionError struct {
	TaskID string
	Status string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s run %s: %v", e.TaskID, e.Status, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PersistenceError marks a store write/read failure. The in-memory goal
// state is not rolled back; durability is best-effort and the caller is
// told so explicitly.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
