package domain

import "time"

// GoalStatus is the lifecycle state of a ProjectGoal.
type GoalStatus string

const (
	GoalPlanning  GoalStatus = "planning"
	GoalExecuting GoalStatus = "executing"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// ExecutionStyle controls how much human approval execution requires.
type ExecutionStyle string

const (
	StyleFullyAutonomous  ExecutionStyle = "fully_autonomous"
	StyleApprovalRequired ExecutionStyle = "approval_required"
	StyleInteractive      ExecutionStyle = "interactive"
	StyleCollaborative    ExecutionStyle = "collaborative"
)

// CheckpointFrequency controls when automatic checkpoints are taken.
type CheckpointFrequency string

const (
	CheckpointAfterEachTask  CheckpointFrequency = "after_each_task"
	CheckpointAfterMilestone CheckpointFrequency = "after_milestones"
	CheckpointHourly         CheckpointFrequency = "hourly"
	CheckpointManual         CheckpointFrequency = "manual"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestonePaused     MilestoneStatus = "paused"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// DecisionKind tags a UserDecision with the continuation that handles it.
type DecisionKind string

const (
	DecisionRoadmapApproval    DecisionKind = "roadmap_approval"
	DecisionDependencyConflict DecisionKind = "dependency_conflict"
	DecisionMilestoneAdvance   DecisionKind = "milestone_advance"
	DecisionTaskExhaustion     DecisionKind = "task_exhaustion"
)

// EventType categorizes timeline events.
type EventType string

const (
	EventGoalCreated        EventType = "goal_created"
	EventRoadmapGenerated   EventType = "roadmap_generated"
	EventMilestoneStarted   EventType = "milestone_started"
	EventMilestoneCompleted EventType = "milestone_completed"
	EventTaskStarted        EventType = "task_started"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventUserDecision       EventType = "user_decision"
	EventCheckpointCreated  EventType = "checkpoint_created"
	EventCheckpointRestored EventType = "checkpoint_restored"
	EventGoalCompleted      EventType = "goal_completed"
	EventError              EventType = "error"
)

// ProjectGoal is the aggregate root the orchestrator drives. All mutation
// goes through the planner; callers only read.
type ProjectGoal struct {
	ID                    string              `json:"id"`
	Title                 string              `json:"title"`
	Description           string              `json:"description,omitempty"`
	Status                GoalStatus          `json:"status" enum:"planning,executing,paused,completed,failed"`
	ExecutionStyle        ExecutionStyle      `json:"execution_style" enum:"fully_autonomous,approval_required,interactive,collaborative"`
	CheckpointFrequency   CheckpointFrequency `json:"checkpoint_frequency" enum:"after_each_task,after_milestones,hourly,manual"`
	Roadmap               *ProjectRoadmap     `json:"roadmap,omitempty"`
	CurrentMilestoneIndex int                 `json:"current_milestone_index"`
	Decisions             []UserDecision      `json:"decisions,omitempty"`
	Artifacts             []ProjectArtifact   `json:"artifacts,omitempty"`
	RequiresUserInput     bool                `json:"requires_user_input"`
	UserInputPrompt       string              `json:"user_input_prompt,omitempty"`
	ParentGoalID          string              `json:"parent_goal_id,omitempty"`
	ChildGoalIDs          []string            `json:"child_goal_ids,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`

	// Timeline is loaded from the append-only event table, never stored in
	// the goal snapshot.
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

// ProjectRoadmap is the milestone graph owned by exactly one goal.
type ProjectRoadmap struct {
	Milestones   []Milestone      `json:"milestones"`
	Dependencies []DependencyEdge `json:"dependencies,omitempty"`
}

// DependencyEdge records that MilestoneID may not start before DependsOn
// completes. Both ids must reference milestones in the same roadmap.
type DependencyEdge struct {
	MilestoneID string `json:"milestone_id"`
	DependsOn   string `json:"depends_on"`
}

type Milestone struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         MilestoneStatus `json:"status" enum:"pending,in_progress,paused,completed,failed"`
	EstimatedHours float64         `json:"estimated_hours,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	DependsOn      []string        `json:"depends_on,omitempty"`
	Plans          []TaskPlan      `json:"plans,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// TaskPlan is one decomposition of a milestone into tasks. Plans are
// produced lazily when the milestone enters in_progress.
type TaskPlan struct {
	ID      string `json:"id"`
	Summary string `json:"summary,omitempty"`
	Tasks   []Task `json:"tasks"`
}

// Task is the smallest executable unit, delegated to the task runner.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status" enum:"pending,in_progress,completed,failed,skipped"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Optional    bool       `json:"optional,omitempty"`
	Response    string     `json:"response,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// UserDecision is a human-approval gate. Decision is immutable once set.
type UserDecision struct {
	ID          string       `json:"id"`
	Kind        DecisionKind `json:"kind" enum:"roadmap_approval,dependency_conflict,milestone_advance,task_exhaustion"`
	Question    string       `json:"question"`
	Options     []string     `json:"options"`
	Decision    string       `json:"decision,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Blocking    bool         `json:"blocking"`
	Context     string       `json:"context,omitempty"`
	MilestoneID string       `json:"milestone_id,omitempty"`
	TaskID      string       `json:"task_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Resolved reports whether the decision has been answered.
func (d UserDecision) Resolved() bool { return d.DecidedAt != nil }

// Checkpoint is an immutable snapshot of goal/milestone/task progress,
// sufficient to resume and deliberately excluding large payloads.
type Checkpoint struct {
	ID          string           `json:"id"`
	GoalID      string           `json:"goal_id"`
	Description string           `json:"description,omitempty"`
	MilestoneID string           `json:"milestone_id,omitempty"`
	Automatic   bool             `json:"automatic"`
	Snapshot    ProgressSnapshot `json:"snapshot"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ProgressSnapshot is the serialized body of a checkpoint.
type ProgressSnapshot struct {
	GoalID                string              `json:"goal_id"`
	GoalTitle             string              `json:"goal_title"`
	GoalStatus            GoalStatus          `json:"goal_status"`
	CurrentMilestoneIndex int                 `json:"current_milestone_index"`
	Milestones            []MilestoneSnapshot `json:"milestones"`
}

type MilestoneSnapshot struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Status MilestoneStatus `json:"status"`
	Tasks  []TaskSnapshot  `json:"tasks,omitempty"`
}

type TaskSnapshot struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
}

// TimelineEvent is an append-only audit record. Once written it is never
// mutated or reordered.
type TimelineEvent struct {
	ID          int64     `json:"id"`
	GoalID      string    `json:"goal_id"`
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	RelatedID   string    `json:"related_id,omitempty"`
	At          time.Time `json:"at"`
}

// ProjectArtifact is a write-once named output attributed to the milestone
// that produced it.
type ProjectArtifact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind,omitempty"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Content     string    `json:"content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingBlockingDecisions returns unanswered blocking decisions. The goal
// invariant is status == paused iff this list is non-empty.
func (g *ProjectGoal) PendingBlockingDecisions() []UserDecision {
	var out []UserDecision
	for _, d := range g.Decisions {
		if d.Blocking && !d.Resolved() {
			out = append(out, d)
		}
	}
	return out
}

// FindDecision returns a pointer into the goal's decision list, or nil.
func (g *ProjectGoal) FindDecision(id string) *UserDecision {
	for i := range g.Decisions {
		if g.Decisions[i].ID == id {
			return &g.Decisions[i]
		}
	}
	return nil
}

// MilestoneByID returns a pointer into the roadmap, or nil.
func (g *ProjectGoal) MilestoneByID(id string) *Milestone {
	if g.Roadmap == nil {
		return nil
	}
	for i := range g.Roadmap.Milestones {
		if g.Roadmap.Milestones[i].ID == id {
			return &g.Roadmap.Milestones[i]
		}
	}
	return nil
}

// AllTasks returns pointers to every task across all plans of the
// milestone, in plan order.
func (m *Milestone) AllTasks() []*Task {
	var out []*Task
	for i := range m.Plans {
		for j := range m.Plans[i].Tasks {
			out = append(out, &m.Plans[i].Tasks[j])
		}
	}
	return out
}

// TaskByID returns a pointer into the milestone's plans, or nil.
func (m *Milestone) TaskByID(id string) *Task {
	for _, t := range m.AllTasks() {
		if t.ID == id {
			return t
		}
	}
	return nil
}
