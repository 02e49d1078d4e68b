package server

import (
	"time"

	"goalline/internal/domain"
	"goalline/internal/planner"
)

type CreateGoalRequest struct {
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	ExecutionStyle      string `json:"execution_style,omitempty" enum:"fully_autonomous,approval_required,interactive,collaborative,"`
	CheckpointFrequency string `json:"checkpoint_frequency,omitempty" enum:"after_each_task,after_milestones,hourly,manual,"`
	ParentGoalID        string `json:"parent_goal_id,omitempty"`
}

type SubmitDecisionRequest struct {
	Choice string `json:"choice"`
}

type CreateCheckpointRequest struct {
	Description string `json:"description,omitempty"`
}

type ProgressResponse struct {
	GoalID  string  `json:"goal_id"`
	Percent float64 `json:"percent"`
}

type GoalResponse struct {
	ID                    string                   `json:"id"`
	Title                 string                   `json:"title"`
	Description           string                   `json:"description,omitempty"`
	Status                domain.GoalStatus        `json:"status"`
	ExecutionStyle        domain.ExecutionStyle    `json:"execution_style"`
	CheckpointFrequency   domain.CheckpointFrequency `json:"checkpoint_frequency"`
	CurrentMilestoneIndex int                      `json:"current_milestone_index"`
	Roadmap               *domain.ProjectRoadmap   `json:"roadmap,omitempty"`
	Decisions             []domain.UserDecision    `json:"decisions,omitempty"`
	Artifacts             []domain.ProjectArtifact `json:"artifacts,omitempty"`
	RequiresUserInput     bool                     `json:"requires_user_input"`
	UserInputPrompt       string                   `json:"user_input_prompt,omitempty"`
	ParentGoalID          string                   `json:"parent_goal_id,omitempty"`
	ChildGoalIDs          []string                 `json:"child_goal_ids,omitempty"`
	Progress              float64                  `json:"progress"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

type GoalSummary struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Status         domain.GoalStatus     `json:"status"`
	ExecutionStyle domain.ExecutionStyle `json:"execution_style"`
	Milestones     int                   `json:"milestones"`
	Progress       float64               `json:"progress"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func goalResponse(g *domain.ProjectGoal) GoalResponse {
	return GoalResponse{
		ID:                    g.ID,
		Title:                 g.Title,
		Description:           g.Description,
		Status:                g.Status,
		ExecutionStyle:        g.ExecutionStyle,
		CheckpointFrequency:   g.CheckpointFrequency,
		CurrentMilestoneIndex: g.CurrentMilestoneIndex,
		Roadmap:               g.Roadmap,
		Decisions:             g.Decisions,
		Artifacts:             g.Artifacts,
		RequiresUserInput:     g.RequiresUserInput,
		UserInputPrompt:       g.UserInputPrompt,
		ParentGoalID:          g.ParentGoalID,
		ChildGoalIDs:          g.ChildGoalIDs,
		Progress:              planner.Progress(g),
		CreatedAt:             g.CreatedAt,
		UpdatedAt:             g.UpdatedAt,
	}
}

func mapGoalSummaries(goals []domain.ProjectGoal) []GoalSummary {
	out := make([]GoalSummary, 0, len(goals))
	for i := range goals {
		g := &goals[i]
		milestones := 0
		if g.Roadmap != nil {
			milestones = len(g.Roadmap.Milestones)
		}
		out = append(out, GoalSummary{
			ID:             g.ID,
			Title:          g.Title,
			Status:         g.Status,
			ExecutionStyle: g.ExecutionStyle,
			Milestones:     milestones,
			Progress:       planner.Progress(g),
			CreatedAt:      g.CreatedAt,
			UpdatedAt:      g.UpdatedAt,
		})
	}
	return out
}
