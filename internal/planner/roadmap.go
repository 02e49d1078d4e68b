package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goalline/internal/domain"
	"goalline/internal/provider"
)

// generateRoadmap asks the provider for a milestone breakdown and installs
// it on the goal. Provider and parse failures mark the goal failed. A
// cyclic roadmap or a non-autonomous style opens a blocking decision
// instead of starting execution.
func (p *Planner) generateRoadmap(ctx context.Context, g *domain.ProjectGoal) error {
	result, err := p.gen.Generate(ctx, roadmapPrompt(g), p.genOpts())
	if err != nil {
		return p.failGoal(ctx, g, "", fmt.Errorf("roadmap generation failed: %w", err))
	}
	roadmap, dropped, perr := parseRoadmap(result.Code, p.newID)
	if perr != nil {
		return p.failGoal(ctx, g, "", perr)
	}
	g.Roadmap = roadmap
	g.CurrentMilestoneIndex = 0

	desc := fmt.Sprintf("roadmap generated: %d milestones", len(roadmap.Milestones))
	if dropped > 0 {
		desc += fmt.Sprintf(" (%d unknown dependency references dropped)", dropped)
	}
	generated := domain.TimelineEvent{Type: domain.EventRoadmapGenerated, Description: desc}

	if cycle := FindCycle(roadmap); cycle != nil {
		depErr := &DependencyError{MilestoneID: cycle[0], Cycle: cycle}
		d := p.openDecision(g, domain.DecisionDependencyConflict,
			"Generated roadmap contains a dependency cycle. How should it be resolved?",
			[]string{ChoiceDropCycles, ChoiceCancelExecution},
			cycle[0], "", true, depErr.Error())
		return p.persist(ctx, g, generated, decisionOpenedEvent(d))
	}

	if g.ExecutionStyle == domain.StyleFullyAutonomous {
		g.Status = domain.GoalExecuting
		if err := p.persist(ctx, g, generated); err != nil {
			return err
		}
		return p.runGoal(ctx, g)
	}

	d := p.openDecision(g, domain.DecisionRoadmapApproval,
		"Approve the generated roadmap?",
		[]string{ChoiceApprove, ChoiceApproveWithEdits, ChoiceRegenerate},
		"", "", true, roadmapSummary(roadmap))
	return p.persist(ctx, g, generated, decisionOpenedEvent(d))
}

func (p *Planner) genOpts() provider.GenerateOptions {
	return provider.GenerateOptions{
		Model:       p.cfg.Provider.Model,
		Temperature: p.cfg.Provider.Temperature,
		MaxTokens:   p.cfg.Provider.MaxTokens,
	}
}

type roadmapPayload struct {
	Milestones []struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		EstimatedHours float64  `json:"estimated_hours"`
		Priority       int      `json:"priority"`
		DependsOn      []string `json:"depends_on"`
	} `json:"milestones"`
}

// parseRoadmap extracts the JSON payload from the provider response and
// materializes milestones with fresh ids. Dependencies arrive as titles;
// titles that match no milestone are dropped and counted.
func parseRoadmap(text string, newID func() string) (*domain.ProjectRoadmap, int, *ParseError) {
	raw := provider.ExtractJSON(text)
	if raw == "" {
		return nil, 0, &ParseError{Stage: "roadmap", Msg: "no JSON object in provider response"}
	}
	var payload roadmapPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, 0, &ParseError{Stage: "roadmap", Msg: err.Error()}
	}
	if len(payload.Milestones) == 0 {
		return nil, 0, &ParseError{Stage: "roadmap", Msg: "response contains no milestones"}
	}

	roadmap := &domain.ProjectRoadmap{}
	idByTitle := make(map[string]string, len(payload.Milestones))
	for _, pm := range payload.Milestones {
		m := domain.Milestone{
			ID:             newID(),
			Title:          pm.Title,
			Description:    pm.Description,
			Status:         domain.MilestonePending,
			EstimatedHours: pm.EstimatedHours,
			Priority:       pm.Priority,
		}
		idByTitle[normalizeTitle(pm.Title)] = m.ID
		roadmap.Milestones = append(roadmap.Milestones, m)
	}

	dropped := 0
	for i := range roadmap.Milestones {
		m := &roadmap.Milestones[i]
		for _, depTitle := range payload.Milestones[i].DependsOn {
			id, ok := idByTitle[normalizeTitle(depTitle)]
			if !ok || id == m.ID {
				dropped++
				continue
			}
			m.DependsOn = append(m.DependsOn, id)
			roadmap.Dependencies = append(roadmap.Dependencies, domain.DependencyEdge{
				MilestoneID: m.ID,
				DependsOn:   id,
			})
		}
	}
	return roadmap, dropped, nil
}

// dropCycles removes every edge along detected cycles until the graph is
// acyclic.
func dropCycles(roadmap *domain.ProjectRoadmap) int {
	removed := 0
	for {
		cycle := FindCycle(roadmap)
		if cycle == nil {
			return removed
		}
		for i, id := range cycle {
			dep := cycle[(i+1)%len(cycle)]
			removeDependency(roadmap, id, dep)
			removed++
		}
	}
}

func removeDependency(roadmap *domain.ProjectRoadmap, milestoneID, dep string) {
	if m := milestoneIn(roadmap, milestoneID); m != nil {
		out := m.DependsOn[:0]
		for _, d := range m.DependsOn {
			if d != dep {
				out = append(out, d)
			}
		}
		m.DependsOn = out
	}
	edges := roadmap.Dependencies[:0]
	for _, e := range roadmap.Dependencies {
		if !(e.MilestoneID == milestoneID && e.DependsOn == dep) {
			edges = append(edges, e)
		}
	}
	roadmap.Dependencies = edges
}

func milestoneIn(roadmap *domain.ProjectRoadmap, id string) *domain.Milestone {
	for i := range roadmap.Milestones {
		if roadmap.Milestones[i].ID == id {
			return &roadmap.Milestones[i]
		}
	}
	return nil
}

func roadmapSummary(roadmap *domain.ProjectRoadmap) string {
	titles := make([]string, 0, len(roadmap.Milestones))
	for i := range roadmap.Milestones {
		titles = append(titles, roadmap.Milestones[i].Title)
	}
	return strings.Join(titles, "; ")
}

func roadmapPrompt(g *domain.ProjectGoal) string {
	var b strings.Builder
	b.WriteString("Break the following project goal into an ordered list of milestones.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", g.Title)
	if g.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", g.Description)
	}
	b.WriteString(`
Respond with a single JSON object, no prose:
{
  "milestones": [
    {
      "title": "short imperative title",
      "description": "what this milestone delivers",
      "estimated_hours": 4,
      "priority": 1,
      "depends_on": ["titles of earlier milestones this one needs"]
    }
  ]
}
Use 3 to 7 milestones. depends_on entries must exactly match another milestone's title.`)
	return b.String()
}
