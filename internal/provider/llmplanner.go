package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLMTaskPlanner decomposes milestone descriptions by prompting the
// code-generation provider for a structured step list.
type LLMTaskPlanner struct {
	Gen  CodeGenerationProvider
	Opts GenerateOptions
}

func NewLLMTaskPlanner(gen CodeGenerationProvider, opts GenerateOptions) *LLMTaskPlanner {
	return &LLMTaskPlanner{Gen: gen, Opts: opts}
}

func (p *LLMTaskPlanner) Decompose(ctx context.Context, description string, complexity Complexity) (TaskPlan, error) {
	if complexity == "" {
		complexity = ComplexityModerate
	}
	result, err := p.Gen.Generate(ctx, decompositionPrompt(description, complexity), p.Opts)
	if err != nil {
		return TaskPlan{}, err
	}
	plan, ok := parseTaskPlan(result.Code)
	if !ok {
		// Malformed plan JSON degrades to a single-task plan; the
		// orchestrator never sees a parse failure from decomposition.
		return TaskPlan{
			Summary: "direct execution",
			Steps:   []PlannedTask{{Title: firstLine(description), Description: description}},
		}, nil
	}
	return plan, nil
}

func parseTaskPlan(text string) (TaskPlan, bool) {
	raw := ExtractJSON(text)
	if raw == "" {
		return TaskPlan{}, false
	}
	var plan TaskPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return TaskPlan{}, false
	}
	if len(plan.Steps) == 0 {
		return TaskPlan{}, false
	}
	for _, s := range plan.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return TaskPlan{}, false
		}
	}
	return plan, true
}

func decompositionPrompt(description string, complexity Complexity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decompose the following engineering milestone into executable tasks.\n\n")
	fmt.Fprintf(&b, "Milestone:\n%s\n\n", description)
	fmt.Fprintf(&b, "Decomposition complexity: %s.\n", complexity)
	b.WriteString(`Respond with a single JSON object:
{
  "summary": "one line",
  "steps": [
    {"title": "...", "description": "...", "depends_on": ["titles of earlier steps"], "optional": false}
  ]
}
Dependencies must reference step titles from this response only.`)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "Execute milestone"
	}
	return s
}
