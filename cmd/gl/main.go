package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/migrate"
	"goalline/internal/observability"
	"goalline/internal/planner"
	"goalline/internal/provider"
	"goalline/internal/repo"
	"goalline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Goalline CLI",
	Long: `Goalline runs long-lived project goals autonomously.
A goal gets a generated roadmap of milestones; milestones decompose into
tasks that run through a code-generation provider. Blocking questions
(roadmap approval, dependency conflicts, exhausted milestones) pause the
goal until you answer with 'gl decision submit'. Checkpoints capture
progress so a goal can be rolled back with 'gl checkpoint restore'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOALLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default goalline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{Use: "goal", Short: "Manage goals"}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalProgressCmd())
	goal.AddCommand(goalDeleteCmd())
	goal.AddCommand(goalUseCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var title, description, style, freq, parent string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal and generate its roadmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := p.CreateGoal(ctx, planner.CreateGoalOptions{
					Title:               title,
					Description:         description,
					ExecutionStyle:      domain.ExecutionStyle(style),
					CheckpointFrequency: domain.CheckpointFrequency(freq),
					ParentGoalID:        parent,
				})
				if err != nil {
					return err
				}
				if err := p.SetActiveGoal(ctx, g.ID); err != nil {
					return err
				}
				printGoalStatus(g)
				return printJSONIfRequested(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&description, "description", "", "goal description")
	cmd.Flags().StringVar(&style, "style", "", "execution style (fully_autonomous, approval_required, interactive, collaborative)")
	cmd.Flags().StringVar(&freq, "checkpoints", "", "checkpoint frequency (after_each_task, after_milestones, hourly, manual)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				goals, err := p.ListGoals(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Style", "Progress", "Updated"})
				for i := range goals {
					g := &goals[i]
					tw.AppendRow(table.Row{
						shortID(g.ID), g.Title, g.Status, g.ExecutionStyle,
						fmt.Sprintf("%.0f%%", planner.Progress(g)),
						g.UpdatedAt.Format(time.RFC3339),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [goal-id]",
		Short: "Show a goal with its roadmap and decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, args)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				printGoalStatus(g)
				if g.Roadmap != nil {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"#", "Milestone", "Status", "Deps", "Tasks"})
					for i := range g.Roadmap.Milestones {
						m := &g.Roadmap.Milestones[i]
						tw.AppendRow(table.Row{i, m.Title, m.Status, len(m.DependsOn), len(m.AllTasks())})
					}
					tw.Render()
				}
				for _, d := range g.PendingBlockingDecisions() {
					fmt.Printf("\ndecision %s: %s\n  options: %s\n", shortID(d.ID), d.Question, strings.Join(d.Options, " | "))
				}
				return nil
			})
		},
	}
}

func goalProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress [goal-id]",
		Short: "Show goal completion percentage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, args)
				if err != nil {
					return err
				}
				pct, err := p.GoalProgress(ctx, g.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"goal_id": g.ID, "percent": pct})
				}
				fmt.Printf("%s: %.1f%%\n", g.Title, pct)
				return nil
			})
		},
	}
}

func goalDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <goal-id>",
		Short: "Delete a goal and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				return p.DeleteGoal(ctx, args[0])
			})
		},
	}
}

func goalUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <goal-id>",
		Short: "Select the active goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				return p.SetActiveGoal(ctx, args[0])
			})
		},
	}
}

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "decision", Short: "Answer blocking decisions"}
	cmd.AddCommand(decisionListCmd())
	cmd.AddCommand(decisionSubmitCmd())
	return cmd
}

func decisionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [goal-id]",
		Short: "List pending decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, args)
				if err != nil {
					return err
				}
				pending := g.PendingBlockingDecisions()
				if viper.GetBool("json") {
					return printJSON(pending)
				}
				if len(pending) == 0 {
					fmt.Println("no pending decisions")
					return nil
				}
				for _, d := range pending {
					fmt.Printf("%s  [%s]  %s\n  options: %s\n", d.ID, d.Kind, d.Question, strings.Join(d.Options, " | "))
					if d.Context != "" {
						fmt.Printf("  context: %s\n", d.Context)
					}
				}
				return nil
			})
		},
	}
}

func decisionSubmitCmd() *cobra.Command {
	var goalID, decisionID, choice string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a decision choice",
		RunE: func(cmd *cobra.Command, args []string) error {
			if decisionID == "" || choice == "" {
				return fmt.Errorf("--decision and --choice required")
			}
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, optionalArgs(goalID))
				if err != nil {
					return err
				}
				g, err = p.SubmitUserDecision(ctx, g.ID, decisionID, choice)
				if err != nil {
					return err
				}
				printGoalStatus(g)
				return printJSONIfRequested(g)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id (default: active goal)")
	cmd.Flags().StringVar(&decisionID, "decision", "", "decision id")
	cmd.Flags().StringVar(&choice, "choice", "", "chosen option")
	return cmd
}

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checkpoint", Short: "Manage checkpoints"}
	cmd.AddCommand(checkpointCreateCmd())
	cmd.AddCommand(checkpointListCmd())
	cmd.AddCommand(checkpointRestoreCmd())
	return cmd
}

func checkpointCreateCmd() *cobra.Command {
	var goalID, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a manual checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, optionalArgs(goalID))
				if err != nil {
					return err
				}
				cp, err := p.CreateCheckpoint(ctx, g.ID, description)
				if err != nil {
					return err
				}
				fmt.Println("checkpoint", cp.ID)
				return printJSONIfRequested(cp)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id (default: active goal)")
	cmd.Flags().StringVar(&description, "description", "", "checkpoint description")
	return cmd
}

func checkpointListCmd() *cobra.Command {
	var goalID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, optionalArgs(goalID))
				if err != nil {
					return err
				}
				cps, err := p.ListCheckpoints(ctx, g.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Auto", "Created"})
				for _, cp := range cps {
					tw.AppendRow(table.Row{shortID(cp.ID), cp.Description, cp.Automatic, cp.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id (default: active goal)")
	return cmd
}

func checkpointRestoreCmd() *cobra.Command {
	var goalID string
	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Restore goal progress from a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, optionalArgs(goalID))
				if err != nil {
					return err
				}
				if err := p.RestoreFromCheckpoint(ctx, g.ID, args[0]); err != nil {
					return err
				}
				g, err = p.GetGoal(ctx, g.ID)
				if err != nil {
					return err
				}
				printGoalStatus(g)
				return printJSONIfRequested(g)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id (default: active goal)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Goal timeline",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var goalID, evtType string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail timeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				g, err := resolveGoal(ctx, p, optionalArgs(goalID))
				if err != nil {
					return err
				}
				evts, err := p.Timeline(ctx, g.ID, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				for _, e := range evts {
					fmt.Printf("%s  %-20s  %s\n", e.At.Format(time.RFC3339), e.Type, e.Description)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id (default: active goal)")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd.Context(), func(ctx context.Context, p *planner.Planner) error {
				handler, err := server.New(server.Config{
					Planner:  p,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: os.Getenv("GOALLINE_JWT_SECRET")},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Goalline API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withPlanner(ctx context.Context, fn func(context.Context, *planner.Planner) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	gen, err := provider.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	genOpts := provider.GenerateOptions{
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	}
	tasks := planner.NewTaskExecutor(
		provider.NewLLMTaskPlanner(gen, genOpts),
		provider.NewGenerateRunner(gen, genOpts),
		cfg.Runner.TaskTimeout, nil, nil)
	bus := events.NewBus()
	detach := observability.NewLogger(workspace).Attach(bus)
	defer detach()
	p := planner.New(repo.Repo{DB: conn}, bus, gen, tasks, cfg)
	return fn(ctx, p)
}

func resolveGoal(ctx context.Context, p *planner.Planner, args []string) (*domain.ProjectGoal, error) {
	if len(args) > 0 && args[0] != "" {
		return p.GetGoal(ctx, args[0])
	}
	g, err := p.ActiveGoal(ctx)
	if err != nil {
		return nil, fmt.Errorf("no goal specified and no active goal; run 'gl goal use <id>'")
	}
	return g, nil
}

func optionalArgs(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func printGoalStatus(g *domain.ProjectGoal) {
	fmt.Printf("goal %s  [%s]  %s\n", shortID(g.ID), g.Status, g.Title)
	if g.RequiresUserInput {
		fmt.Printf("input required: %s\n", g.UserInputPrompt)
	}
}

func printJSONIfRequested(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
