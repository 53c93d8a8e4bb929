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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raidline/internal/app"
	"raidline/internal/config"
	"raidline/internal/db"
	"raidline/internal/domain"
	"raidline/internal/engine"
	"raidline/internal/migrate"
	"raidline/internal/repo"
	"raidline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Raidline CLI",
	Long: `Raidline tracks in-game objective progress against the dependency graph.
Core concepts:
- Workspace: your .raidline directory holding only the database.
- Catalog: the task and hideout definitions loaded from a file or URL; tasks
  and station levels form dependency graphs.
- Progress: per-player records with independent PvP and PvE universes; task,
  objective, and hideout states flow uncompleted -> completed/failed.
- Invalid flags: failing a task marks dependents invalid until the
  prerequisite is back on track.
- Teams: small groups that share live progress; hiding a teammate only
  changes your view.`,
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
	viper.SetEnvPrefix("RAIDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("config", "raidline.yml", "path to YAML config")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func progressCmd() *cobra.Command {
	prog := &cobra.Command{
		Use:   "progress",
		Short: "Inspect and update player progress",
		Long:  "Progress holds the four buckets (tasks, task objectives, hideout modules, hideout parts) for the active game mode, plus level, faction, and display name.",
	}
	prog.AddCommand(progressShowCmd())
	prog.AddCommand(progressTeamCmd())
	prog.AddCommand(progressLevelCmd())
	prog.AddCommand(progressTaskCmd())
	prog.AddCommand(progressObjectiveCmd())
	prog.AddCommand(progressHideoutCmd())
	prog.AddCommand(progressModeCmd())
	prog.AddCommand(progressImportCmd())
	return prog
}

func progressShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show own progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetProgress(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Player: %s (%s) level %d, faction %s\n", view.DisplayName, view.UserID, view.PlayerLevel, view.PMCFaction)
				renderItems("Tasks", view.TasksProgress)
				renderItems("Task objectives", view.TaskObjectivesProgress)
				renderItems("Hideout modules", view.HideoutModulesProgress)
				renderItems("Hideout parts", view.HideoutPartsProgress)
				return nil
			})
		},
	}
	return cmd
}

func progressTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Show progress for the whole team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tp, err := e.TeamProgress(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tp)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Player", "Level", "Faction", "Tasks done", "Modules done"})
				for _, member := range tp.Data {
					tw.AppendRow(table.Row{
						member.DisplayName,
						member.PlayerLevel,
						member.PMCFaction,
						countComplete(member.TasksProgress),
						countComplete(member.HideoutModulesProgress),
					})
				}
				tw.Render()
				if len(tp.HiddenTeammates) > 0 {
					fmt.Printf("Hidden teammates: %s\n", strings.Join(tp.HiddenTeammates, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func progressLevelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "level <value>",
		Short: "Set player level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var level int
			if _, err := fmt.Sscanf(args[0], "%d", &level); err != nil {
				return fmt.Errorf("invalid level %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetLevel(ctx, viper.GetString("actor-id"), level)
			})
		},
	}
	return cmd
}

func progressTaskCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "task <id>",
		Short: "Update a task state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetTaskState(ctx, viper.GetString("actor-id"), args[0], state)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "new state (uncompleted, completed, failed)")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func progressObjectiveCmd() *cobra.Command {
	var state string
	var count int
	cmd := &cobra.Command{
		Use:   "objective <id>",
		Short: "Update a task objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update engine.ObjectiveUpdate
			if cmd.Flags().Changed("state") {
				update.State = &state
			}
			if cmd.Flags().Changed("count") {
				update.Count = &count
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetObjective(ctx, viper.GetString("actor-id"), args[0], update)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "new state (uncompleted, completed, failed)")
	cmd.Flags().IntVar(&count, "count", 0, "progress counter")
	return cmd
}

func progressHideoutCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "hideout <id>",
		Short: "Update a hideout module state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetHideoutModule(ctx, viper.GetString("actor-id"), args[0], state)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "new state (uncompleted, completed, failed)")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func progressModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode <pvp|pve>",
		Short: "Switch active game mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetGameMode(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func progressImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a progress document from JSON",
		Long:  "Merges an exported progress document into the actor's record. Legacy flat documents are migrated on the next read.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetProgress(ctx, viper.GetString("actor-id"), doc, !replace)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the stored document instead of merging")
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Manage team membership",
		Long:  "Teams share live progress. The owner holds the join password; leaving as owner disbands the team.",
	}
	team.AddCommand(teamShowCmd())
	team.AddCommand(teamCreateCmd())
	team.AddCommand(teamJoinCmd())
	team.AddCommand(teamLeaveCmd())
	team.AddCommand(teamKickCmd())
	team.AddCommand(teamHideCmd())
	return team
}

func teamShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				sys, err := e.Repo.System(ctx, actorID)
				if err != nil {
					return err
				}
				if sys.TeamID == "" {
					return fmt.Errorf("not in a team")
				}
				team, err := e.Repo.Team(ctx, sys.TeamID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": sys.TeamID, "team": team})
				}
				fmt.Printf("Team %s (owner %s, %d/%d members)\n", sys.TeamID, team.Owner, len(team.Members), team.MaximumMembers)
				for _, m := range team.Members {
					marker := ""
					if sys.TeamHide[m] {
						marker = " (hidden)"
					}
					fmt.Printf("  %s%s\n", m, marker)
				}
				return nil
			})
		},
	}
	return cmd
}

func teamCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teamID, team, err := e.CreateTeam(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": teamID, "team": team})
				}
				fmt.Printf("Created team %s (password %s)\n", teamID, team.Password)
				return nil
			})
		},
	}
	return cmd
}

func teamJoinCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "join <id>",
		Short: "Join a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.JoinTeam(ctx, viper.GetString("actor-id"), args[0], password)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "team password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func teamLeaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave the current team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.LeaveTeam(ctx, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func teamKickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kick <member-id>",
		Short: "Kick a member (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.KickMember(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func teamHideCmd() *cobra.Command {
	var unhide bool
	cmd := &cobra.Command{
		Use:   "hide <member-id>",
		Short: "Hide a teammate from your team views",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.HideTeammate(ctx, viper.GetString("actor-id"), args[0], !unhide)
			})
		},
	}
	cmd.Flags().BoolVar(&unhide, "undo", false, "unhide instead")
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	tok.AddCommand(tokenCreateCmd())
	tok.AddCommand(tokenListCmd())
	tok.AddCommand(tokenRevokeCmd())
	return tok
}

func tokenCreateCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				token := domain.APIToken{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Note:      note,
					TokenHash: repo.HashToken(raw),
				}
				if err := r.InsertToken(ctx, token); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": token.ID, "token": raw})
				}
				fmt.Printf("Token %s created. Store it now; it is not shown again:\n%s\n", token.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "what this token is for")
	return cmd
}

func tokenListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tokens, err := r.ListTokens(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tokens)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Note", "Created"})
				for _, t := range tokens {
					tw.AppendRow(table.Row{t.ID, t.Note, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteToken(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the objective catalog",
	}
	cat.AddCommand(catalogValidateCmd())
	return cat
}

func catalogValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog and check both dependency graphs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := app.ResolveGraphs(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			snap, tasks, hideout, err := svc.Current()
			if err != nil {
				return err
			}
			out := map[string]any{
				"tasks":         len(snap.Tasks),
				"stations":      len(snap.Stations),
				"task_nodes":    tasks.NodeCount(),
				"task_edges":    tasks.EdgeCount(),
				"hideout_nodes": hideout.NodeCount(),
				"hideout_edges": hideout.EdgeCount(),
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("catalog OK: %d tasks (%d edges), %d station levels (%d edges)\n",
				tasks.NodeCount(), tasks.EdgeCount(), hideout.NodeCount(), hideout.EdgeCount())
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of committed progress mutations, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.Latest(ctx, viper.GetString("actor-id"), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if secret := os.Getenv("RAIDLINE_JWT_SECRET"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			graphs, err := app.ResolveGraphs(cmd.Context(), cfg)
			if err != nil {
				fmt.Printf("warning: catalog unavailable at startup: %v\n", err)
			}
			e := engine.New(conn, graphs)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Raidline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8585", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api/v2", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(path)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Graph load failures leave propagation best-effort; mutations still work.
	graphs, _ := app.ResolveGraphs(ctx, cfg)
	e := engine.New(conn, graphs)
	if err := app.TouchActor(ctx, e.Repo, viper.GetString("actor-id"), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.New(conn))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderItems(label string, items []domain.ProgressItem) {
	done := countComplete(items)
	fmt.Printf("%s: %d/%d complete\n", label, done, len(items))
}

func countComplete(items []domain.ProgressItem) int {
	n := 0
	for _, item := range items {
		if item.Complete {
			n++
		}
	}
	return n
}
