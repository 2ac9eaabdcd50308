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

	"teamline/internal/app"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/engine"
	"teamline/internal/migrate"
	"teamline/internal/repo"
	"teamline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Teamline CLI",
	Long: `Teamline tracks team work across organizations, projects and workflow stages.
Concepts:
- Workspace: your .teamline directory with the database and teamline.yml.
- Organization: the tenant; members carry owner/admin/member roles.
- Project: a board of stages owned by an organization; members carry
  owner/admin/editor/reader roles that merge with their org role.
- Stages: the workflow columns; done stages gate completion behind approval,
  and a stage can carry a WIP limit (warning or strict).
- Tasks: work items with subtasks, assignments, dependencies and comments.
- Inbox: attention items (mentions, assignments, status changes) deduped per
  open item.
- Activity: the append-only audit trail; entries outlive their subjects.`,
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
	viper.SetEnvPrefix("TEAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("profile-id", "local-user", "acting profile identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("profile-id", rootCmd.PersistentFlags().Lookup("profile-id"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
}

func caller() string {
	return viper.GetString("profile-id")
}

// ensureLocalProfile makes the acting profile exist so local CLI use does
// not require a token round-trip first.
func ensureLocalProfile(ctx context.Context, e engine.Engine) error {
	id := caller()
	_, err := e.UpsertProfileFromIdentity(ctx, id, engine.IdentityClaims{
		Email: id + "@localhost",
	})
	return err
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgMemberCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var name, slug string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := ensureLocalProfile(ctx, e); err != nil {
					return err
				}
				o, err := e.CreateOrg(ctx, caller(), name, slug)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	cmd.Flags().StringVar(&slug, "slug", "", "url-safe slug")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOrgs(ctx, caller())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Slug"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Slug})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func orgMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage organization members"}
	var orgID, profileID, role string
	set := &cobra.Command{
		Use:   "set",
		Short: "Add or re-role a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetOrgMember(ctx, caller(), orgID, profileID, role)
			})
		},
	}
	set.Flags().StringVar(&orgID, "org", "", "organization id")
	set.Flags().StringVar(&profileID, "profile", "", "profile id")
	set.Flags().StringVar(&role, "role", "member", "owner|admin|member")
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveOrgMember(ctx, caller(), orgID, profileID)
			})
		},
	}
	remove.Flags().StringVar(&orgID, "org", "", "organization id")
	remove.Flags().StringVar(&profileID, "profile", "", "profile id")
	member.AddCommand(set, remove)
	return member
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatsCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var orgID, name, color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project with the default workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, stages, err := e.CreateProject(ctx, caller(), engine.CreateProjectInput{
					OrgID: orgID, Name: name, Color: color,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "stages": stages})
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, caller())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Org"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OrgID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project and its stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, stages, err := e.GetProject(ctx, caller(), projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "stages": stages})
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func projectStatsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Task counts by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.GetProjectStats(ctx, caller(), projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRejectCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var projectID, title, stageID, priority, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in := engine.CreateTaskInput{
					ProjectID: projectID, Title: title, StageID: stageID, Priority: priority,
				}
				if assignee != "" {
					in.AssigneeID = &assignee
				}
				t, err := e.CreateTask(ctx, caller(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id (default first open stage)")
	cmd.Flags().StringVar(&priority, "priority", "", "urgent|high|normal|low")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee profile id")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, caller(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Approval", "Assignee"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.StageID, t.Approval, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.StageID, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&f.TopLevelOnly, "top-level", false, "exclude child tasks")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var taskID, stageID string
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a task to another stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.MoveTaskToStage(ctx, caller(), taskID, stageID)
				if err != nil {
					return err
				}
				if res.WipWarning != "" {
					fmt.Fprintf(os.Stderr, "warning: %s\n", res.WipWarning)
				}
				return printJSONOrTable(res.Task)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&stageID, "stage", "", "target stage id")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ApproveTask(ctx, caller(), taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	return cmd
}

func taskRejectCmd() *cobra.Command {
	var taskID, reason, returnStage string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RejectTask(ctx, caller(), taskID, reason, returnStage)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.Flags().StringVar(&returnStage, "return-stage", "", "stage to send the task back to")
	return cmd
}

func inboxCmd() *cobra.Command {
	inbox := &cobra.Command{Use: "inbox", Short: "Attention items"}
	var unread bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List attention items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInbox(ctx, caller(), unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Read"})
				for _, it := range items {
					read := ""
					if it.ReadAt != nil {
						read = *it.ReadAt
					}
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Title, read})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "unread only")
	list.Flags().IntVar(&limit, "limit", 50, "max items")
	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark everything read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.MarkAllInboxRead(ctx, caller())
				if err != nil {
					return err
				}
				fmt.Printf("marked %d items read\n", n)
				return nil
			})
		},
	}
	inbox.AddCommand(list, readAll)
	return inbox
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Project activity"}
	var f repo.ActivityFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActivity(ctx, caller(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Actor", "Task", "At"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Kind, a.ActorName, a.TaskTitle, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	tail.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	tail.Flags().IntVar(&f.Limit, "limit", 50, "max entries")
	logc.AddCommand(tail)
	return logc
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Migrate(conn)
			if err != nil {
				return err
			}
			version, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			if applied == 0 {
				fmt.Printf("schema up to date at version %d\n", version)
				return nil
			}
			fmt.Printf("applied %d migrations, now at version %d\n", applied, version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg := e.Config
			if cfg == nil {
				cfg = config.Default()
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Server.JWTSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if s := os.Getenv("TEAMLINE_JWT_SECRET"); s != "" {
				authCfg.JWTSecret = s
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("TEAMLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:      e,
				BasePath:    basePath,
				Auth:        authCfg,
				CORSOrigins: cfg.Server.CORSOrigins,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Teamline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, conn, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
