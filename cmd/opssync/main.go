package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opssync/internal/app"
	"opssync/internal/config"
	"opssync/internal/db"
	"opssync/internal/digest"
	"opssync/internal/engine"
	"opssync/internal/engine/auth"
	"opssync/internal/migrate"
	"opssync/internal/report"
	"opssync/internal/repo"
	"opssync/internal/server"
	"opssync/internal/sla"
	"opssync/internal/timeliness"
)

const orgEnvKey = "OPSSYNC_ORG"

var rootCmd = &cobra.Command{
	Use:   "opssync",
	Short: "OpsSync SLA and timeliness CLI",
	Long: `OpsSync grades supervisor deliverables against per-project SLA rules.
- Org: a tenant. Every project, item and rule belongs to exactly one org.
- Item: an UPDATE or CHANGE_REQUEST with a due time and an optional submission time.
- SLA rules: atRiskMinutes turns an outstanding item AMBER before it is due; redMinutes past due turns it RED.
- Overview: org-wide counts, per-project rows and a daily trend over the last N days.
- Export: the graded items of the window as CSV or XLSX.
- Digest: a scheduled per-org summary posted to Slack.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return loadWorkspaceEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OPSSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadWorkspaceEnv merges <workspace>/.env so values written by "org use"
// act as defaults.
func loadWorkspaceEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("env")
	return viper.MergeInConfig()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides "+orgEnvKey+")")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(overviewCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Manage organizations"}
	cmd.AddCommand(orgCreateCmd())
	cmd.AddCommand(orgListCmd())
	cmd.AddCommand(orgUseCmd())
	return cmd
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an org owned by the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				org, err := e.CreateOrg(ctx, id, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "org id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List orgs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orgs, err := r.ListOrgs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func orgUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <org-id>",
		Short: "Set the default org for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID := strings.TrimSpace(args[0])
			if orgID == "" {
				return fmt.Errorf("org id is required")
			}
			err := withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				_, err := app.ResolveOrg(ctx, orgID, r)
				return err
			})
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), orgEnvKey, orgID); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s/.env\n", orgEnvKey, orgID, workspace)
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:      id,
					OrgID:   orgID,
					Name:    name,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				projects, err := e.ListProjects(ctx, orgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := newTable(table.Row{"ID", "Name", "Status", "Created"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage timeliness items"}
	cmd.AddCommand(itemCreateCmd())
	cmd.AddCommand(itemSubmitCmd())
	cmd.AddCommand(itemDeleteCmd())
	return cmd
}

func itemCreateCmd() *cobra.Command {
	var id, projectID, itemType, title, due, submitted string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create item",
		Long:  "Times are RFC3339 or a duration relative to now (-3h, 90m).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || due == "" {
				return fmt.Errorf("--project and --due required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				now := time.Now()
				dueAt, err := parseTime(due, now)
				if err != nil {
					return err
				}
				var submittedAt *time.Time
				if submitted != "" {
					ts, err := parseTime(submitted, now)
					if err != nil {
						return err
					}
					submittedAt = &ts
				}
				it, err := e.CreateItem(ctx, engine.ItemCreateOptions{
					ID:          id,
					OrgID:       orgID,
					ProjectID:   projectID,
					Type:        itemType,
					Title:       title,
					DueAt:       dueAt,
					SubmittedAt: submittedAt,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&itemType, "type", "UPDATE", "UPDATE or CHANGE_REQUEST")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&due, "due", "", "due time")
	cmd.Flags().StringVar(&submitted, "submitted", "", "submission time")
	return cmd
}

func itemSubmitCmd() *cobra.Command {
	var projectID, at string
	cmd := &cobra.Command{
		Use:   "submit <item-id>",
		Short: "Mark item submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				var when *time.Time
				if at != "" {
					ts, err := parseTime(at, time.Now())
					if err != nil {
						return err
					}
					when = &ts
				}
				it, err := e.SubmitItem(ctx, orgID, projectID, args[0], when, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&at, "at", "", "submission time (default now)")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				if err := e.DeleteItem(ctx, orgID, projectID, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Per-project SLA rules"}
	cmd.AddCommand(rulesGetCmd())
	cmd.AddCommand(rulesSetCmd())
	return cmd
}

func rulesGetCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show effective rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				rules, override, err := e.GetRules(ctx, orgID, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"atRiskMinutes": rules.AtRiskMinutes,
					"redMinutes":    rules.RedMinutes,
					"override":      override,
				})
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func rulesSetCmd() *cobra.Command {
	var projectID string
	var atRisk, red int
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Override rules for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				rules, err := e.SetRules(ctx, orgID, projectID, sla.Rules{AtRiskMinutes: atRisk, RedMinutes: red}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rules)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().IntVar(&atRisk, "at-risk-minutes", sla.DefaultRules.AtRiskMinutes, "minutes before due that an outstanding item turns AMBER")
	cmd.Flags().IntVar(&red, "red-minutes", sla.DefaultRules.RedMinutes, "minutes after due that an item turns RED")
	return cmd
}

func overviewCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Org-wide timeliness overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				ov, err := e.Overview(ctx, orgID, days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ov)
				}
				printSummary(ov.Summary)
				tw := newTable(table.Row{"Project", "Total", "Green", "Amber", "Red", "Overdue", "On time"})
				for _, p := range ov.ByProject {
					name := p.ProjectName
					if name == "" {
						name = p.ProjectID
					}
					tw.AppendRow(table.Row{name, p.Total, p.Green, p.Amber, p.Red, p.Overdue, percent(p.OnTimeRate)})
				}
				tw.Render()
				if len(ov.Trend) > 0 {
					trend := newTable(table.Row{"Day", "Total", "Green", "Amber", "Red"})
					for _, d := range ov.Trend {
						trend.AppendRow(table.Row{d.Day, d.Total, d.Green, d.Amber, d.Red})
					}
					trend.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "look-back window in days (default from config)")
	return cmd
}

func metricsCmd() *cobra.Command {
	var projectID string
	var days int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Graded items for one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				m, err := e.ProjectMetrics(ctx, orgID, projectID, days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				printSummary(m.Summary)
				tw := newTable(table.Row{"ID", "Type", "Title", "Due", "Submitted", "Grade", "Overdue"})
				for _, it := range m.Items {
					submitted := ""
					if it.SubmittedAt != nil {
						submitted = it.SubmittedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{it.ID, it.Type, it.Title, it.DueAt.Format(time.RFC3339), submitted, it.Grade, it.Overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().IntVar(&days, "days", 0, "look-back window in days (default from config)")
	return cmd
}

func exportCmd() *cobra.Command {
	var projectID, format, out string
	var days int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded items as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "csv" && format != "xlsx" {
				return fmt.Errorf("invalid --format %q: must be csv or xlsx", format)
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				e = e.Pinned()
				rows, err := e.ExportRows(ctx, engine.ExportOptions{OrgID: orgID, ProjectID: projectID, Days: days})
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = fmt.Sprintf("timeliness-%s-%s.%s", orgID, e.ExportTime().Format("20060102"), format)
				}
				var w io.Writer = os.Stdout
				if path != "-" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if format == "xlsx" {
					err = report.WriteXLSX(w, report.DefaultSheet, rows)
				} else {
					err = report.WriteCSV(w, rows)
				}
				if err != nil {
					return err
				}
				if path != "-" {
					fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", len(rows), path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "limit to one project")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file; - for stdout (default timeliness-<org>-<date>.<format>)")
	cmd.Flags().IntVar(&days, "days", 0, "look-back window in days, up to 365")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacAPIKeyCmd())
	cmd.AddCommand(rbacTokenCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				actorID := viper.GetString("actor-id")
				roles, perms, err := e.WhoAmI(ctx, orgID, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.WhoAmIResponse{ActorID: actorID, OrgID: orgID, Roles: roles, Permissions: perms})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				if err := e.GrantRole(ctx, orgID, target, role, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s in %s\n", role, target, orgID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id (owner, manager, supervisor)")
	return cmd
}

func rbacAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "api-key", Short: "Manage org-scoped API keys"}
	cmd.AddCommand(rbacAPIKeyCreateCmd())
	cmd.AddCommand(rbacAPIKeyListCmd())
	cmd.AddCommand(rbacAPIKeyRevokeCmd())
	return cmd
}

func rbacAPIKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				plain, key, err := e.CreateAPIKey(ctx, orgID, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "org_id": key.OrgID, "actor_id": key.ActorID, "key": plain})
				}
				fmt.Printf("api key %s created; store it now, it is not shown again:\n%s\n", key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func rbacAPIKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the org's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				keys, err := e.ListAPIKeys(ctx, orgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rbacAPIKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				if err := e.RevokeAPIKey(ctx, orgID, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func rbacTokenCmd() *cobra.Command {
	var ttl time.Duration
	var perms []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				actorID := viper.GetString("actor-id")
				roles, granted, err := e.WhoAmI(ctx, orgID, actorID)
				if err != nil {
					return err
				}
				if len(perms) == 0 {
					perms = granted
				}
				for _, p := range perms {
					if !auth.KnownPermission(p) {
						return fmt.Errorf("invalid permission %q", p)
					}
				}
				token, err := server.SignToken(e.Config.JWTSecret(), actorID, orgID, roles, perms, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permissions to embed (default: the actor's granted permissions)")
	return cmd
}

func digestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "digest", Short: "SLA digests"}
	cmd.AddCommand(digestRunCmd())
	return cmd
}

func digestRunCmd() *cobra.Command {
	var days int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and send the digest for every org now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := digest.Runner{Engine: e, Days: days}
				if dryRun {
					reports, err := r.Build(ctx)
					for _, rep := range reports {
						fmt.Println(digest.Format(rep))
						fmt.Println()
					}
					return err
				}
				r.Notifier = digest.SlackNotifier{WebhookURL: e.Config.Digest.SlackWebhookURL}
				sent, err := r.RunOnce(ctx)
				fmt.Printf("sent %d digests\n", sent)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "look-back window (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print digests instead of sending")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilter{
					OrgID:      orgID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in opssync.yml at the workspace root. Missing files fall back to built-in defaults.",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default opssync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate opssync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(ctx, r.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d (%s)\n", v, db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("addr") {
					addr = e.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              e.Config.JWTSecret(),
					AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					return fmt.Errorf("%s is required for bearer auth", e.Config.Auth.JWTSecretEnv)
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				if e.Config.Digest.Enabled {
					runner := digest.Runner{
						Engine:   e,
						Notifier: digest.SlackNotifier{WebhookURL: e.Config.Digest.SlackWebhookURL},
					}
					if _, err := runner.Start(ctx, e.Config.Digest.Schedule); err != nil {
						return err
					}
					fmt.Printf("Digest scheduled %q\n", e.Config.Digest.Schedule)
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving OpsSync API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

// withOrg is withEngine plus the org chosen by --org, OPSSYNC_ORG or the
// workspace .env.
func withOrg(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		orgID, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, orgOverride(), r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg), orgID)
	})
}

func orgOverride() string {
	if v := viper.GetString("org"); v != "" {
		return v
	}
	return viper.GetString(strings.ToLower(orgEnvKey))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printSummary(s timeliness.Summary) {
	fmt.Printf("Total %d  GREEN %d  AMBER %d  RED %d  overdue %d  on time %s\n",
		s.Total, s.Green, s.Amber, s.Red, s.Overdue, percent(s.OnTimeRate))
}

func percent(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}

// parseTime accepts RFC3339 or a signed duration relative to now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or a duration like -3h", s)
	}
	return now.Add(d), nil
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
