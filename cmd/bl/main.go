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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/competition"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/execrun"
	"bountyline/internal/forge"
	"bountyline/internal/migrate"
	"bountyline/internal/notify"
	"bountyline/internal/repo"
	"bountyline/internal/score"
	"bountyline/internal/server"
	"bountyline/internal/style"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline decides which bounty issues are worth pursuing and gates the
work from qualification to submission.

- Workspace: the .bountyline directory holds the database; config is stored
  in the DB and imported explicitly.
- Engagement: one pursued issue, moving qualify -> plan -> draft -> submitted.
- Qualify: eligibility verdict, win probability, EV, and buy-box thresholds
  decide whether the issue earns a plan.
- Profiles: per-repo contribution rules and a derived PR style guide, cached
  with freshness TTLs; rule changes must be re-acknowledged before submit.
- Judge: the pre-submission compliance gate over rules, style, tests,
  evidence, eligibility, and agreements.
- Competition: risk snapshots of rival PRs and claims, with spike alerts.
- Event log: every decision is recorded; view with 'bl log tail'.`,
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (defaults to config operator)")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(huntCmd())
	rootCmd.AddCommand(engagementCmd())
	rootCmd.AddCommand(qualifyCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(judgeCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(mergedCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(abortCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(styleCmd())
	rootCmd.AddCommand(claCmd())
	rootCmd.AddCommand(competitionCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func huntCmd() *cobra.Command {
	var query string
	var limit int
	cmd := &cobra.Command{
		Use:   "hunt",
		Short: "Search the forge for candidate issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q := strings.TrimSpace(query)
				if q == "" {
					q = `is:issue is:open label:"help wanted"`
				} else if !strings.Contains(q, "is:issue") {
					q = "is:issue is:open " + q
				}
				issues, err := e.Source.SearchIssues(ctx, q, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Title", "Labels", "URL"})
				for _, is := range issues {
					tw.AppendRow(table.Row{is.Number, truncate(is.Title, 60), strings.Join(is.Labels, ","), is.URL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "forge search query")
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func engagementCmd() *cobra.Command {
	eng := &cobra.Command{Use: "engagement", Short: "Manage engagements"}
	eng.AddCommand(engagementCreateCmd())
	eng.AddCommand(engagementListCmd())
	eng.AddCommand(engagementShowCmd())
	return eng
}

func engagementCreateCmd() *cobra.Command {
	var issueURL, kind string
	var payout float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an issue for pursuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if issueURL == "" {
				return fmt.Errorf("--issue required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.CreateEngagement(ctx, issueURL, kind, payout, actorID(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&issueURL, "issue", "", "issue URL")
	cmd.Flags().StringVar(&kind, "kind", "paid", "paid or reputation")
	cmd.Flags().Float64Var(&payout, "payout", 0, "bounty payout in dollars")
	return cmd
}

func engagementListCmd() *cobra.Command {
	var repoFilter, status, kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engagements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEngagements(ctx, repo.EngagementFilters{
					Repo: repoFilter, Status: status, Kind: kind, Limit: limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Repo", "Issue", "Title", "Status", "Payout"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Repo, it.IssueNumber, truncate(it.Title, 40), it.Status, it.Payout})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoFilter, "repo", "", "owner/name filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func engagementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Engagement detail with latest metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				eng, err := r.GetEngagement(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"engagement": eng}
				if m, err := r.GetMetrics(ctx, eng.ID); err == nil {
					out["metrics"] = m
				}
				if rec, err := r.LatestEligibility(ctx, eng.ID); err == nil {
					out["eligibility"] = rec
				}
				if snaps, err := r.LatestCompetitionSnapshots(ctx, eng.ID, 1); err == nil && len(snaps) > 0 {
					out["competition"] = snaps[0]
				}
				if jr, err := r.LatestJudgeRun(ctx, eng.ID); err == nil {
					out["judge"] = jr
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func qualifyCmd() *cobra.Command {
	var envRequired, envApproved, forceRules bool
	var maintainerScore, flakeRate float64
	var lo, best, hi int
	cmd := &cobra.Command{
		Use:   "qualify <id>",
		Short: "Run the qualification pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.QualifyOptions{
					EnvRequired: envRequired,
					EnvApproved: envApproved,
					ForceRules:  forceRules,
				}
				if cmd.Flags().Changed("maintainer-score") {
					opts.MaintainerScore = &maintainerScore
				}
				if cmd.Flags().Changed("flake-rate") {
					opts.CIFlakeRate = &flakeRate
				}
				if best > 0 {
					opts.Estimate = &score.TimeEstimate{LoMinutes: lo, BestMinutes: best, HiMinutes: hi}
				}
				res, err := e.Qualify(ctx, args[0], actorID(e), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Verdict: %s (confidence %.2f)\n", res.Assessment.Verdict, res.Assessment.Confidence)
				for _, r := range res.Assessment.Reasons {
					fmt.Printf("  - %s\n", r)
				}
				fmt.Printf("Win probability: %.2f  EV: $%.2f  ($%.2f/h)\n", res.WinProb.Overall, res.EV.Value, res.EV.PerHour)
				fmt.Printf("Competition risk: %d (%s)\n", res.Competition.RiskScore, res.Competition.Action)
				if res.BuyBox.Passed {
					fmt.Println("Buy box: PASS")
				} else {
					fmt.Println("Buy box: FAIL")
					for _, r := range res.BuyBox.Reasons {
						fmt.Printf("  - %s\n", r)
					}
				}
				for _, w := range res.BuyBox.Warnings {
					fmt.Printf("  ! %s\n", w)
				}
				for _, w := range res.Warnings {
					fmt.Printf("  ! %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&envRequired, "env-required", false, "issue needs a special environment")
	cmd.Flags().BoolVar(&envApproved, "env-approved", false, "environment approved")
	cmd.Flags().BoolVar(&forceRules, "refresh-rules", false, "force a rules refresh")
	cmd.Flags().Float64Var(&maintainerScore, "maintainer-score", 0, "maintainer quality 0-10")
	cmd.Flags().Float64Var(&flakeRate, "flake-rate", 0, "observed CI flake rate 0-1")
	cmd.Flags().IntVar(&lo, "lo", 0, "optimistic minutes")
	cmd.Flags().IntVar(&best, "best", 0, "best-case minutes")
	cmd.Flags().IntVar(&hi, "hi", 0, "pessimistic minutes")
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Plan an engagement"}

	var planText string
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Record a plan and enter planning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.Plan(ctx, args[0], planText, actorID(e), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	set.Flags().StringVar(&planText, "text", "", "plan text")

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve the recorded plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.ApprovePlan(ctx, args[0], actorID(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}

	plan.AddCommand(set, approve)
	return plan
}

func draftCmd() *cobra.Command {
	var draftText, file string
	cmd := &cobra.Command{
		Use:   "draft <id>",
		Short: "Record the submission draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				draftText = string(data)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.Draft(ctx, args[0], draftText, actorID(e), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&draftText, "text", "", "draft text")
	cmd.Flags().StringVar(&file, "file", "", "read draft from file")
	return cmd
}

func judgeCmd() *cobra.Command {
	var forSubmit bool
	cmd := &cobra.Command{
		Use:   "judge <id>",
		Short: "Run the compliance gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				verdict, err := e.RunJudge(ctx, args[0], actorID(e), forSubmit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(verdict)
				}
				for _, c := range verdict.Checks {
					line := fmt.Sprintf("[%s] %s", strings.ToUpper(c.Status), c.Name)
					if c.Detail != "" {
						line += ": " + c.Detail
					}
					fmt.Println(line)
				}
				for _, f := range verdict.Fixes {
					fmt.Printf("  fix %s: %s\n", f.Check, f.Action)
				}
				if verdict.Passed {
					fmt.Println("Gate: PASS")
				} else {
					fmt.Println("Gate: FAIL")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&forSubmit, "for-submit", false, "apply submission-strength checks")
	return cmd
}

func submitCmd() *cobra.Command {
	var prURL string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Run the gate and mark submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prURL == "" {
				return fmt.Errorf("--pr required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, verdict, err := e.Submit(ctx, args[0], prURL, actorID(e), viper.GetBool("force"))
				if err != nil {
					for _, c := range verdict.Checks {
						if c.Status == "fail" {
							fmt.Printf("[FAIL] %s: %s\n", c.Name, c.Detail)
						}
					}
					return err
				}
				return printJSONOrTable(map[string]any{"engagement": eng, "verdict": verdict})
			})
		},
	}
	cmd.Flags().StringVar(&prURL, "pr", "", "pull request URL")
	return cmd
}

func mergedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merged <id>",
		Short: "Record that the submitted PR landed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.MarkMerged(ctx, args[0], actorID(e), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Close out a merged engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.MarkCompleted(ctx, args[0], actorID(e), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
}

func abortCmd() *cobra.Command {
	var reason, note string
	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Abandon with a classified reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.Abort(ctx, args[0], reason, note, actorID(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "one of: "+strings.Join(engine.AbortReasons, ", "))
	cmd.Flags().StringVar(&note, "note", "", `free-form note (required for "other")`)
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Per-repo contribution rules"}

	show := &cobra.Command{
		Use:   "show <owner/name>",
		Short: "Show the cached rules profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetRulesProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <owner/name>",
		Short: "Fetch and reparse the rules document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Rules.Ensure(ctx, args[0], true)
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Println("repository publishes no reachable rules document")
					return nil
				}
				if _, err := e.CLA.Sync(ctx, args[0], p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}

	ack := &cobra.Command{
		Use:   "ack <owner/name>",
		Short: "Acknowledge the current rules content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Rules.Acknowledge(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("acknowledged %s at version %d\n", args[0], p.Version)
				return nil
			})
		},
	}

	rules.AddCommand(show, refresh, ack)
	return rules
}

func styleCmd() *cobra.Command {
	styleRoot := &cobra.Command{Use: "style", Short: "Per-repo PR style guide"}

	show := &cobra.Command{
		Use:   "show <owner/name>",
		Short: "Show the derived style guide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				guide, err := e.Style.GuideFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(guide)
			})
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <owner/name>",
		Short: "Rederive the guide from recent merged PRs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, guide, err := e.Style.Ensure(ctx, args[0], true)
				if err != nil {
					return err
				}
				fmt.Printf("derived from %d samples\n", rec.SampleCount)
				return printJSONOrTable(guide)
			})
		},
	}

	var file string
	lint := &cobra.Command{
		Use:   "lint <owner/name>",
		Short: "Lint a draft against the guide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				guide, err := e.Style.GuideFor(ctx, args[0])
				if err != nil {
					return err
				}
				issues := style.Lint(string(data), guide)
				if len(issues) == 0 {
					fmt.Println("no style issues")
					return nil
				}
				for _, is := range issues {
					fmt.Printf("[%s] %s\n", is.Kind, is.Message)
				}
				return nil
			})
		},
	}
	lint.Flags().StringVar(&file, "file", "", "draft file to lint")
	_ = lint.MarkFlagRequired("file")

	styleRoot.AddCommand(show, refresh, lint)
	return styleRoot
}

func claCmd() *cobra.Command {
	claRoot := &cobra.Command{Use: "cla", Short: "Agreement status per repo"}

	show := &cobra.Command{
		Use:   "show <owner/name>",
		Short: "Show CLA/DCO status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.CLA.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}

	var evidence string
	complete := &cobra.Command{
		Use:   "complete <owner/name>",
		Short: "Mark the repository CLA as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.CLA.MarkCompleted(ctx, args[0], evidence)
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
	complete.Flags().StringVar(&evidence, "evidence", "", "evidence URL")

	dco := &cobra.Command{
		Use:   "dco <owner/name>",
		Short: "Record that DCO sign-off is configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.CLA.EnableDCO(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}

	claRoot.AddCommand(show, complete, dco)
	return claRoot
}

func competitionCmd() *cobra.Command {
	comp := &cobra.Command{Use: "competition", Short: "Competition risk tracking"}

	check := &cobra.Command{
		Use:   "check <id>",
		Short: "Take a fresh competition snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckCompetition(ctx, args[0], actorID(e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Risk: %d (%s)\n", res.RiskScore, res.Action)
				for _, d := range res.Drivers {
					fmt.Printf("  +%d %s (%s)\n", d.Points, d.Kind, d.Detail)
				}
				return nil
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch <id>",
		Short: "Poll competition on an interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := &competition.Poller{
					Interval: time.Duration(e.Config.Competition.PollIntervalMinutes) * time.Minute,
					MaxRuns:  e.Config.Competition.MaxPollRuns,
					Check: func(ctx context.Context) error {
						res, err := e.CheckCompetition(ctx, args[0], actorID(e))
						if err != nil {
							return err
						}
						fmt.Printf("%s risk=%d action=%s\n", time.Now().Format(time.RFC3339), res.RiskScore, res.Action)
						return nil
					},
					OnError: func(err error) { fmt.Println("check failed:", err) },
				}
				fmt.Printf("watching every %dm, up to %d checks\n",
					e.Config.Competition.PollIntervalMinutes, e.Config.Competition.MaxPollRuns)
				err := p.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	comp.AddCommand(check, watch)
	return comp
}

func testCmd() *cobra.Command {
	test := &cobra.Command{Use: "test", Short: "Local test runs"}

	var dir, command string
	run := &cobra.Command{
		Use:   "run <id>",
		Short: "Run the suite and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if command == "" {
				return fmt.Errorf("--cmd required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := execrun.Run(ctx, dir, command)
				if err != nil {
					return err
				}
				rec, err := e.RecordTestRun(ctx, args[0], actorID(e), res)
				if err != nil {
					return err
				}
				fmt.Printf("exit=%d duration=%dms\n", rec.ExitCode, rec.DurationMS)
				return nil
			})
		},
	}
	run.Flags().StringVar(&dir, "dir", ".", "working directory")
	run.Flags().StringVar(&command, "cmd", "", "shell command to run")

	test.AddCommand(run)
	return test
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Workspace scoreboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountEngagementsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"engagement_counts": counts,
					"hourly_target":     e.Config.Economics.HourlyTarget,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Hourly target: $%.0f\n", e.Config.Economics.HourlyTarget)
				fmt.Println("Engagements:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Event log"}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, engagementID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, engagementID, evtType, "", "")
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&engagementID, "engagement", "", "engagement id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfgRoot := &cobra.Command{Use: "config", Short: "Workspace configuration"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ResolveConfig(ctx, r, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				data, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}

	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import config from a yaml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ResolveConfig(ctx, r, file)
				if err != nil {
					return err
				}
				fmt.Printf("imported config (hourly target $%.0f)\n", cfg.Economics.HourlyTarget)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&file, "file", "", "yaml config file")

	cfgRoot.AddCommand(show, imp)
	return cfgRoot
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret: os.Getenv("BOUNTYLINE_JWT_SECRET"),
					DevLogin:  devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("BOUNTYLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
				fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the local token endpoint")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveConfig(ctx, r, "")
		if err != nil {
			return err
		}
		src := forge.NewClient(cfg.Forge.BaseURL, os.Getenv(cfg.Forge.TokenEnv))
		var notifier notify.Notifier = notify.Nop{}
		if cfg.Notify.WebhookURL != "" {
			notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
		}
		e := engine.New(r.DB, cfg, src, notifier)
		return fn(ctx, e)
	})
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
	return fn(ctx, repo.Repo{DB: conn})
}

func actorID(e engine.Engine) string {
	if v := viper.GetString("actor-id"); v != "" {
		return v
	}
	return e.Config.Operator.ActorID
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
