package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"dealdesk/internal/app"
	"dealdesk/internal/config"
	"dealdesk/internal/contract"
	"dealdesk/internal/db"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/metrics"
	"dealdesk/internal/migrate"
	"dealdesk/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, c *app.Context) error {
				if c.Config.Server.JWTSecret == "" && !c.Config.Server.AllowActorHeader {
					return fmt.Errorf("server.jwt_secret (or DEALDESK_JWT_SECRET) is required for bearer auth")
				}
				if c.Config.Webhooks.ESign.Secret == "" {
					c.Log.Warn().Msg("webhooks.esign.secret is empty; e-sign callbacks are accepted unsigned")
				}
				handler, err := server.New(c.ServerConfig())
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: c.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error { return c.Scheduler.Start(ctx) })
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					c.Log.Info().Str("addr", c.Config.Server.Addr).Str("base_path", c.Config.Server.BasePath).Msg("serving dealdesk API")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	cmd.Flags().Bool("allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("allow-actor-header", cmd.Flags().Lookup("allow-actor-header"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("database ready at %s\n", db.Path(cfg.Database.Workspace))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage dealdesk.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			_, err := config.FromFile(path)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "path": path, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "***"
			}
			if cfg.Webhooks.ESign.Secret != "" {
				cfg.Webhooks.ESign.Secret = "***"
			}
			return printJSON(cfg)
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var admin bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := server.SignToken(cfg.Server.JWTSecret, subject, admin, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "subject": subject, "admin": admin})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id carried in the sub claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	cmd.Flags().String("jwt-secret", "", "signing secret (overrides server.jwt_secret)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "Inspect and run background jobs"}
	jobs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs and their last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Scheduler.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Interval", "Running", "Runs", "Last run", "Last error"})
				for _, j := range items {
					last := ""
					if j.LastRunAt != nil {
						last = j.LastRunAt.Format(time.RFC3339)
					}
					interval := j.Interval
					if interval == "" {
						interval = "manual"
					}
					tw.AppendRow(table.Row{j.Name, interval, j.Running, j.Runs, last, j.LastError})
				}
				tw.Render()
				return nil
			})
		},
	})
	jobs.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a job now and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				start := time.Now()
				if err := c.Scheduler.Trigger(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s finished in %s\n", args[0], time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	})
	return jobs
}

func metricsCmd() *cobra.Command {
	m := &cobra.Command{Use: "metrics", Short: "Premium conversion reports"}
	var stored bool
	premium := &cobra.Command{
		Use:   "premium",
		Short: "Show premium negotiation and signature forecasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				var (
					report metrics.PremiumReport
					err    error
				)
				if stored {
					report, err = c.Metrics.LatestPremium(ctx)
				} else {
					report, err = c.Metrics.CurrentPremium(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printPremiumReport(report)
				return nil
			})
		},
	}
	premium.Flags().BoolVar(&stored, "stored", false, "show the last snapshot written by the premium-metrics job")
	m.AddCommand(premium)
	return m
}

func printPremiumReport(r metrics.PremiumReport) {
	fmt.Printf("window %s .. %s, %d-day buckets, conversion %.1f%%\n",
		r.WindowStart.Format("2006-01-02"), r.GeneratedAt.Format("2006-01-02"), r.BucketSizeDays, r.ConversionRate*100)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Series", "Total", "Next", "Confidence", "Latest", "Z", "Anomalous"})
	for _, row := range []struct {
		name string
		s    metrics.SeriesReport
	}{
		{"premium negotiations", r.PremiumNegotiations},
		{"envelopes issued", r.EnvelopesIssued},
		{"signatures", r.Signatures},
	} {
		tw.AppendRow(table.Row{
			row.name, row.s.Total,
			fmt.Sprintf("%.2f", row.s.Forecast.Forecast), row.s.Forecast.Confidence,
			row.s.Anomaly.Latest, fmt.Sprintf("%.2f", row.s.Anomaly.ZScore), row.s.Anomalous,
		})
	}
	tw.Render()
}

func negotiationCmd() *cobra.Command {
	n := &cobra.Command{Use: "negotiation", Short: "Inspect negotiations"}
	n.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a negotiation with offers, escrow and signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer := auth.System("dealctl")
			if actor := strings.TrimSpace(viper.GetString("actor-id")); actor != "" {
				viewer = auth.Viewer{ID: actor}
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				v, err := c.Engine.GetNegotiationWithAccess(ctx, args[0], viewer)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s  %s  listing=%s buyer=%s seller=%s tier=%s v%d\n",
					v.ID, v.Status, v.ListingID, v.BuyerID, v.SellerID, v.PremiumTier, v.Version)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Author", "Price", "Qty", "Total", "At"})
				for _, o := range v.Offers {
					tw.AppendRow(table.Row{o.Seq, o.AuthorID, o.Price.StringFixed(2), o.Quantity, o.Total().StringFixed(2), o.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				if esc := v.Escrow; esc != nil {
					fmt.Printf("escrow %s / %s %s funded (%.0f%%)\n", esc.FundedAmount.StringFixed(2), esc.ExpectedAmount.StringFixed(2), v.Currency, v.FundedRatio*100)
				}
				for _, s := range v.Signatures {
					fmt.Printf("signed by %s (%s) at %s\n", s.ParticipantID, s.Role, s.SignedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	})
	return n
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Contract text tools"}
	c.AddCommand(&cobra.Command{
		Use:   "diff <base-file> <target-file>",
		Short: "Clause-level diff of two contract texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			target, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			segs := contract.ComputeClauseDiff(string(base), string(target))
			summary := contract.SummarizeClauseDiff(segs)
			fp := contract.BuildDiffFingerprint(segs)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"segments": segs, "summary": summary, "fingerprint": fp})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Change", "Kind", "Base", "Target"})
			for _, s := range segs {
				if s.Type == contract.SegmentUnchanged {
					continue
				}
				tw.AppendRow(table.Row{s.Index, s.Type, s.Kind, clip(s.Base), clip(s.Target)})
			}
			tw.AppendFooter(table.Row{"", fmt.Sprintf("+%d -%d ~%d", summary.Added, summary.Removed, summary.Modified), "", "", fp})
			tw.Render()
			return nil
		},
	})
	return c
}

func clip(s string) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return string(r)
}
