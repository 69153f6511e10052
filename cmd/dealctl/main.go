package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealdesk/internal/app"
	"dealdesk/internal/config"
	"dealdesk/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dealctl",
	Short: "Dealdesk marketplace negotiation service",
	Long: `dealctl runs and operates the dealdesk negotiation service.
- Negotiations move CREATED -> COUNTERED -> ACCEPTED -> ESCROW_FUNDED -> ESCROW_RELEASED -> COMPLETED; cancel and refund are exits.
- Escrow release and refund need approval from both buyer and seller.
- Contract revisions are diffed clause by clause; comments anchor to a clause of a revision.
- E-sign provider callbacks land on POST /v1/webhooks/esign and are deduplicated per outcome.
- Background jobs (premium-metrics, escrow-reconcile) run on an interval or via 'dealctl jobs run'.`,
	SilenceUsage: true,
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DEALDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding dealdesk.yml and the database")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, console)")
	rootCmd.PersistentFlags().String("actor-id", "", "view negotiations as this actor instead of as an operator")
	for _, name := range []string{"workspace", "json", "log-level", "log-format", "actor-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(negotiationCmd())
	rootCmd.AddCommand(contractCmd())
}

// loadConfig reads the workspace config and applies DEALDESK_* and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	overrides := []struct {
		key string
		dst *string
	}{
		{"addr", &cfg.Server.Addr},
		{"base-path", &cfg.Server.BasePath},
		{"jwt-secret", &cfg.Server.JWTSecret},
		{"esign-secret", &cfg.Webhooks.ESign.Secret},
		{"nats-url", &cfg.Events.NATSURL},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(viper.GetString(o.key)); v != "" {
			*o.dst = v
		}
	}
	if viper.IsSet("allow-actor-header") {
		cfg.Server.AllowActorHeader = viper.GetBool("allow-actor-header")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log, os.Stderr)
}

// withApp opens a fully wired application context for one command.
func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := app.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
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
