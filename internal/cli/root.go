package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"timetrack/migrations"
	"timetrack/pkg/config"
	"timetrack/pkg/db"
	"timetrack/pkg/logger"
	"timetrack/pkg/mq"
	"timetrack/pkg/outbox"
	"timetrack/pkg/util"
)

var (
	configEnv string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "timetrackctl",
	Short: "Operational tooling for the timetrack service",
	Long: `timetrackctl applies schema migrations, issues development tokens and
replays outbox events that failed to reach RabbitMQ.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL schema",
	RunE: withDB(func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, _ *config.Config, log *zap.Logger) error {
		if err := migrations.Apply(ctx, pool, log); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed JWT for a user (development only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configEnv, configDir)
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetInt("user-id")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return issueToken(cmd, cfg.JWT.Secret, userID, ttl)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish outbox events (one by --id, or all failed ones)",
	RunE: withDB(func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) error {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to MQ: %w", err)
		}
		defer publisher.Close()

		replay := outbox.NewReplayService(outbox.NewRepository(pool), publisher, log)
		if id, _ := cmd.Flags().GetInt64("id"); id > 0 {
			if err := replay.ReplayEvent(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event %d replayed\n", id)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		n, err := replay.ReplayFailedEvents(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d failed events replayed\n", n)
		return nil
	}),
}

func issueToken(cmd *cobra.Command, secret string, userID int, ttl time.Duration) error {
	if userID <= 0 {
		return fmt.Errorf("--user-id is required")
	}
	if secret == "" {
		return fmt.Errorf("jwt secret is not configured")
	}
	token, err := util.GenerateJWT(userID, secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// withDB 加载配置并打开连接池后执行 fn
func withDB(fn func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configEnv, configDir)
		if err != nil {
			return err
		}
		log := logger.NewLogger(configEnv == "local")
		defer log.Sync()

		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(cmd.Context(), cmd, pool, cfg, log)
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", config.GetConfigEnv(), "config environment (base.yaml + <env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.GetEnv("CONFIG_DIR", "config"), "directory holding the yaml config")

	tokenCmd.Flags().Int("user-id", 0, "profile id to embed in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	replayCmd.Flags().Int64("id", 0, "outbox event id to replay")
	replayCmd.Flags().Int("limit", 100, "max failed events to replay when --id is not set")

	outboxCmd := &cobra.Command{Use: "outbox", Short: "Outbox maintenance"}
	outboxCmd.AddCommand(replayCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(outboxCmd)
}
