package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/config"
	"github.com/abhisek/cadence/internal/engine"
	"github.com/abhisek/cadence/internal/logger"
	"github.com/abhisek/cadence/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Spaced review, streaks and challenge rankings",
	Long: "Cadence schedules vocabulary reviews, tracks consecutive-day streaks with makeup days, " +
		"computes rewards and ranks challenge participants.",
	SilenceUsage: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides CADENCE_DB env var)")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringP("user", "u", "me", "User the command acts for")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(streakCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(rewardCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file named by --config plus the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(config.NewViper(), file)
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then the configured path, then CADENCE_DB and the default XDG path.
func resolveDBPath(cmd *cobra.Command, cfg config.Config) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg.DB != "" {
		return cfg.DB, store.EnsureDir(cfg.DB)
	}
	return store.DefaultDBPath()
}

func userFlag(cmd *cobra.Command) string {
	u, _ := cmd.Flags().GetString("user")
	return u
}

// withEngine opens the store, builds the engine and runs fn. Everything
// opened here is released when fn returns.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	dbPath, err := resolveDBPath(cmd, cfg)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	locker, closeLocker, err := engine.NewLocker(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect lock backend: %w", err)
	}
	defer closeLocker()

	return fn(ctx, engine.New(st, cfg, locker, nil, log))
}
