package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/abhisek/cadence/internal/retry"
	"github.com/abhisek/cadence/internal/rewards"
)

// EnvPrefix is prepended to every environment variable, e.g. CADENCE_DB.
const EnvPrefix = "CADENCE"

// Config holds all runtime configuration.
type Config struct {
	// DB is the SQLite database path. Empty selects the default XDG path.
	DB string

	// LogMode selects the log encoder: "dev" or "prod".
	LogMode string

	// Location is the time zone in which calendar days are counted.
	Location *time.Location

	Redis       RedisConfig
	Retry       retry.Config
	Reward      rewards.Policy
	Practice    PracticeConfig
	Challenge   ChallengeConfig
	Leaderboard LeaderboardConfig
}

// RedisConfig enables the shared Redis lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	LockTTL  time.Duration
}

// PracticeConfig configures the study-day series fed by vocabulary practice.
type PracticeConfig struct {
	SeriesID   string
	BaseReward int
}

// ChallengeConfig holds defaults for newly created challenges.
type ChallengeConfig struct {
	AllowEmptyCompletion bool
}

// LeaderboardConfig configures the periodic ranking job.
type LeaderboardConfig struct {
	Interval    time.Duration
	Concurrency int
}

// setDefaults registers the default value of every key.
func setDefaults(v *viper.Viper) {
	def := retry.DefaultConfig()
	pol := rewards.DefaultPolicy()

	v.SetDefault("db", "")
	v.SetDefault("log.mode", "dev")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.lock_ttl", 10*time.Second)

	v.SetDefault("retry.max_attempts", def.MaxAttempts)
	v.SetDefault("retry.initial_wait", def.InitialWait)
	v.SetDefault("retry.max_wait", def.MaxWait)
	v.SetDefault("retry.multiplier", def.Multiplier)

	v.SetDefault("reward.streak_unit", pol.StreakUnit)
	v.SetDefault("reward.streak_cap", pol.StreakCap)
	v.SetDefault("reward.engagement_divisor", pol.EngagementDivisor)
	v.SetDefault("reward.engagement_cap", pol.EngagementCap)

	v.SetDefault("practice.series_id", "study")
	v.SetDefault("practice.base_reward", 1)

	v.SetDefault("challenge.allow_empty_completion", false)

	v.SetDefault("leaderboard.interval", 5*time.Minute)
	v.SetDefault("leaderboard.concurrency", 4)
}

// NewViper returns a viper instance wired to defaults and CADENCE_*
// environment variables. Nested keys map to underscores:
// retry.max_attempts <- CADENCE_RETRY_MAX_ATTEMPTS.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), the optional config file and the
// environment, in increasing priority.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes a Config from v and validates it.
func FromViper(v *viper.Viper) (Config, error) {
	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return Config{}, fmt.Errorf("timezone %q: %w", v.GetString("timezone"), err)
	}

	cfg := Config{
		DB:       v.GetString("db"),
		LogMode:  v.GetString("log.mode"),
		Location: loc,
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Retry: retry.Config{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			InitialWait: v.GetDuration("retry.initial_wait"),
			MaxWait:     v.GetDuration("retry.max_wait"),
			Multiplier:  v.GetFloat64("retry.multiplier"),
		},
		Reward: rewards.Policy{
			StreakUnit:        v.GetInt("reward.streak_unit"),
			StreakCap:         v.GetInt("reward.streak_cap"),
			EngagementDivisor: v.GetInt("reward.engagement_divisor"),
			EngagementCap:     v.GetInt("reward.engagement_cap"),
		},
		Practice: PracticeConfig{
			SeriesID:   v.GetString("practice.series_id"),
			BaseReward: v.GetInt("practice.base_reward"),
		},
		Challenge: ChallengeConfig{
			AllowEmptyCompletion: v.GetBool("challenge.allow_empty_completion"),
		},
		Leaderboard: LeaderboardConfig{
			Interval:    v.GetDuration("leaderboard.interval"),
			Concurrency: v.GetInt("leaderboard.concurrency"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if err := c.Reward.Validate(); err != nil {
		return err
	}
	if c.Practice.SeriesID == "" {
		return fmt.Errorf("practice.series_id must not be empty")
	}
	if c.Leaderboard.Interval <= 0 {
		return fmt.Errorf("leaderboard.interval must be positive, got %s", c.Leaderboard.Interval)
	}
	if c.Leaderboard.Concurrency < 1 {
		return fmt.Errorf("leaderboard.concurrency must be >= 1, got %d", c.Leaderboard.Concurrency)
	}
	return nil
}
