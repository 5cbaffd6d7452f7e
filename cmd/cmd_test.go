package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, db string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--db", db}, args...))
	err := rootCmd.Execute()
	require.NoError(t, err, "cadence %v: %s", args, out.String())
	return out.String()
}

func TestCLI_ReviewFlow(t *testing.T) {
	t.Setenv("CADENCE_LOG_MODE", "prod")
	db := filepath.Join(t.TempDir(), "cadence.db")

	assert.Contains(t, run(t, db, "review", "add", "-u", "amy", "apple", "pear"), "Added pear")
	assert.Contains(t, run(t, db, "review", "due", "-u", "amy"), "2 due")

	out := run(t, db, "review", "attempt", "-u", "amy", "apple", "--correct", "--time", "30s")
	assert.Contains(t, out, "next review in 3 day(s)")
	assert.Contains(t, out, "Study streak: 1 day(s)")

	assert.Contains(t, run(t, db, "review", "due", "-u", "amy"), "1 due")
	assert.Contains(t, run(t, db, "review", "expert", "-u", "amy", "pear"), "marked expert")
	assert.Contains(t, run(t, db, "review", "due", "-u", "amy"), "Nothing due.")

	list := run(t, db, "review", "list", "-u", "amy")
	assert.Regexp(t, `apple\s+.*\s+3\s+not_due\s+3d`, list)
	assert.Regexp(t, `pear\s+.*\s+retired\s+-`, list)

	stats := run(t, db, "review", "stats", "-u", "amy")
	assert.Contains(t, stats, "Items:        2")
	assert.Contains(t, stats, "apple")
}

func TestCLI_ChallengeFlow(t *testing.T) {
	t.Setenv("CADENCE_LOG_MODE", "prod")
	db := filepath.Join(t.TempDir(), "cadence.db")

	run(t, db, "challenge", "create", "--id", "spring", "--title", "Spring sprint")
	run(t, db, "challenge", "join", "spring", "-u", "amy")
	run(t, db, "challenge", "join", "spring", "-u", "bob")
	run(t, db, "challenge", "progress", "spring", "40", "-u", "amy")
	run(t, db, "challenge", "progress", "spring", "55", "-u", "bob")

	board := run(t, db, "challenge", "leaderboard", "spring")
	assert.Regexp(t, `1\s+bob\s+55`, board)
	assert.Regexp(t, `2\s+amy\s+40`, board)

	assert.Contains(t, run(t, db, "rank", "run"), "Ranked 2 participant(s) across 1 challenge(s)")
	assert.Contains(t, run(t, db, "challenge", "complete", "spring", "-u", "amy"), "best score 40")
	assert.Contains(t, run(t, db, "challenge", "stats", "spring"), "1 completed")
}

func TestCLI_Reward(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cadence.db")
	out := run(t, db, "reward", "--base", "10", "--streak", "30", "--engagement", "500")
	assert.Contains(t, out, "80\n")
}

func TestCLI_StreakLeaderboard(t *testing.T) {
	t.Setenv("CADENCE_LOG_MODE", "prod")
	db := filepath.Join(t.TempDir(), "cadence.db")

	run(t, db, "streak", "series", "daily", "--title", "Daily", "--base-reward", "5")
	assert.Contains(t, run(t, db, "streak", "checkin", "daily", "-u", "amy", "--engagement", "100"), "streak 1 day(s)")
	run(t, db, "streak", "checkin", "daily", "-u", "bob", "--engagement", "0")

	board := run(t, db, "streak", "leaderboard", "daily", "--metric", "points")
	assert.Regexp(t, `1\s+amy\s+17`, board)
	assert.Regexp(t, `2\s+bob\s+7`, board)
}
