package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestLoadMergesEnvironmentFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
service_name: timetrack
db:
  host: db.internal
  port: 5432
  user: app
  password: ${DB_SECRET}
  name: timetrack
analytics:
  weekly_goal_hours: 40
  cache_ttl: 5m
`)
	writeFile(t, dir, "local.yaml", `
db:
  host: localhost
analytics:
  weekly_goal_hours: 37.5
`)
	writeFile(t, dir, "secrets.env", "# local secrets\nDB_SECRET='s3cret'\n")

	cfg, err := Load("local", dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DB.Host != "localhost" {
		t.Errorf("Expected db host 'localhost', got '%s'", cfg.DB.Host)
	}
	if cfg.DB.User != "app" {
		t.Errorf("Expected db user 'app' from base.yaml, got '%s'", cfg.DB.User)
	}
	if cfg.DB.Password != "s3cret" {
		t.Errorf("Expected password substituted from secrets.env, got '%s'", cfg.DB.Password)
	}
	if cfg.Analytics.WeeklyGoalHours != 37.5 {
		t.Errorf("Expected weekly goal 37.5, got %v", cfg.Analytics.WeeklyGoalHours)
	}
	if cfg.Analytics.CacheTTL != 5*time.Minute {
		t.Errorf("Expected cache ttl 5m, got %v", cfg.Analytics.CacheTTL)
	}
	if cfg.Server.Port != ":8080" {
		t.Errorf("Expected default server port ':8080', got '%s'", cfg.Server.Port)
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: db.internal\n  port: 5432\n")

	t.Setenv("DB_HOST", "pg.prod")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("WEEKLY_GOAL_HOURS", "32")

	cfg, err := Load("production", dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DB.Host != "pg.prod" {
		t.Errorf("Expected db host 'pg.prod', got '%s'", cfg.DB.Host)
	}
	if cfg.DB.Port != 6543 {
		t.Errorf("Expected db port 6543, got %d", cfg.DB.Port)
	}
	if cfg.Analytics.WeeklyGoalHours != 32 {
		t.Errorf("Expected weekly goal 32, got %v", cfg.Analytics.WeeklyGoalHours)
	}
}

func TestLoadMissingBaseFails(t *testing.T) {
	if _, err := Load("local", t.TempDir()); err == nil {
		t.Error("Expected error when base.yaml is missing")
	}
}

func TestAnalyticsLocationFallsBackToUTC(t *testing.T) {
	cfg := AnalyticsConfig{Timezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC fallback, got %v", cfg.Location())
	}
}
