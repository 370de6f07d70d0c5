package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	// Connection defaults
	if cfg.Connection.Driver != "sqlserver" {
		t.Errorf("Expected Connection.Driver 'sqlserver', got '%s'", cfg.Connection.Driver)
	}
	if cfg.Connection.Port != 1433 {
		t.Errorf("Expected Connection.Port 1433, got %d", cfg.Connection.Port)
	}
	if cfg.ConnectTimeout() != 30*time.Second {
		t.Errorf("Expected ConnectTimeout 30s, got %v", cfg.ConnectTimeout())
	}

	// Pipeline defaults
	if cfg.Pipeline.Isolation != IsolationProcess {
		t.Errorf("Expected Pipeline.Isolation 'process', got '%s'", cfg.Pipeline.Isolation)
	}
	if cfg.StepTimeout() != 300*time.Second {
		t.Errorf("Expected StepTimeout 300s, got %v", cfg.StepTimeout())
	}
	if cfg.StepInterval() != 2*time.Second {
		t.Errorf("Expected StepInterval 2s, got %v", cfg.StepInterval())
	}
	if cfg.Pipeline.FailOnError {
		t.Error("Expected Pipeline.FailOnError false")
	}

	// Analytics defaults
	a := cfg.Analytics
	if a.Horizon != 7 {
		t.Errorf("Expected Analytics.Horizon 7, got %d", a.Horizon)
	}
	if a.RevenueFloor != 1000 {
		t.Errorf("Expected Analytics.RevenueFloor 1000, got %v", a.RevenueFloor)
	}
	if a.WowThreshold != -0.2 {
		t.Errorf("Expected Analytics.WowThreshold -0.2, got %v", a.WowThreshold)
	}
	if a.GMThreshold != 0.45 {
		t.Errorf("Expected Analytics.GMThreshold 0.45, got %v", a.GMThreshold)
	}
	if a.NetinThreshold != -0.25 {
		t.Errorf("Expected Analytics.NetinThreshold -0.25, got %v", a.NetinThreshold)
	}
	if a.RFMWindowMonths != 12 {
		t.Errorf("Expected Analytics.RFMWindowMonths 12, got %d", a.RFMWindowMonths)
	}
}

func TestDatabaseMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Databases.Warehouse = DatabaseConfig{Name: "hotdog2030_mirror", Driver: "pgx"}

	d, err := cfg.Database(DBCyrg2025)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Name != "cyrg2025" || d.Driver != "sqlserver" {
		t.Errorf("Unexpected cyrg2025 mapping: %+v", d)
	}

	d, err = cfg.Database(DBWarehouse)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Name != "hotdog2030_mirror" || d.Driver != "pgx" {
		t.Errorf("Unexpected warehouse mapping: %+v", d)
	}

	if _, err := cfg.Database("nope"); err == nil {
		t.Error("Expected error for unknown database, got nil")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{
			name:      "defaults",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "missing host",
			mutate:    func(c *Config) { c.Connection.Host = "" },
			wantError: true,
		},
		{
			name:      "bad port",
			mutate:    func(c *Config) { c.Connection.Port = 0 },
			wantError: true,
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Connection.Driver = "mysql" },
			wantError: true,
		},
		{
			name: "explicit dsn skips host checks",
			mutate: func(c *Config) {
				c.Connection.Host = ""
				c.Databases.Cyrg2025.DSN = "sqlserver://a"
				c.Databases.CyrgWeixin.DSN = "sqlserver://b"
				c.Databases.Warehouse.DSN = "postgres://c"
			},
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestConfigValidateRun(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"inproc isolation", func(c *Config) { c.Pipeline.Isolation = IsolationInProc }, false},
		{"unknown isolation", func(c *Config) { c.Pipeline.Isolation = "thread" }, true},
		{"zero timeout", func(c *Config) { c.Pipeline.StepTimeout = 0 }, true},
		{"negative interval", func(c *Config) { c.Pipeline.StepInterval = -1 }, true},
		{"zero horizon", func(c *Config) { c.Analytics.Horizon = 0 }, true},
		{"positive wow threshold", func(c *Config) { c.Analytics.WowThreshold = 0.2 }, true},
		{"gm threshold out of range", func(c *Config) { c.Analytics.GMThreshold = 1.5 }, true},
		{"unknown forecast model", func(c *Config) { c.Analytics.ForecastModel = "prophet" }, true},
		{"baseline site variant", func(c *Config) { c.Analytics.SiteVariant = "baseline" }, false},
		{"unknown site variant", func(c *Config) { c.Analytics.SiteVariant = "huff" }, true},
		{"append site mode", func(c *Config) { c.Analytics.SiteScoreMode = "append" }, false},
		{"unknown site mode", func(c *Config) { c.Analytics.SiteScoreMode = "upsert" }, true},
		{"city match scope", func(c *Config) { c.Analytics.SiteMatchScope = "city" }, false},
		{"unknown match scope", func(c *Config) { c.Analytics.SiteMatchScope = "district" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.ValidateRun()
			if tt.wantError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "hotdog-etl.yaml")

	configContent := `
log_level: "debug"

connection:
  host: "rds.example.internal"
  port: 3433
  user: "etl"
  connect_timeout: 10

databases:
  warehouse:
    name: "hotdog2030_mirror"
    driver: "pgx"

pipeline:
  steps: ["01", "02", "07"]
  isolation: "inproc"
  step_timeout: 120
  step_interval: 0
  fail_on_error: true

analytics:
  horizon: 14
  revenue_floor: 500
  site_variant: "baseline"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel mismatch: %s", cfg.LogLevel)
	}
	if cfg.Connection.Port != 3433 {
		t.Errorf("Connection.Port mismatch: %d", cfg.Connection.Port)
	}
	if cfg.Connection.ConnectTimeout != 10 {
		t.Errorf("Connection.ConnectTimeout mismatch: %d", cfg.Connection.ConnectTimeout)
	}
	if cfg.Databases.Warehouse.Driver != "pgx" {
		t.Errorf("Databases.Warehouse.Driver mismatch: %s", cfg.Databases.Warehouse.Driver)
	}
	if len(cfg.Pipeline.Steps) != 3 || cfg.Pipeline.Steps[2] != "07" {
		t.Errorf("Pipeline.Steps mismatch: %v", cfg.Pipeline.Steps)
	}
	if cfg.Pipeline.Isolation != IsolationInProc {
		t.Errorf("Pipeline.Isolation mismatch: %s", cfg.Pipeline.Isolation)
	}
	if !cfg.Pipeline.FailOnError {
		t.Error("Pipeline.FailOnError mismatch")
	}
	if cfg.Analytics.Horizon != 14 {
		t.Errorf("Analytics.Horizon mismatch: %d", cfg.Analytics.Horizon)
	}
	if cfg.Analytics.RevenueFloor != 500 {
		t.Errorf("Analytics.RevenueFloor mismatch: %v", cfg.Analytics.RevenueFloor)
	}
	// Unset keys keep their defaults
	if cfg.Analytics.GMThreshold != 0.45 {
		t.Errorf("Analytics.GMThreshold should keep default, got %v", cfg.Analytics.GMThreshold)
	}
	if cfg.Databases.Cyrg2025.Name != DBCyrg2025 {
		t.Errorf("Databases.Cyrg2025.Name should keep default, got %s", cfg.Databases.Cyrg2025.Name)
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("MSSQL_HOST", "rm-warehouse.sqlserver.rds.example.com")
	t.Setenv("MSSQL_PORT", "14330")
	t.Setenv("MSSQL_USER", "hotdog")
	t.Setenv("MSSQL_PASS", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Connection.Host != "rm-warehouse.sqlserver.rds.example.com" {
		t.Errorf("Connection.Host mismatch: %s", cfg.Connection.Host)
	}
	if cfg.Connection.Port != 14330 {
		t.Errorf("Connection.Port mismatch: %d", cfg.Connection.Port)
	}
	if cfg.Connection.User != "hotdog" {
		t.Errorf("Connection.User mismatch: %s", cfg.Connection.User)
	}
	if cfg.Connection.Password != "s3cret" {
		t.Error("Connection.Password was not taken from MSSQL_PASS")
	}
}

func TestLoadConfigPrefixedEnvironment(t *testing.T) {
	t.Setenv("HOTDOG_ANALYTICS_HORIZON", "3")
	t.Setenv("HOTDOG_ANALYTICS_WOW_THRESHOLD", "-0.3")
	t.Setenv("HOTDOG_PIPELINE_STEP_TIMEOUT", "42")
	t.Setenv("HOTDOG_PIPELINE_FAIL_ON_ERROR", "true")
	t.Setenv("HOTDOG_DATABASES_WAREHOUSE_DRIVER", "pgx")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Analytics.Horizon != 3 {
		t.Errorf("Expected horizon 3, got %d", cfg.Analytics.Horizon)
	}
	if cfg.Analytics.WowThreshold != -0.3 {
		t.Errorf("Expected wow_threshold -0.3, got %v", cfg.Analytics.WowThreshold)
	}
	if cfg.Pipeline.StepTimeout != 42 {
		t.Errorf("Expected step_timeout 42, got %d", cfg.Pipeline.StepTimeout)
	}
	if !cfg.Pipeline.FailOnError {
		t.Error("Expected fail_on_error from the environment")
	}
	if cfg.Databases.Warehouse.Driver != "pgx" {
		t.Errorf("Expected warehouse driver pgx, got %q", cfg.Databases.Warehouse.Driver)
	}

	// Untouched keys keep their defaults
	if cfg.Analytics.MinHistoryDays != 30 {
		t.Errorf("Expected min_history_days 30, got %d", cfg.Analytics.MinHistoryDays)
	}
	if cfg.Databases.Warehouse.Name != DBWarehouse {
		t.Errorf("Expected warehouse name %s, got %s", DBWarehouse, cfg.Databases.Warehouse.Name)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load should error when specified config file doesn't exist")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
connection: [invalid yaml
  that: won't parse
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}
