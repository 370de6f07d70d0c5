//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for hotdog-etl.
// Configuration is loaded from config files, HOTDOG_<SECTION>_<KEY> and
// MSSQL_* environment variables, and CLI flags. CLI flags take precedence
// over everything else.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Logical database names.
const (
	DBCyrg2025   = "cyrg2025"
	DBCyrgWeixin = "cyrgweixin"
	DBWarehouse  = "hotdog2030"
)

// Isolation modes for the executor.
const (
	IsolationProcess = "process"
	IsolationInProc  = "inproc"
)

// Config holds all configuration for hotdog-etl.
type Config struct {
	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Connection holds the shared server settings for all logical databases.
	Connection ConnectionConfig `mapstructure:"connection"`

	// Databases maps the three logical databases to physical ones.
	Databases DatabasesConfig `mapstructure:"databases"`

	// Pipeline holds executor settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Analytics holds thresholds for the analytical steps.
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// ConnectionConfig describes the database server. Host, port, user and
// password come from MSSQL_HOST, MSSQL_PORT, MSSQL_USER and MSSQL_PASS.
type ConnectionConfig struct {
	// Driver is the database/sql driver name: sqlserver or pgx.
	Driver string `mapstructure:"driver"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// ConnectTimeout is the connection timeout in seconds.
	ConnectTimeout int `mapstructure:"connect_timeout"`
}

// DatabaseConfig maps one logical database.
type DatabaseConfig struct {
	// Name is the physical database name.
	Name string `mapstructure:"name"`

	// Driver overrides Connection.Driver for this database.
	Driver string `mapstructure:"driver"`

	// DSN overrides the DSN built from Connection.
	DSN string `mapstructure:"dsn"`
}

// DatabasesConfig holds the three logical databases.
type DatabasesConfig struct {
	Cyrg2025   DatabaseConfig `mapstructure:"cyrg2025"`
	CyrgWeixin DatabaseConfig `mapstructure:"cyrgweixin"`
	Warehouse  DatabaseConfig `mapstructure:"warehouse"`
}

// PipelineConfig holds executor configuration.
type PipelineConfig struct {
	// Steps is the ordered list of step IDs to run. Empty means the default plan.
	Steps []string `mapstructure:"steps"`

	// Isolation is process (re-exec per step) or inproc (supervised goroutine).
	Isolation string `mapstructure:"isolation"`

	// StepTimeout is the wall-clock budget per step in seconds.
	StepTimeout int `mapstructure:"step_timeout"`

	// StepInterval is the pause between steps in seconds.
	StepInterval int `mapstructure:"step_interval"`

	// FailOnError makes the run exit non-zero when any step fails.
	FailOnError bool `mapstructure:"fail_on_error"`

	// Bootstrap runs the schema bootstrapper before the first step.
	Bootstrap bool `mapstructure:"bootstrap"`
}

// AnalyticsConfig holds thresholds used by steps 07 to 11.
type AnalyticsConfig struct {
	// Horizon is the number of days forecast per store.
	Horizon int `mapstructure:"horizon"`

	// MinHistoryDays is the minimum number of daily rows a store needs
	// before it is forecast.
	MinHistoryDays int `mapstructure:"min_history_days"`

	// ForecastModel is auto, gbrt or hist.
	ForecastModel string `mapstructure:"forecast_model"`

	// RevenueFloor is the minimum daily revenue evaluated for alerts.
	RevenueFloor float64 `mapstructure:"revenue_floor"`

	// WowThreshold is the week-over-week revenue change that raises WOW_DROP.
	WowThreshold float64 `mapstructure:"wow_threshold"`

	// GMThreshold is the gross margin at or below which GROSS_LOW is raised.
	GMThreshold float64 `mapstructure:"gm_threshold"`

	// NetinThreshold is the week-over-week net receipt change that raises NETIN_DROP.
	NetinThreshold float64 `mapstructure:"netin_threshold"`

	// AlertLookbackDays limits alert evaluation to recent dates (0 = all).
	AlertLookbackDays int `mapstructure:"alert_lookback_days"`

	// RFMWindowMonths is the order window for RFM segmentation.
	RFMWindowMonths int `mapstructure:"rfm_window_months"`

	// SiteVariant selects the site scoring step run by the pipeline:
	// baseline (09) or gravity (09b).
	SiteVariant string `mapstructure:"site_variant"`

	// SiteScoreMode is the write mode for fact_site_score: replace or append.
	SiteScoreMode string `mapstructure:"site_score_mode"`

	// SiteMatchScope is the store set behind the gravity match term:
	// global (all stores) or city (stores in the candidate's city).
	SiteMatchScope string `mapstructure:"site_match_scope"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Connection: ConnectionConfig{
			Driver:         "sqlserver",
			Host:           "localhost",
			Port:           1433,
			ConnectTimeout: 30,
		},
		Databases: DatabasesConfig{
			Cyrg2025:   DatabaseConfig{Name: DBCyrg2025},
			CyrgWeixin: DatabaseConfig{Name: DBCyrgWeixin},
			Warehouse:  DatabaseConfig{Name: DBWarehouse},
		},
		Pipeline: PipelineConfig{
			Isolation:    IsolationProcess,
			StepTimeout:  300,
			StepInterval: 2,
			FailOnError:  false,
			Bootstrap:    true,
		},
		Analytics: AnalyticsConfig{
			Horizon:           7,
			MinHistoryDays:    30,
			ForecastModel:     "auto",
			RevenueFloor:      1000,
			WowThreshold:      -0.2,
			GMThreshold:       0.45,
			NetinThreshold:    -0.25,
			AlertLookbackDays: 0,
			RFMWindowMonths:   12,
			SiteVariant:       "gravity",
			SiteScoreMode:     "replace",
			SiteMatchScope:    "global",
		},
	}
}

// Load reads configuration from config files and the environment.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./hotdog-etl.yaml
// 3. ~/.config/hotdog-etl/config.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("hotdog-etl")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "hotdog-etl"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Environment: HOTDOG_PIPELINE_STEP_TIMEOUT etc., plus the MSSQL_* names
	// used by the operational scripts.
	v.SetEnvPrefix("HOTDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	setDefaults(v, "", reflect.ValueOf(DefaultConfig()).Elem())

	envBindings := map[string]string{
		"connection.host":     "MSSQL_HOST",
		"connection.port":     "MSSQL_PORT",
		"connection.user":     "MSSQL_USER",
		"connection.password": "MSSQL_PASS",
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every mapstructure key of a struct under prefix.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f := val.Field(i); f.Kind() == reflect.Struct {
			setDefaults(v, key, f)
		} else {
			v.SetDefault(key, f.Interface())
		}
	}
}

// Database returns the mapping for a logical database name.
func (c *Config) Database(name string) (DatabaseConfig, error) {
	var d DatabaseConfig
	switch name {
	case DBCyrg2025:
		d = c.Databases.Cyrg2025
	case DBCyrgWeixin:
		d = c.Databases.CyrgWeixin
	case DBWarehouse:
		d = c.Databases.Warehouse
	default:
		return DatabaseConfig{}, fmt.Errorf("unknown database: %s", name)
	}
	if d.Name == "" {
		d.Name = name
	}
	if d.Driver == "" {
		d.Driver = c.Connection.Driver
	}
	return d, nil
}

// ConnectTimeout returns the connection timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	if c.Connection.ConnectTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Connection.ConnectTimeout) * time.Second
}

// StepTimeout returns the per-step timeout as a duration.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Pipeline.StepTimeout) * time.Second
}

// StepInterval returns the pause between steps as a duration.
func (c *Config) StepInterval() time.Duration {
	return time.Duration(c.Pipeline.StepInterval) * time.Second
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	for _, name := range []string{DBCyrg2025, DBCyrgWeixin, DBWarehouse} {
		d, err := c.Database(name)
		if err != nil {
			return err
		}
		if d.DSN != "" {
			continue
		}
		if d.Driver != "sqlserver" && d.Driver != "pgx" {
			return fmt.Errorf("database %s: driver must be 'sqlserver' or 'pgx'", name)
		}
		if c.Connection.Host == "" {
			return fmt.Errorf("database %s: host is required (set MSSQL_HOST)", name)
		}
		if c.Connection.Port < 1 || c.Connection.Port > 65535 {
			return fmt.Errorf("database %s: port must be between 1 and 65535", name)
		}
	}
	return nil
}

// ValidateRun checks configuration required for pipeline runs.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Isolation != IsolationProcess && c.Pipeline.Isolation != IsolationInProc {
		return fmt.Errorf("isolation must be 'process' or 'inproc'")
	}
	if c.Pipeline.StepTimeout < 1 {
		return fmt.Errorf("step_timeout must be at least 1 second")
	}
	if c.Pipeline.StepInterval < 0 {
		return fmt.Errorf("step_interval must be non-negative")
	}
	return c.ValidateAnalytics()
}

// ValidateAnalytics checks the analytical thresholds.
func (c *Config) ValidateAnalytics() error {
	a := c.Analytics
	if a.Horizon < 1 {
		return fmt.Errorf("horizon must be at least 1")
	}
	if a.MinHistoryDays < 1 {
		return fmt.Errorf("min_history_days must be at least 1")
	}
	if a.RFMWindowMonths < 1 {
		return fmt.Errorf("rfm_window_months must be at least 1")
	}
	if a.WowThreshold >= 0 || a.NetinThreshold >= 0 {
		return fmt.Errorf("wow_threshold and netin_threshold must be negative")
	}
	if a.GMThreshold <= 0 || a.GMThreshold >= 1 {
		return fmt.Errorf("gm_threshold must be between 0 and 1")
	}
	switch a.ForecastModel {
	case "auto", "gbrt", "hist":
	default:
		return fmt.Errorf("forecast_model must be 'auto', 'gbrt' or 'hist'")
	}
	if a.SiteVariant != "baseline" && a.SiteVariant != "gravity" {
		return fmt.Errorf("site_variant must be 'baseline' or 'gravity'")
	}
	if a.SiteScoreMode != "replace" && a.SiteScoreMode != "append" {
		return fmt.Errorf("site_score_mode must be 'replace' or 'append'")
	}
	if a.SiteMatchScope != "global" && a.SiteMatchScope != "city" {
		return fmt.Errorf("site_match_scope must be 'global' or 'city'")
	}
	return nil
}
