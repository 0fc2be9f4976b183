package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix used for environment overrides of the analysis section.
const EnvPrefix = "EQUIPVIZ"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Analysis    AnalysisConfig            `json:"analysis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Worker pool sizing for analysis jobs.
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout_minutes"`
	// Pipeline timeout; a record still pending after this is marked failed.
	AnalysisTimeout int `json:"analysis_timeout_seconds"`
	// Sweeper cadence and how long failed records are kept around.
	SweepInterval          int   `json:"sweep_interval_minutes"`
	FailedRetentionMinutes int   `json:"failed_retention_minutes"`
	MaxUploadBytes         int64 `json:"max_upload_bytes"`
	TokenTTLHours          int   `json:"token_ttl_hours"`
	ReportCacheMinutes     int   `json:"report_cache_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AnalysisConfig carries the pipeline knobs. RoleAliases maps a role name
// (equipment_type, flowrate, ...) to its ordered alias list; roles missing
// from the map keep their built-in aliases.
type AnalysisConfig struct {
	RetentionLimit            int                 `json:"retention_limit" envconfig:"RETENTION_LIMIT" validate:"min=1"`
	NumericDetectionThreshold float64             `json:"numeric_detection_threshold" envconfig:"NUMERIC_DETECTION_THRESHOLD" validate:"gt=0,lte=1"`
	RoleAliases               map[string][]string `json:"equipment_role_aliases" ignored:"true"`
}

const (
	DefaultRetentionLimit            = 5
	DefaultNumericDetectionThreshold = 0.90
)

// Default returns a configuration usable without a config file: a local
// sqlite file, redis disabled and built-in analysis defaults.
func Default() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "equipviz.db"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	// Relative sqlite paths are resolved next to the config file.
	for name, db := range cfg.Databases {
		if !isSQLite(name) || db.DSN == "" || strings.HasPrefix(db.DSN, "file:") || db.DSN == ":memory:" {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	applyDefaults(&cfg)
	if err := envconfig.Process(EnvPrefix, &cfg.Analysis); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the analysis section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c.Analysis); err != nil {
		return fmt.Errorf("invalid analysis config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = ":8090"
	}
	if cfg.BasicConfig.MinWorkers <= 0 {
		cfg.BasicConfig.MinWorkers = 1
	}
	if cfg.BasicConfig.MaxWorkers <= 0 {
		cfg.BasicConfig.MaxWorkers = 4
	}
	if cfg.BasicConfig.QueueSize <= 0 {
		cfg.BasicConfig.QueueSize = 64
	}
	if cfg.BasicConfig.AnalysisTimeout <= 0 {
		cfg.BasicConfig.AnalysisTimeout = 60
	}
	if cfg.BasicConfig.MaxUploadBytes <= 0 {
		cfg.BasicConfig.MaxUploadBytes = 10 << 20
	}
	if cfg.BasicConfig.TokenTTLHours <= 0 {
		cfg.BasicConfig.TokenTTLHours = 24
	}
	if cfg.Analysis.RetentionLimit == 0 {
		cfg.Analysis.RetentionLimit = DefaultRetentionLimit
	}
	if cfg.Analysis.NumericDetectionThreshold == 0 {
		cfg.Analysis.NumericDetectionThreshold = DefaultNumericDetectionThreshold
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
