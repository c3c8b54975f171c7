package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	exeDirCache string
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	DefaultModel   string        `yaml:"default_model,omitempty"`
	LenientSchemas bool          `yaml:"lenient_schemas,omitempty"`
	Store          StoreConfig   `yaml:"store"`
	Models         ModelsConfig  `yaml:"models,omitempty"`
	Audit          AuditConfig   `yaml:"audit"`
	Logging        LoggingConfig `yaml:"logging"`
	AWS            AWSConfig     `yaml:"aws,omitempty"`
	History        HistoryConfig `yaml:"history,omitempty"`
}

// StoreConfig selects where prompts, partials and schemas live.
type StoreConfig struct {
	Type   string `yaml:"type"` // "dir", "sqlite" or "dynamodb"
	Dir    string `yaml:"dir,omitempty"`
	SQLite string `yaml:"sqlite,omitempty"`
	Table  string `yaml:"table,omitempty"`
}

// ModelsConfig locates per-model default configuration. File wins over
// Parameter when both are set.
type ModelsConfig struct {
	File      string `yaml:"file,omitempty"`
	Parameter string `yaml:"parameter,omitempty"` // SSM parameter name
}

type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	FilePrefix    string `yaml:"file_prefix,omitempty"`
	RetentionDays int    `yaml:"retention_days"`

	// CleanupSchedule is a cron spec for retention cleanup in serve mode.
	CleanupSchedule string `yaml:"cleanup_schedule,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AWSConfig struct {
	Region string `yaml:"region,omitempty"`
}

// HistoryConfig controls how much chat history is spliced into renders when
// a conversation is named.
type HistoryConfig struct {
	Limit int `yaml:"limit,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Type: "dir",
			Dir:  "prompts",
		},
		Audit: AuditConfig{
			Enabled:         false,
			Dir:             filepath.Join(ConfigDir(), "audit"),
			FilePrefix:      "render",
			RetentionDays:   7,
			CleanupSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Limit: 50,
		},
	}
}

func ConfigDir() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".dotprompt")
}

func ConfigPath() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".dotprompt.yaml")
}

func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads a config file over the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// applyEnv overrides settings from DOTPROMPT_* variables.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.DefaultModel, "DOTPROMPT_DEFAULT_MODEL")
	set(&c.Store.Type, "DOTPROMPT_STORE")
	set(&c.Store.Dir, "DOTPROMPT_DIR")
	set(&c.Store.SQLite, "DOTPROMPT_SQLITE")
	set(&c.Store.Table, "DOTPROMPT_DYNAMODB_TABLE")
	set(&c.Models.File, "DOTPROMPT_MODELS_FILE")
	set(&c.Models.Parameter, "DOTPROMPT_MODELS_PARAMETER")
	set(&c.AWS.Region, "AWS_REGION")
	set(&c.Logging.Level, "DOTPROMPT_LOG")
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv("DOTPROMPT_AUDIT"))); err == nil {
		c.Audit.Enabled = v
	}
}

func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the config to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
