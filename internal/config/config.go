package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/portal-workflow/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_SERVER_PORT
const EnvPrefix = "PORTAL"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Mail     MailConfig     `mapstructure:"mail"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig lists the application categories the school accepts
type WorkflowConfig struct {
	KnownCategories          []int `mapstructure:"known_categories"`
	CourseApprovalCategories []int `mapstructure:"course_approval_categories"`
}

// BatchConfig holds the cron-scheduled sweep and reaper settings
type BatchConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Schedule        string        `mapstructure:"schedule"`
	Timezone        string        `mapstructure:"timezone"`
	BreachThreshold time.Duration `mapstructure:"breach_threshold"`
	PaymentGrace    time.Duration `mapstructure:"payment_grace"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

// MailConfig selects and configures the notice mailer. Provider is smtp, lark
// or log; with smtp an empty host logs mail instead of sending it.
type MailConfig struct {
	Provider        string        `mapstructure:"provider"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	From            string        `mapstructure:"from"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	LarkAppID       string        `mapstructure:"lark_app_id"`
	LarkAppSecret   string        `mapstructure:"lark_app_secret"`
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and the environment only.
// A .env file in the working directory is read first when present.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.path", "data/portal.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.known_categories", []int{1, 2, 3, 4, 5, 6, 7, 8, 9})
	v.SetDefault("workflow.course_approval_categories", []int{2, 3, 4})

	// Batch defaults
	v.SetDefault("batch.enabled", true)
	v.SetDefault("batch.schedule", "* * * * *")
	v.SetDefault("batch.timezone", "Asia/Tokyo")
	v.SetDefault("batch.breach_threshold", 48*time.Hour)
	v.SetDefault("batch.payment_grace", 48*time.Hour)
	v.SetDefault("batch.run_timeout", 5*time.Minute)

	// Mail defaults
	v.SetDefault("mail.provider", "smtp")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.max_attempts", 3)
	v.SetDefault("mail.initial_interval", time.Second)
	v.SetDefault("mail.max_elapsed_time", time.Minute)
	v.SetDefault("mail.lark_app_id", "")
	v.SetDefault("mail.lark_app_secret", "")
}

// bindEnvVars binds the unprefixed names operators already use for secrets
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.path":        {"PORTAL_DATABASE_PATH", "DATABASE_PATH"},
		"mail.host":            {"PORTAL_MAIL_HOST", "SMTP_HOST"},
		"mail.username":        {"PORTAL_MAIL_USERNAME", "SMTP_USERNAME"},
		"mail.password":        {"PORTAL_MAIL_PASSWORD", "SMTP_PASSWORD"},
		"mail.lark_app_id":     {"PORTAL_MAIL_LARK_APP_ID", "LARK_APP_ID"},
		"mail.lark_app_secret": {"PORTAL_MAIL_LARK_APP_SECRET", "LARK_APP_SECRET"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if err := utils.ValidateOneOf("server.mode", c.Server.Mode, "debug", "release", "test"); err != nil {
		return err
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Workflow.KnownCategories) == 0 {
		return fmt.Errorf("workflow.known_categories must not be empty")
	}
	known := make(map[int]bool, len(c.Workflow.KnownCategories))
	for _, cat := range c.Workflow.KnownCategories {
		known[cat] = true
	}
	for _, cat := range c.Workflow.CourseApprovalCategories {
		if !known[cat] {
			return fmt.Errorf("workflow.course_approval_categories: %d is not a known category", cat)
		}
	}

	if _, err := cron.ParseStandard(c.Batch.Schedule); err != nil {
		return fmt.Errorf("batch.schedule is invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Batch.Timezone); err != nil {
		return fmt.Errorf("batch.timezone is invalid: %w", err)
	}
	if c.Batch.BreachThreshold <= 0 {
		return fmt.Errorf("batch.breach_threshold must be positive")
	}
	if c.Batch.PaymentGrace <= 0 {
		return fmt.Errorf("batch.payment_grace must be positive")
	}

	if err := utils.ValidateOneOf("mail.provider", c.Mail.Provider, "smtp", "lark", "log"); err != nil {
		return err
	}
	if c.Mail.Provider == "smtp" && c.Mail.Host != "" {
		if err := utils.ValidateEmail(c.Mail.From); err != nil {
			return fmt.Errorf("mail.from: %w", err)
		}
	}
	if c.Mail.Provider == "lark" && (c.Mail.LarkAppID == "" || c.Mail.LarkAppSecret == "") {
		return fmt.Errorf("mail.lark_app_id and mail.lark_app_secret are required for the lark provider")
	}
	if c.Mail.Provider != "log" && c.Mail.MaxAttempts == 0 {
		return fmt.Errorf("mail.max_attempts must be at least 1")
	}

	return nil
}

// Location returns the batch timezone. Validate has already checked it loads.
func (c *BatchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
