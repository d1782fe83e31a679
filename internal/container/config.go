// Package container provides dependency injection and lifecycle management
// for the portal workflow engine.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/portal-workflow/internal/application/service"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/infrastructure/worker"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Workflow category configuration
	Workflow WorkflowConfig

	// Batch scheduler configuration
	Batch BatchConfig

	// Mail relay configuration
	Mail MailConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies the embedded schema on start
	AutoMigrate bool
}

// WorkflowConfig holds the application category lists.
type WorkflowConfig struct {
	KnownCategories          []int
	CourseApprovalCategories []int
}

// BatchConfig holds sweep, reaper and scheduler settings.
type BatchConfig struct {
	// Enabled starts the cron scheduler with the container
	Enabled bool

	// Schedule is a standard five-field cron expression
	Schedule string

	// Location is the school's local timezone
	Location *time.Location

	BreachThreshold time.Duration
	PaymentGrace    time.Duration
	RunTimeout      time.Duration
}

// MailConfig selects the mailer. Provider is "smtp" (the default), "lark" or
// "log"; smtp with an empty Host falls back to the log mailer.
type MailConfig struct {
	Provider        string
	Host            string
	Port            int
	From            string
	Username        string
	Password        string
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	LarkAppID       string
	LarkAppSecret   string
}

// Mail providers accepted by MailConfig.Provider
const (
	MailProviderSMTP = "smtp"
	MailProviderLark = "lark"
	MailProviderLog  = "log"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/portal.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		},
		Workflow: WorkflowConfig{
			KnownCategories:          domainwf.DefaultKnownCategories,
			CourseApprovalCategories: domainwf.DefaultCourseApprovalCategories,
		},
		Batch: BatchConfig{
			Enabled:         true,
			Schedule:        worker.DefaultBatchSchedule,
			Location:        time.UTC,
			BreachThreshold: service.DefaultBreachThreshold,
			PaymentGrace:    service.DefaultPaymentGrace,
			RunTimeout:      5 * time.Minute,
		},
		Mail: MailConfig{
			Provider:    MailProviderSMTP,
			Port:        587,
			MaxAttempts: 3,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Batch.Schedule == "" {
		return fmt.Errorf("batch.schedule is required")
	}
	switch c.Mail.Provider {
	case "", MailProviderSMTP:
		if c.Mail.Host != "" && c.Mail.From == "" {
			return fmt.Errorf("mail.from is required when mail.host is set")
		}
	case MailProviderLark:
		if c.Mail.LarkAppID == "" || c.Mail.LarkAppSecret == "" {
			return fmt.Errorf("lark app id and secret are required for the lark mail provider")
		}
	case MailProviderLog:
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}
	return nil
}
