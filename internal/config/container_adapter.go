package config

import (
	"github.com/garyjia/portal-workflow/internal/container"
	httpserver "github.com/garyjia/portal-workflow/internal/interfaces/http"
	"github.com/garyjia/portal-workflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Workflow: container.WorkflowConfig{
			KnownCategories:          c.Workflow.KnownCategories,
			CourseApprovalCategories: c.Workflow.CourseApprovalCategories,
		},
		Batch: container.BatchConfig{
			Enabled:         c.Batch.Enabled,
			Schedule:        c.Batch.Schedule,
			Location:        c.Batch.Location(),
			BreachThreshold: c.Batch.BreachThreshold,
			PaymentGrace:    c.Batch.PaymentGrace,
			RunTimeout:      c.Batch.RunTimeout,
		},
		Mail: container.MailConfig{
			Provider:        c.Mail.Provider,
			Host:            c.Mail.Host,
			Port:            c.Mail.Port,
			From:            c.Mail.From,
			Username:        c.Mail.Username,
			Password:        c.Mail.Password,
			MaxAttempts:     c.Mail.MaxAttempts,
			InitialInterval: c.Mail.InitialInterval,
			MaxElapsedTime:  c.Mail.MaxElapsedTime,
			LarkAppID:       c.Mail.LarkAppID,
			LarkAppSecret:   c.Mail.LarkAppSecret,
		},
	}
}

// ToServerConfig converts the server section for the HTTP adapter.
func (c *Config) ToServerConfig() httpserver.ServerConfig {
	return httpserver.ServerConfig{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		Mode:            c.Server.Mode,
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		Name:       "portal-workflow",
	}
}
