package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/dispatcher"
	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/application/service"
	"github.com/garyjia/portal-workflow/internal/application/workflow"
	"github.com/garyjia/portal-workflow/internal/domain/event"
	"github.com/garyjia/portal-workflow/internal/infrastructure/mail"
	"github.com/garyjia/portal-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/portal-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/portal-workflow/internal/infrastructure/worker"
	"github.com/garyjia/portal-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
	Applied        int
}

// WorkerBundle holds the scheduler and the manager that owns it.
type WorkerBundle struct {
	Manager *worker.WorkerManager
	Batch   *worker.BatchWorker
}

// ProvideDatabase opens the database and, when enabled, applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied := 0
	if cfg.AutoMigrate {
		applied, err = database.NewMigrator(conn, logger).Migrate()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
		Applied:        applied,
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Instance:     repository.NewInstanceRepository(sqlDB, logger),
		History:      repository.NewHistoryRepository(sqlDB, logger),
		Notification: repository.NewNotificationRepository(sqlDB, logger),
		User:         repository.NewUserRepository(sqlDB, logger),
	}, nil
}

// ProvideMailer builds the mailer named by cfg.Provider. The smtp provider
// without a host, and the log provider, only log notices.
func ProvideMailer(cfg *MailConfig, logger *zap.Logger) (port.Mailer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mail config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Provider {
	case MailProviderLog:
		return mail.NewLogMailer(logger), nil

	case MailProviderLark:
		logger.Info("Sending notices through Lark IM")
		return mail.NewLarkMailer(mail.LarkConfig{
			AppID:           cfg.LarkAppID,
			AppSecret:       cfg.LarkAppSecret,
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			MaxElapsedTime:  cfg.MaxElapsedTime,
		}, logger), nil

	case "", MailProviderSMTP:
		if cfg.Host == "" {
			logger.Warn("No SMTP host configured, reap notices will only be logged")
			return mail.NewLogMailer(logger), nil
		}
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:            cfg.Host,
			Port:            cfg.Port,
			From:            cfg.From,
			Username:        cfg.Username,
			Password:        cfg.Password,
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			MaxElapsedTime:  cfg.MaxElapsedTime,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(logger)), nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Mailer     port.Mailer
	Batch      *BatchConfig
	Logger     *zap.Logger
}

// ProvideServices creates the ledger, sweep, reaper and batch services and
// subscribes the reap notice and audit log handlers.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if deps.Batch == nil {
		return nil, fmt.Errorf("batch config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ledger := service.NewNotificationLedger(deps.Repos.Notification, deps.Logger)

	sweep := service.NewSweepService(deps.Repos.Instance, ledger, deps.Logger,
		service.WithSweepLocation(deps.Batch.Location),
		service.WithBreachThreshold(deps.Batch.BreachThreshold),
	)

	reaper := service.NewReaperService(
		deps.Repos.Instance,
		deps.Repos.History,
		ledger,
		deps.TxManager,
		deps.Dispatcher,
		deps.Logger,
		service.WithPaymentGrace(deps.Batch.PaymentGrace),
	)

	deps.Dispatcher.SubscribeNamed(event.TypeCertificateReaped, "reap-notice",
		service.NewReapNoticeHandler(deps.Repos.User, deps.Mailer, deps.Logger))

	audit := service.NewAuditLogHandler(deps.Logger)
	for _, t := range service.AuditEventTypes {
		deps.Dispatcher.SubscribeNamed(t, "audit-log", audit)
	}

	return &ServiceBundle{
		Ledger: ledger,
		Sweep:  sweep,
		Reaper: reaper,
		Batch:  service.NewBatchService(sweep, reaper, deps.Logger),
	}, nil
}

// WorkflowDeps holds dependencies for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Ledger     service.NotificationLedger
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine builds the application machine for the configured
// categories and creates the engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("notification ledger is required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Workflow == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	machine, err := workflow.BuildApplicationMachine(deps.Workflow.KnownCategories, deps.Workflow.CourseApprovalCategories)
	if err != nil {
		return nil, err
	}

	return workflow.NewEngine(
		deps.Repos.Instance,
		deps.Repos.History,
		deps.Repos.User,
		deps.Ledger,
		deps.TxManager,
		workflow.WithApplicationMachine(machine),
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(deps.Logger),
	), nil
}

// ProvideWorkers creates the batch scheduler and registers it with a manager.
// Nothing is started here.
func ProvideWorkers(batch service.BatchService, cfg *BatchConfig, logger *zap.Logger) (*WorkerBundle, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("batch config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	batchWorker := worker.NewBatchWorker(worker.BatchWorkerConfig{
		Schedule:   cfg.Schedule,
		Location:   cfg.Location,
		RunTimeout: cfg.RunTimeout,
	}, batch, logger)

	manager := worker.NewWorkerManager(logger)
	manager.Register(batchWorker)

	return &WorkerBundle{Manager: manager, Batch: batchWorker}, nil
}
