package workflow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/dispatcher"
	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/application/service"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/domain/event"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

const systemActor = "system"

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	instanceRepo port.InstanceRepository
	historyRepo  port.HistoryRepository
	userRepo     port.UserRepository
	ledger       service.NotificationLedger
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	logger       *zap.Logger

	appMachine      *domainwf.ApplicationMachine
	issuanceMachine *domainwf.IssuanceMachine
	now             func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithApplicationMachine replaces the default application machine
func WithApplicationMachine(m *domainwf.ApplicationMachine) EngineOption {
	return func(e *engineImpl) {
		e.appMachine = m
	}
}

// WithClock sets the time source for activity and approval timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	instanceRepo port.InstanceRepository,
	historyRepo port.HistoryRepository,
	userRepo port.UserRepository,
	ledger service.NotificationLedger,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		instanceRepo:    instanceRepo,
		historyRepo:     historyRepo,
		userRepo:        userRepo,
		ledger:          ledger,
		txManager:       txManager,
		logger:          zap.NewNop(),
		appMachine:      domainwf.NewApplicationMachine(nil),
		issuanceMachine: domainwf.NewIssuanceMachine(),
		now:             func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func persistErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), domainwf.ErrPersistenceFailure)
}

// SubmitApplication creates a new application
func (e *engineImpl) SubmitApplication(ctx context.Context, req SubmitApplicationRequest) (*entity.WorkflowInstance, error) {
	if err := requireParties(req.OwnerUserID, req.SupervisorUserID); err != nil {
		return nil, err
	}
	if _, err := e.appMachine.Policy().Classify(req.Category); err != nil {
		return nil, err
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:               req.ID,
		Kind:             entity.KindApplication,
		StateCode:        domainwf.AppAwaitingTeacher.String(),
		Category:         req.Category,
		OwnerUserID:      req.OwnerUserID,
		SupervisorUserID: req.SupervisorUserID,
		LastActivityAt:   now,
		ScheduledEndAt:   req.ScheduledEndAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.submit(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// SubmitCertificate creates a new certificate issuance request
func (e *engineImpl) SubmitCertificate(ctx context.Context, req SubmitCertificateRequest) (*entity.WorkflowInstance, error) {
	if err := requireParties(req.OwnerUserID, req.SupervisorUserID); err != nil {
		return nil, err
	}
	if _, err := domainwf.ParseMedia(req.Media); err != nil {
		return nil, err
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:               req.ID,
		Kind:             entity.KindCertificate,
		StateCode:        domainwf.CertSubmitted.String(),
		Category:         req.Category,
		Media:            req.Media,
		OwnerUserID:      req.OwnerUserID,
		SupervisorUserID: req.SupervisorUserID,
		LastActivityAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.submit(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func requireParties(owner, supervisor string) error {
	if owner == "" {
		return errors.Mark(errors.New("owner_user_id is required"), domainwf.ErrInvalidInput)
	}
	if supervisor == "" {
		return errors.Mark(errors.New("supervisor_user_id is required"), domainwf.ErrInvalidInput)
	}
	return nil
}

func (e *engineImpl) submit(ctx context.Context, inst *entity.WorkflowInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	ref := inst.Ref()

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Create(txCtx, inst); err != nil {
			return persistErr(err, "create instance")
		}
		if err := e.recordHistory(txCtx, ref, inst.OwnerUserID, "", inst.StateCode, entity.HistoryActionSubmit); err != nil {
			return err
		}
		_, err := e.ledger.Issue(txCtx, ref, inst.SupervisorUserID, true)
		return err
	})
	if err != nil {
		e.logger.Error("Failed to submit instance",
			zap.String("instance_kind", ref.Kind.String()),
			zap.String("instance_id", ref.ID),
			zap.Error(err))
		return err
	}

	e.logger.Info("Instance submitted",
		zap.String("instance_kind", ref.Kind.String()),
		zap.String("instance_id", ref.ID),
		zap.String("state_code", inst.StateCode))

	e.emit(ctx, event.TypeInstanceSubmitted, ref, map[string]interface{}{
		event.PayloadNewCode:    inst.StateCode,
		event.PayloadOwner:      inst.OwnerUserID,
		event.PayloadSupervisor: inst.SupervisorUserID,
	})
	return nil
}

// ApplyApplication applies a user action to an application in one transaction
func (e *engineImpl) ApplyApplication(ctx context.Context, id string, cmd ApplicationCommand) (*TransitionResult, error) {
	ref := entity.InstanceRef{Kind: entity.KindApplication, ID: id}
	var result *TransitionResult

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.load(txCtx, ref)
		if err != nil {
			return err
		}
		from, err := domainwf.ParseApplicationCode(inst.StateCode)
		if err != nil {
			return errors.Mark(err, domainwf.ErrInvalidState)
		}
		t, err := e.appMachine.Apply(from, cmd.Action, inst.Category, cmd.SchoolCheck)
		if err != nil {
			return err
		}

		if t.Effects.Has(domainwf.EffectMarkSchoolCheck) {
			if err := e.instanceRepo.MarkSchoolChecked(txCtx, ref); err != nil {
				return persistErr(err, "mark school check")
			}
			inst.SchoolChecked = true
		}

		notified, err := e.advance(txCtx, inst, t.To.String(), cmd.Action.String(), cmd.ActorUserID, t.Notify)
		if err != nil {
			return err
		}
		result = &TransitionResult{Ref: ref, PreviousCode: from.String(), NewCode: t.To.String(), Notified: notified}
		return nil
	})
	if err != nil {
		e.logRejection(ref, cmd.Action.String(), err)
		return nil, err
	}

	e.committed(ctx, result, cmd.Action.String(), cmd.ActorUserID)
	return result, nil
}

// ApplyIssuance applies a button press to a certificate request in one transaction
func (e *engineImpl) ApplyIssuance(ctx context.Context, id string, cmd IssuanceCommand) (*TransitionResult, error) {
	ref := entity.InstanceRef{Kind: entity.KindCertificate, ID: id}
	var result *TransitionResult

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.load(txCtx, ref)
		if err != nil {
			return err
		}
		from, err := domainwf.ParseCertificateCode(inst.StateCode)
		if err != nil {
			return errors.Mark(err, domainwf.ErrInvalidState)
		}
		t, err := e.issuanceMachine.Apply(from, cmd.Button, inst.Media)
		if err != nil {
			return err
		}
		if t.Effects.Has(domainwf.EffectAssignHandler) && cmd.ActorUserID == "" {
			return errors.Mark(errors.New("receiving a request requires actor_user_id"), domainwf.ErrInvalidInput)
		}

		now := e.now()
		if t.Effects.Has(domainwf.EffectAssignHandler) {
			if err := e.instanceRepo.SetHandler(txCtx, ref, cmd.ActorUserID); err != nil {
				return persistErr(err, "set handler")
			}
			inst.HandlerUserID = cmd.ActorUserID
		}
		if t.Effects.Has(domainwf.EffectStampApproval) {
			if err := e.instanceRepo.SetApprovedAt(txCtx, ref, now); err != nil {
				return persistErr(err, "set approval date")
			}
			inst.ApprovedAt = &now
		}

		notified, err := e.advance(txCtx, inst, t.To.String(), cmd.Button.String(), cmd.ActorUserID, t.Notify)
		if err != nil {
			return err
		}
		result = &TransitionResult{Ref: ref, PreviousCode: from.String(), NewCode: t.To.String(), Notified: notified}
		return nil
	})
	if err != nil {
		e.logRejection(ref, cmd.Button.String(), err)
		return nil, err
	}

	e.committed(ctx, result, cmd.Button.String(), cmd.ActorUserID)
	return result, nil
}

// advance writes the new code and history row, then runs the notification plan
func (e *engineImpl) advance(ctx context.Context, inst *entity.WorkflowInstance, to, action, actor string, plan domainwf.NotifyPlan) ([]string, error) {
	ref := inst.Ref()
	if err := e.instanceRepo.UpdateState(ctx, ref, to, e.now()); err != nil {
		return nil, persistErr(err, "update state")
	}
	if err := e.recordHistory(ctx, ref, actor, inst.StateCode, to, action); err != nil {
		return nil, err
	}
	return e.notify(ctx, inst, plan, actor)
}

func (e *engineImpl) recordHistory(ctx context.Context, ref entity.InstanceRef, actor, prev, next, action string) error {
	if actor == "" {
		actor = systemActor
	}
	h := &entity.TransitionHistory{
		Kind:         ref.Kind,
		InstanceID:   ref.ID,
		ActorUserID:  actor,
		PreviousCode: prev,
		NewCode:      next,
		Action:       action,
		CreatedAt:    e.now(),
	}
	if err := e.historyRepo.Create(ctx, h); err != nil {
		return persistErr(err, "create history record")
	}
	return nil
}

// notify runs the ledger steps of plan and returns the users that received a notification
func (e *engineImpl) notify(ctx context.Context, inst *entity.WorkflowInstance, plan domainwf.NotifyPlan, actor string) ([]string, error) {
	ref := inst.Ref()
	if plan.RevokeOnly() {
		return nil, e.ledger.Revoke(ctx, ref)
	}

	var notified []string
	for _, target := range plan {
		switch target {
		case domainwf.NotifyNone:
			if err := e.ledger.Revoke(ctx, ref); err != nil {
				return nil, err
			}
		case domainwf.NotifyOfficeBroadcast:
			users, err := e.userRepo.ListByRole(ctx, entity.RoleOffice)
			if err != nil {
				return nil, errors.Mark(errors.Wrap(err, "list office users"), domainwf.ErrNotificationFailure)
			}
			for _, u := range users {
				if _, err := e.ledger.Issue(ctx, ref, u.ID, true); err != nil {
					return nil, err
				}
				notified = append(notified, u.ID)
			}
		default:
			userID := recipient(inst, target, actor)
			if _, err := e.ledger.Issue(ctx, ref, userID, false); err != nil {
				return nil, err
			}
			notified = append(notified, userID)
		}
	}
	return notified, nil
}

// recipient resolves a single-user target. An unassigned office handler falls back to the acting user.
func recipient(inst *entity.WorkflowInstance, target domainwf.NotifyTarget, actor string) string {
	switch target {
	case domainwf.NotifyStudent:
		return inst.OwnerUserID
	case domainwf.NotifyTeacher:
		return inst.SupervisorUserID
	case domainwf.NotifyOfficeHandler:
		if inst.HandlerUserID != "" {
			return inst.HandlerUserID
		}
		return actor
	}
	return ""
}

// DeleteApplication revokes the notification and sets the code to 00
func (e *engineImpl) DeleteApplication(ctx context.Context, id, actorUserID string) error {
	ref := entity.InstanceRef{Kind: entity.KindApplication, ID: id}
	var prev string

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.load(txCtx, ref)
		if err != nil {
			return err
		}
		if inst.StateCode == domainwf.AppVoid.String() {
			return errors.Mark(errors.Newf("application %s is already deleted", id), domainwf.ErrInvalidAction)
		}
		prev = inst.StateCode

		if err := e.ledger.Revoke(txCtx, ref); err != nil {
			return err
		}
		if err := e.instanceRepo.UpdateState(txCtx, ref, domainwf.AppVoid.String(), e.now()); err != nil {
			return persistErr(err, "void application")
		}
		return e.recordHistory(txCtx, ref, actorUserID, prev, domainwf.AppVoid.String(), entity.HistoryActionDelete)
	})
	if err != nil {
		e.logRejection(ref, entity.HistoryActionDelete, err)
		return err
	}

	e.logger.Info("Application deleted", zap.String("instance_id", id), zap.String("previous_code", prev))
	e.emit(ctx, event.TypeInstanceDeleted, ref, map[string]interface{}{
		event.PayloadPreviousCode: prev,
		event.PayloadActor:        actorUserID,
	})
	return nil
}

// DeleteCertificate revokes the notification and removes the request
func (e *engineImpl) DeleteCertificate(ctx context.Context, id, actorUserID string) error {
	ref := entity.InstanceRef{Kind: entity.KindCertificate, ID: id}
	var prev string

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.load(txCtx, ref)
		if err != nil {
			return err
		}
		prev = inst.StateCode

		if err := e.ledger.Revoke(txCtx, ref); err != nil {
			return err
		}
		if err := e.instanceRepo.Delete(txCtx, ref); err != nil {
			return persistErr(err, "delete certificate request")
		}
		return e.recordHistory(txCtx, ref, actorUserID, prev, "", entity.HistoryActionDelete)
	})
	if err != nil {
		e.logRejection(ref, entity.HistoryActionDelete, err)
		return err
	}

	e.logger.Info("Certificate request deleted", zap.String("instance_id", id), zap.String("previous_code", prev))
	e.emit(ctx, event.TypeInstanceDeleted, ref, map[string]interface{}{
		event.PayloadPreviousCode: prev,
		event.PayloadActor:        actorUserID,
	})
	return nil
}

// GetInstance returns the instance or ErrInstanceNotFound
func (e *engineImpl) GetInstance(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error) {
	return e.load(ctx, ref)
}

// History returns the transition trail of an instance
func (e *engineImpl) History(ctx context.Context, ref entity.InstanceRef) ([]*entity.TransitionHistory, error) {
	if _, err := e.load(ctx, ref); err != nil {
		return nil, err
	}
	out, err := e.historyRepo.ListByInstance(ctx, ref)
	if err != nil {
		return nil, persistErr(err, "list history")
	}
	return out, nil
}

func (e *engineImpl) load(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error) {
	inst, err := e.instanceRepo.GetByID(ctx, ref)
	if err != nil {
		return nil, persistErr(err, "fetch instance")
	}
	if inst == nil {
		return nil, errors.Mark(errors.Newf("%s %s not found", ref.Kind, ref.ID), domainwf.ErrInstanceNotFound)
	}
	return inst, nil
}

func (e *engineImpl) logRejection(ref entity.InstanceRef, action string, err error) {
	fields := []zap.Field{
		zap.String("instance_kind", ref.Kind.String()),
		zap.String("instance_id", ref.ID),
		zap.String("action", action),
		zap.Error(err),
	}
	if domainwf.IsValidationError(err) || errors.Is(err, domainwf.ErrInstanceNotFound) {
		e.logger.Warn("Transition rejected", fields...)
		return
	}
	e.logger.Error("Transition failed, rolled back", fields...)
}

func (e *engineImpl) committed(ctx context.Context, result *TransitionResult, action, actor string) {
	e.logger.Info("Transition committed",
		zap.String("instance_kind", result.Ref.Kind.String()),
		zap.String("instance_id", result.Ref.ID),
		zap.String("action", action),
		zap.String("previous_code", result.PreviousCode),
		zap.String("new_code", result.NewCode),
		zap.Strings("notified", result.Notified))

	e.emit(ctx, event.TypeTransitioned, result.Ref, map[string]interface{}{
		event.PayloadPreviousCode: result.PreviousCode,
		event.PayloadNewCode:      result.NewCode,
		event.PayloadAction:       action,
		event.PayloadActor:        actor,
	})
}

// emit fires the event asynchronously; handlers outlive the request context
func (e *engineImpl) emit(ctx context.Context, t event.Type, ref entity.InstanceRef, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(t, ref, payload))
}
