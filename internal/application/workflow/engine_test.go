package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/portal-workflow/internal/application/dispatcher"
	"github.com/garyjia/portal-workflow/internal/application/service"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/domain/event"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/testutil"
)

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error {
	return nil
}

func (m *mockDispatcher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Type, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

var fixedNow = time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)

type fixture struct {
	store      *testutil.MemStore
	dispatcher *mockDispatcher
	engine     WorkflowEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	store.SeedUsers(
		&entity.User{ID: "student-1", Role: entity.RoleStudent},
		&entity.User{ID: "teacher-1", Role: entity.RoleTeacher},
		&entity.User{ID: "office-1", Role: entity.RoleOffice},
		&entity.User{ID: "office-2", Role: entity.RoleOffice},
	)
	logger := zaptest.NewLogger(t)
	ledger := service.NewNotificationLedger(store.Notifications(), logger)
	d := &mockDispatcher{}

	engine := NewEngine(store.Instances(), store.History(), store.Users(), ledger, store,
		WithDispatcher(d),
		WithLogger(logger),
		WithClock(func() time.Time { return fixedNow }),
	)
	return &fixture{store: store, dispatcher: d, engine: engine}
}

func (f *fixture) seedApplication(id, code string, category int) entity.InstanceRef {
	inst := &entity.WorkflowInstance{
		ID:               id,
		Kind:             entity.KindApplication,
		StateCode:        code,
		Category:         category,
		OwnerUserID:      "student-1",
		SupervisorUserID: "teacher-1",
		LastActivityAt:   fixedNow.Add(-time.Hour),
	}
	f.store.Seed(inst)
	f.store.SeedNotifications(&entity.Notification{ID: "old-" + id, TargetUserID: "teacher-1", InstanceID: id, Kind: entity.KindApplication})
	return inst.Ref()
}

func (f *fixture) seedCertificate(id, code, media, handler string) entity.InstanceRef {
	inst := &entity.WorkflowInstance{
		ID:               id,
		Kind:             entity.KindCertificate,
		StateCode:        code,
		Media:            media,
		OwnerUserID:      "student-1",
		SupervisorUserID: "teacher-1",
		HandlerUserID:    handler,
		LastActivityAt:   fixedNow.Add(-time.Hour),
	}
	f.store.Seed(inst)
	f.store.SeedNotifications(&entity.Notification{ID: "old-" + id, TargetUserID: "teacher-1", InstanceID: id, Kind: entity.KindCertificate})
	return inst.Ref()
}

func targets(rows []entity.Notification) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.TargetUserID)
	}
	return out
}

func TestSubmitApplication(t *testing.T) {
	f := newFixture(t)
	end := fixedNow.Add(72 * time.Hour)

	inst, err := f.engine.SubmitApplication(context.Background(), SubmitApplicationRequest{
		OwnerUserID:      "student-1",
		SupervisorUserID: "teacher-1",
		Category:         2,
		ScheduledEndAt:   &end,
	})
	require.NoError(t, err)
	require.NotEmpty(t, inst.ID)

	stored := f.store.Instance(inst.Ref())
	require.NotNil(t, stored)
	assert.Equal(t, "11", stored.StateCode)
	assert.Equal(t, fixedNow, stored.LastActivityAt)

	rows := f.store.NotificationsFor(inst.Ref())
	assert.Equal(t, []string{"teacher-1"}, targets(rows))

	history := f.store.HistoryFor(inst.Ref())
	require.Len(t, history, 1)
	assert.Equal(t, entity.HistoryActionSubmit, history[0].Action)
	assert.Equal(t, []event.Type{event.TypeInstanceSubmitted}, f.dispatcher.types())
}

func TestSubmitApplication_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitApplication(context.Background(), SubmitApplicationRequest{
		OwnerUserID: "student-1", SupervisorUserID: "teacher-1", Category: 42,
	})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidCategory))

	_, err = f.engine.SubmitApplication(context.Background(), SubmitApplicationRequest{
		SupervisorUserID: "teacher-1", Category: 1,
	})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidInput))

	assert.Zero(t, f.store.Calls["instance.create"])
	assert.Empty(t, f.dispatcher.types())
}

func TestSubmitCertificate(t *testing.T) {
	f := newFixture(t)

	inst, err := f.engine.SubmitCertificate(context.Background(), SubmitCertificateRequest{
		ID:               "cert-9",
		OwnerUserID:      "student-1",
		SupervisorUserID: "teacher-1",
		Media:            "郵送",
	})
	require.NoError(t, err)
	assert.Equal(t, "cert-9", inst.ID)
	assert.Equal(t, "0", f.store.Instance(inst.Ref()).StateCode)
	assert.Equal(t, []string{"teacher-1"}, targets(f.store.NotificationsFor(inst.Ref())))

	_, err = f.engine.SubmitCertificate(context.Background(), SubmitCertificateRequest{
		OwnerUserID: "student-1", SupervisorUserID: "teacher-1", Media: "pigeon",
	})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidCategory))
}

func TestSubmit_NotificationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.Fail["notification.insert"] = errors.New("disk full")

	_, err := f.engine.SubmitApplication(context.Background(), SubmitApplicationRequest{
		ID: "app-x", OwnerUserID: "student-1", SupervisorUserID: "teacher-1", Category: 1,
	})
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, domainwf.ErrNotificationFailure))
	assert.Nil(t, f.store.Instance(entity.InstanceRef{Kind: entity.KindApplication, ID: "app-x"}))
}

func TestApplyApplication_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		from        string
		category    int
		cmd         ApplicationCommand
		wantCode    string
		wantTargets []string
	}{
		{
			name:        "teacher approves with school check",
			from:        "11",
			category:    2,
			cmd:         ApplicationCommand{Action: domainwf.ActionApprove, ActorUserID: "teacher-1", SchoolCheck: true},
			wantCode:    "12",
			wantTargets: []string{"teacher-1"},
		},
		{
			name:        "second approval enters course phase",
			from:        "12",
			category:    3,
			cmd:         ApplicationCommand{Action: domainwf.ActionApprove, ActorUserID: "teacher-1"},
			wantCode:    "21",
			wantTargets: []string{"teacher-1"},
		},
		{
			name:        "category without course approval skips to report",
			from:        "21",
			category:    9,
			cmd:         ApplicationCommand{Action: domainwf.ActionApprove, ActorUserID: "teacher-1"},
			wantCode:    "31",
			wantTargets: []string{"student-1"},
		},
		{
			name:        "reject returns to student",
			from:        "21",
			category:    2,
			cmd:         ApplicationCommand{Action: domainwf.ActionReject, ActorUserID: "teacher-1"},
			wantCode:    "23",
			wantTargets: []string{"student-1"},
		},
		{
			name:        "report approval completes and revokes",
			from:        "32",
			category:    1,
			cmd:         ApplicationCommand{Action: domainwf.ActionApprove, ActorUserID: "teacher-1"},
			wantCode:    "33",
			wantTargets: []string{},
		},
		{
			name:        "withdraw in report phase goes to 34",
			from:        "31",
			category:    1,
			cmd:         ApplicationCommand{Action: domainwf.ActionWithdraw, ActorUserID: "student-1"},
			wantCode:    "34",
			wantTargets: []string{},
		},
		{
			name:        "course approve",
			from:        "13",
			category:    5,
			cmd:         ApplicationCommand{Action: domainwf.ActionCourseApprove, ActorUserID: "course-1"},
			wantCode:    "21",
			wantTargets: []string{"teacher-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ref := f.seedApplication("app-1", tt.from, tt.category)

			result, err := f.engine.ApplyApplication(context.Background(), "app-1", tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.from, result.PreviousCode)
			assert.Equal(t, tt.wantCode, result.NewCode)

			stored := f.store.Instance(ref)
			assert.Equal(t, tt.wantCode, stored.StateCode)
			assert.Equal(t, fixedNow, stored.LastActivityAt)
			assert.Equal(t, tt.cmd.SchoolCheck, stored.SchoolChecked)
			assert.Equal(t, tt.wantTargets, targets(f.store.NotificationsFor(ref)))

			history := f.store.HistoryFor(ref)
			require.Len(t, history, 1)
			assert.Equal(t, tt.from, history[0].PreviousCode)
			assert.Equal(t, tt.wantCode, history[0].NewCode)
			assert.Equal(t, tt.cmd.ActorUserID, history[0].ActorUserID)

			assert.Equal(t, []event.Type{event.TypeTransitioned}, f.dispatcher.types())
		})
	}
}

func TestApplyApplication_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		category int
		id       string
		action   domainwf.Action
		sentinel error
	}{
		{"terminal code", "33", 1, "app-1", domainwf.ActionApprove, domainwf.ErrInvalidAction},
		{"unknown action", "11", 1, "app-1", domainwf.Action("ESCALATE"), domainwf.ErrInvalidAction},
		{"unknown category", "11", 77, "app-1", domainwf.ActionApprove, domainwf.ErrInvalidCategory},
		{"corrupt code", "1x", 1, "app-1", domainwf.ActionApprove, domainwf.ErrInvalidState},
		{"missing instance", "11", 1, "nope", domainwf.ActionApprove, domainwf.ErrInstanceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ref := f.seedApplication("app-1", tt.from, tt.category)

			_, err := f.engine.ApplyApplication(context.Background(), tt.id, ApplicationCommand{Action: tt.action})
			require.Error(t, err)
			assert.True(t, crdberrors.Is(err, tt.sentinel), "got %v", err)

			assert.Equal(t, tt.from, f.store.Instance(ref).StateCode)
			assert.Equal(t, []string{"teacher-1"}, targets(f.store.NotificationsFor(ref)))
			assert.Zero(t, f.store.Calls["instance.update_state"])
			assert.Empty(t, f.dispatcher.types())
		})
	}
}

func TestApplyApplication_NotificationFailureRollsBackState(t *testing.T) {
	f := newFixture(t)
	ref := f.seedApplication("app-1", "11", 2)
	f.store.Fail["notification.insert"] = errors.New("database is locked")

	_, err := f.engine.ApplyApplication(context.Background(), "app-1", ApplicationCommand{
		Action: domainwf.ActionApprove, ActorUserID: "teacher-1", SchoolCheck: true,
	})
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, domainwf.ErrNotificationFailure))

	stored := f.store.Instance(ref)
	assert.Equal(t, "11", stored.StateCode)
	assert.False(t, stored.SchoolChecked)
	assert.Equal(t, []string{"teacher-1"}, targets(f.store.NotificationsFor(ref)))
	assert.Empty(t, f.store.HistoryFor(ref))
	assert.Empty(t, f.dispatcher.types())
}

func TestApplyApplication_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ref := f.seedApplication("app-1", "11", 2)
	f.store.Fail["history.create"] = errors.New("constraint failed")

	_, err := f.engine.ApplyApplication(context.Background(), "app-1", ApplicationCommand{Action: domainwf.ActionApprove})
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, domainwf.ErrPersistenceFailure))
	assert.Equal(t, "11", f.store.Instance(ref).StateCode)
	assert.Zero(t, f.store.Calls["notification.insert"])
}

func TestApplyIssuance_Receive(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "1", "paper", "")

	result, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
		Button: domainwf.ButtonReceive, ActorUserID: "office-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "3", result.NewCode)

	stored := f.store.Instance(ref)
	assert.Equal(t, "office-2", stored.HandlerUserID)
	assert.Equal(t, []string{"office-2"}, targets(f.store.NotificationsFor(ref)))
}

func TestApplyIssuance_ReceiveRequiresActor(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "1", "paper", "")

	_, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{Button: domainwf.ButtonReceive})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidInput))
	assert.Equal(t, "1", f.store.Instance(ref).StateCode)
}

func TestApplyIssuance_ApproveBroadcastsToOffice(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "0", "mail", "")

	result, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
		Button: domainwf.ButtonApprove, ActorUserID: "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1", result.NewCode)
	assert.Equal(t, []string{"student-1", "office-1", "office-2"}, result.Notified)

	stored := f.store.Instance(ref)
	require.NotNil(t, stored.ApprovedAt)
	assert.Equal(t, fixedNow, *stored.ApprovedAt)
	assert.ElementsMatch(t, []string{"student-1", "office-1", "office-2"}, targets(f.store.NotificationsFor(ref)))
}

func TestApplyIssuance_IssueByMedia(t *testing.T) {
	tests := []struct {
		media       string
		wantCode    string
		wantTargets []string
	}{
		{"原紙", "5", []string{"student-1"}},
		{"郵送", "4", []string{"office-1"}},
		{"電子", "4", []string{"office-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.media, func(t *testing.T) {
			f := newFixture(t)
			ref := f.seedCertificate("cert-1", "3", tt.media, "office-1")

			result, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
				Button: domainwf.ButtonIssue, ActorUserID: "office-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, result.NewCode)
			assert.Equal(t, tt.wantTargets, targets(f.store.NotificationsFor(ref)))
		})
	}
}

func TestApplyIssuance_UnknownMedia(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "3", "unknown", "office-1")

	_, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
		Button: domainwf.ButtonIssue, ActorUserID: "office-1",
	})
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidCategory))
	assert.Equal(t, "3", f.store.Instance(ref).StateCode)
	assert.Zero(t, f.store.Calls["notification.delete"])
}

func TestApplyIssuance_FinishRevokes(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "5", "paper", "office-1")

	result, err := f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
		Button: domainwf.ButtonFinish, ActorUserID: "office-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "6", result.NewCode)
	assert.Empty(t, f.store.NotificationsFor(ref))

	_, err = f.engine.ApplyIssuance(context.Background(), "cert-1", IssuanceCommand{
		Button: domainwf.ButtonFinish, ActorUserID: "office-1",
	})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidAction))
}

func TestDeleteApplication(t *testing.T) {
	f := newFixture(t)
	ref := f.seedApplication("app-1", "21", 2)

	require.NoError(t, f.engine.DeleteApplication(context.Background(), "app-1", "student-1"))
	assert.Equal(t, "00", f.store.Instance(ref).StateCode)
	assert.Empty(t, f.store.NotificationsFor(ref))

	err := f.engine.DeleteApplication(context.Background(), "app-1", "student-1")
	assert.True(t, crdberrors.Is(err, domainwf.ErrInvalidAction))
}

func TestDeleteCertificate(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "2", "paper", "")

	require.NoError(t, f.engine.DeleteCertificate(context.Background(), "cert-1", "student-1"))
	assert.Nil(t, f.store.Instance(ref))
	assert.Empty(t, f.store.NotificationsFor(ref))

	err := f.engine.DeleteCertificate(context.Background(), "cert-1", "student-1")
	assert.True(t, crdberrors.Is(err, domainwf.ErrInstanceNotFound))
}

func TestDeleteCertificate_RevokeFailureKeepsRequest(t *testing.T) {
	f := newFixture(t)
	ref := f.seedCertificate("cert-1", "2", "paper", "")
	f.store.Fail["notification.delete"] = errors.New("locked")

	err := f.engine.DeleteCertificate(context.Background(), "cert-1", "student-1")
	assert.True(t, crdberrors.Is(err, domainwf.ErrNotificationFailure))
	assert.NotNil(t, f.store.Instance(ref))
	assert.Zero(t, f.store.Calls["instance.delete"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.seedApplication("app-1", "11", 1)

	_, err := f.engine.ApplyApplication(context.Background(), "app-1", ApplicationCommand{Action: domainwf.ActionApprove})
	require.NoError(t, err)

	history, err := f.engine.History(context.Background(), entity.InstanceRef{Kind: entity.KindApplication, ID: "app-1"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "system", history[0].ActorUserID)

	_, err = f.engine.History(context.Background(), entity.InstanceRef{Kind: entity.KindApplication, ID: "missing"})
	assert.True(t, crdberrors.Is(err, domainwf.ErrInstanceNotFound))
}

func TestBuildApplicationMachine(t *testing.T) {
	m, err := BuildApplicationMachine(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domainwf.DefaultKnownCategories, m.Policy().Categories())

	_, err = BuildApplicationMachine([]int{1}, []int{2})
	assert.Error(t, err)
}
