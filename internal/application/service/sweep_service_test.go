package service

import (
	"context"
	"errors"
	"testing"
	"time"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/testutil"
)

var sweepNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func seedWithNotification(store *testutil.MemStore, inst *entity.WorkflowInstance) {
	store.Seed(inst)
	store.SeedNotifications(&entity.Notification{
		ID: "n-" + inst.ID, TargetUserID: "teacher-1", InstanceID: inst.ID, Kind: inst.Kind,
	})
}

func newSweep(t *testing.T, store *testutil.MemStore) SweepService {
	logger := zaptest.NewLogger(t)
	ledger := NewNotificationLedger(store.Notifications(), logger)
	return NewSweepService(store.Instances(), ledger, logger,
		WithSweepClock(func() time.Time { return sweepNow }),
		WithSweepLocation(tokyo(t)),
	)
}

func TestSweep_BreachBoundary(t *testing.T) {
	store := testutil.NewMemStore()
	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "fresh", Kind: entity.KindApplication, StateCode: "11", LastActivityAt: sweepNow.Add(-47 * time.Hour),
	})
	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "stale", Kind: entity.KindApplication, StateCode: "21", LastActivityAt: sweepNow.Add(-49 * time.Hour),
	})

	results, err := newSweep(t, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []SweepResult{
		{Ref: entity.InstanceRef{Kind: entity.KindApplication, ID: "fresh"}, Breached: false},
		{Ref: entity.InstanceRef{Kind: entity.KindApplication, ID: "stale"}, Breached: true},
	}, results)

	fresh := store.NotificationsFor(entity.InstanceRef{Kind: entity.KindApplication, ID: "fresh"})
	stale := store.NotificationsFor(entity.InstanceRef{Kind: entity.KindApplication, ID: "stale"})
	require.Len(t, fresh, 1)
	require.Len(t, stale, 1)
	assert.False(t, fresh[0].Resend)
	assert.True(t, stale[0].Resend)
	assert.Equal(t, "n-stale", stale[0].ID)
}

func TestSweep_ExactlyAtThresholdIsBreached(t *testing.T) {
	store := testutil.NewMemStore()
	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "edge", Kind: entity.KindCertificate, StateCode: "3", LastActivityAt: sweepNow.Add(-48 * time.Hour),
	})

	results, err := newSweep(t, store).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Breached)
}

func TestSweep_ReportPhaseUsesScheduledEnd(t *testing.T) {
	store := testutil.NewMemStore()
	recentEnd := sweepNow.Add(-10 * time.Hour)
	oldEnd := sweepNow.Add(-72 * time.Hour)

	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "awaiting-report", Kind: entity.KindApplication, StateCode: "31",
		LastActivityAt: sweepNow.Add(-200 * time.Hour), ScheduledEndAt: &recentEnd,
	})
	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "report-submitted", Kind: entity.KindApplication, StateCode: "32",
		LastActivityAt: sweepNow.Add(-time.Hour), ScheduledEndAt: &oldEnd,
	})
	seedWithNotification(store, &entity.WorkflowInstance{
		ID: "course", Kind: entity.KindApplication, StateCode: "22",
		LastActivityAt: sweepNow.Add(-time.Hour), ScheduledEndAt: &oldEnd,
	})

	results, err := newSweep(t, store).Run(context.Background())
	require.NoError(t, err)

	got := map[string]bool{}
	for _, r := range results {
		got[r.Ref.ID] = r.Breached
	}
	assert.Equal(t, map[string]bool{
		"awaiting-report":  false,
		"report-submitted": true,
		"course":           false,
	}, got)
}

func TestSweep_SkipsTerminalInstances(t *testing.T) {
	store := testutil.NewMemStore()
	old := sweepNow.Add(-100 * time.Hour)
	for _, code := range domainwf.TerminalApplicationCodes() {
		seedWithNotification(store, &entity.WorkflowInstance{ID: "app-" + code, Kind: entity.KindApplication, StateCode: code, LastActivityAt: old})
	}
	seedWithNotification(store, &entity.WorkflowInstance{ID: "cert-6", Kind: entity.KindCertificate, StateCode: "6", LastActivityAt: old})
	seedWithNotification(store, &entity.WorkflowInstance{ID: "cert-2", Kind: entity.KindCertificate, StateCode: "2", LastActivityAt: old})

	results, err := newSweep(t, store).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cert-2", results[0].Ref.ID)
}

func TestSweep_FailureAbortsAndKeepsEarlierFlags(t *testing.T) {
	store := testutil.NewMemStore()
	old := sweepNow.Add(-60 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		seedWithNotification(store, &entity.WorkflowInstance{ID: id, Kind: entity.KindApplication, StateCode: "11", LastActivityAt: old})
	}

	calls := 0
	store.Hook = func(op string) error {
		if op != "notification.set_resend" {
			return nil
		}
		calls++
		if calls == 2 {
			return errors.New("database is locked")
		}
		return nil
	}

	results, err := newSweep(t, store).Run(context.Background())
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, domainwf.ErrNotificationFailure))
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Ref.ID)

	assert.True(t, store.NotificationsFor(entity.InstanceRef{Kind: entity.KindApplication, ID: "a"})[0].Resend)
	assert.False(t, store.NotificationsFor(entity.InstanceRef{Kind: entity.KindApplication, ID: "c"})[0].Resend)
	assert.Equal(t, 1, store.Calls["instance.list_open"])
}

func TestSweep_ListFailure(t *testing.T) {
	store := testutil.NewMemStore()
	store.Fail["instance.list_open"] = errors.New("no such table")

	_, err := newSweep(t, store).Run(context.Background())
	assert.True(t, crdberrors.Is(err, domainwf.ErrPersistenceFailure))
}
