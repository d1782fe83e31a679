package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/portal-workflow/internal/testutil"
)

var t0 = time.Date(2024, 6, 3, 1, 30, 0, 0, time.UTC)

func newApplication(id, code string) *entity.WorkflowInstance {
	return &entity.WorkflowInstance{
		ID:               id,
		Kind:             entity.KindApplication,
		StateCode:        code,
		Category:         3,
		OwnerUserID:      "student-1",
		SupervisorUserID: "teacher-1",
		LastActivityAt:   t0,
		CreatedAt:        t0,
	}
}

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewInstanceRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()

	end := t0.Add(72 * time.Hour)
	inst := newApplication("app-1", "11")
	inst.ScheduledEndAt = &end
	require.NoError(t, repo.Create(ctx, inst))

	got, err := repo.GetByID(ctx, inst.Ref())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "11", got.StateCode)
	assert.Equal(t, 3, got.Category)
	assert.Equal(t, entity.KindApplication, got.Kind)
	assert.False(t, got.SchoolChecked)
	assert.True(t, t0.Equal(got.LastActivityAt))
	require.NotNil(t, got.ScheduledEndAt)
	assert.True(t, end.Equal(*got.ScheduledEndAt))
	assert.Nil(t, got.ApprovedAt)

	// same id, other kind
	missing, err := repo.GetByID(ctx, entity.InstanceRef{Kind: entity.KindCertificate, ID: "app-1"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceRepository_Mutations(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewInstanceRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()

	inst := &entity.WorkflowInstance{
		ID: "cert-1", Kind: entity.KindCertificate, StateCode: "0", Media: "mail",
		OwnerUserID: "student-1", SupervisorUserID: "teacher-1", LastActivityAt: t0,
	}
	require.NoError(t, repo.Create(ctx, inst))

	later := t0.Add(2 * time.Hour)
	require.NoError(t, repo.UpdateState(ctx, inst.Ref(), "1", later))
	require.NoError(t, repo.MarkSchoolChecked(ctx, inst.Ref()))
	require.NoError(t, repo.SetHandler(ctx, inst.Ref(), "office-7"))
	require.NoError(t, repo.SetApprovedAt(ctx, inst.Ref(), later))

	got, err := repo.GetByID(ctx, inst.Ref())
	require.NoError(t, err)
	assert.Equal(t, "1", got.StateCode)
	assert.True(t, later.Equal(got.LastActivityAt))
	assert.True(t, got.SchoolChecked)
	assert.Equal(t, "office-7", got.HandlerUserID)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, later.Equal(*got.ApprovedAt))

	err = repo.UpdateState(ctx, entity.InstanceRef{Kind: entity.KindCertificate, ID: "nope"}, "2", later)
	assert.Error(t, err)

	require.NoError(t, repo.Delete(ctx, inst.Ref()))
	got, err = repo.GetByID(ctx, inst.Ref())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, repo.Delete(ctx, inst.Ref()))
}

func TestInstanceRepository_Lists(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewInstanceRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, in := range []*entity.WorkflowInstance{
		newApplication("a-3", "33"),
		newApplication("a-1", "11"),
		newApplication("a-0", "00"),
		newApplication("a-2", "21"),
		{ID: "c-1", Kind: entity.KindCertificate, StateCode: "1", OwnerUserID: "s", SupervisorUserID: "t", LastActivityAt: t0},
	} {
		require.NoError(t, repo.Create(ctx, in))
	}

	open, err := repo.ListOpen(ctx, entity.KindApplication, []string{"00", "33", "34"})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a-1", open[0].ID)
	assert.Equal(t, "a-2", open[1].ID)

	all, err := repo.ListOpen(ctx, entity.KindApplication, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	approved, err := repo.ListByState(ctx, entity.KindCertificate, "1")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "c-1", approved[0].ID)
}

func TestInstanceRepository_JoinsTransaction(t *testing.T) {
	db := testutil.NewTestDB(t)
	logger := zaptest.NewLogger(t)
	repo := NewInstanceRepository(db, logger)
	tx := sqlite.NewDB(db, logger)
	ctx := context.Background()

	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.Create(txCtx, newApplication("rolled-back", "11")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, entity.InstanceRef{Kind: entity.KindApplication, ID: "rolled-back"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInstanceRepository_ErrorPaths(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewInstanceRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()
	ref := entity.InstanceRef{Kind: entity.KindApplication, ID: "app-1"}

	mock.ExpectExec("UPDATE workflow_instances").
		WithArgs("21", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, "app-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateState(ctx, ref, "21", t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	mock.ExpectQuery("SELECT (.+) FROM workflow_instances").
		WillReturnError(errors.New("disk I/O error"))
	_, err = repo.ListOpen(ctx, entity.KindApplication, []string{"00"})
	assert.Error(t, err)

	mock.ExpectExec("DELETE FROM workflow_instances").
		WithArgs(0, "app-1").
		WillReturnError(errors.New("database is locked"))
	err = repo.Delete(ctx, ref)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
