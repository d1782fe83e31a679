package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/testutil"
)

func TestNotificationRepository_InsertListDelete(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()

	app := entity.InstanceRef{Kind: entity.KindApplication, ID: "x-1"}
	cert := entity.InstanceRef{Kind: entity.KindCertificate, ID: "x-1"}

	require.NoError(t, repo.Insert(ctx, &entity.Notification{ID: "n-1", TargetUserID: "teacher-1", InstanceID: "x-1", Kind: entity.KindApplication, CreatedAt: t0}))
	require.NoError(t, repo.Insert(ctx, &entity.Notification{ID: "n-2", TargetUserID: "office-1", InstanceID: "x-1", Kind: entity.KindCertificate, CreatedAt: t0}))

	appRows, err := repo.ListByInstance(ctx, app)
	require.NoError(t, err)
	require.Len(t, appRows, 1)
	assert.Equal(t, "n-1", appRows[0].ID)
	assert.Equal(t, "x-1", appRows[0].InstanceID)
	assert.False(t, appRows[0].Resend)

	n, err := repo.DeleteByInstance(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	appRows, err = repo.ListByInstance(ctx, app)
	require.NoError(t, err)
	assert.Empty(t, appRows)

	certRows, err := repo.ListByInstance(ctx, cert)
	require.NoError(t, err)
	assert.Len(t, certRows, 1, "same id under the other kind is untouched")

	var links int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM application_notifications").Scan(&links))
	assert.Equal(t, 0, links)

	n, err = repo.DeleteByInstance(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNotificationRepository_SetResendAndUserOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &entity.Notification{ID: "n-a", TargetUserID: "teacher-1", InstanceID: "a", Kind: entity.KindApplication, CreatedAt: t0}))
	require.NoError(t, repo.Insert(ctx, &entity.Notification{ID: "n-b", TargetUserID: "teacher-1", InstanceID: "b", Kind: entity.KindCertificate, CreatedAt: t0.Add(1)}))

	n, err := repo.SetResendByInstance(ctx, entity.InstanceRef{Kind: entity.KindCertificate, ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := repo.ListByUser(ctx, "teacher-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "n-b", rows[0].ID)
	assert.True(t, rows[0].Resend)
	assert.Equal(t, "b", rows[0].InstanceID)
	assert.Equal(t, entity.KindCertificate, rows[0].Kind)
	assert.Equal(t, "n-a", rows[1].ID)
	assert.Equal(t, "a", rows[1].InstanceID)

	var flag string
	require.NoError(t, db.QueryRow("SELECT resend_flag FROM notifications WHERE notification_id = 'n-b'").Scan(&flag))
	assert.Equal(t, "1", flag)
}

func TestNotificationRepository_UnknownKind(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository(db, zaptest.NewLogger(t))

	err := repo.Insert(context.Background(), &entity.Notification{ID: "n", TargetUserID: "u", InstanceID: "i", Kind: entity.Kind(9)})
	assert.Error(t, err)
}

func TestNotificationRepository_InsertRollsBackOnLinkFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewNotificationRepository(db, zaptest.NewLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO application_notifications").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err = repo.Insert(context.Background(), &entity.Notification{ID: "n-1", TargetUserID: "teacher-1", InstanceID: "a", Kind: entity.KindApplication})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to link notification")
	assert.NoError(t, mock.ExpectationsWereMet())
}
