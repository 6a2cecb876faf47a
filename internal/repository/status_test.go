package repository

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusFixture(now time.Time) (*models.Status, *models.Update) {
	userID := uuid.New()
	locationID := uuid.New()
	addr := netip.MustParseAddr("10.0.0.7")
	status := &models.Status{UserID: userID, LocationID: locationID, SetAt: now}
	update := &models.Update{
		ID:            uuid.Must(uuid.NewV7()),
		UserID:        userID,
		LocationID:    locationID,
		CreatedAt:     now,
		SourceAddress: &addr,
	}
	return status, update
}

func TestStatusRepository_Persist_CommitsStatusAndUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	status, update := newStatusFixture(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whereabouts_statuses").
		WithArgs(status.UserID, status.LocationID, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO whereabouts_updates").
		WithArgs(update.ID, update.UserID, update.LocationID, now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewStatusRepository(mock)
	require.NoError(t, repo.Persist(context.Background(), status, update, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepository_Persist_MarksReportingClientSignedOn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	status, update := newStatusFixture(now)
	clientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whereabouts_statuses").
		WithArgs(status.UserID, status.LocationID, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO whereabouts_updates").
		WithArgs(update.ID, update.UserID, update.LocationID, now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO whereabouts_client_liveliness_statuses").
		WithArgs(clientID, true, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewStatusRepository(mock)
	require.NoError(t, repo.Persist(context.Background(), status, update, &clientID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepository_Persist_RollsBackWhenUpdateInsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	status, update := newStatusFixture(time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whereabouts_statuses").
		WithArgs(status.UserID, status.LocationID, status.SetAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO whereabouts_updates").
		WithArgs(update.ID, update.UserID, update.LocationID, update.CreatedAt, pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	repo := NewStatusRepository(mock)
	err = repo.Persist(context.Background(), status, update, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepository_Persist_ContentionIsTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	status, update := newStatusFixture(time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whereabouts_statuses").
		WithArgs(status.UserID, status.LocationID, status.SetAt).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	repo := NewStatusRepository(mock)
	err = repo.Persist(context.Background(), status, update, nil)
	assert.ErrorIs(t, err, models.ErrTransientStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepository_ListUpdates_ParsesSourceAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	locationID := uuid.New()
	addr := "2001:db8::1"
	now := time.Now().UTC()

	mock.ExpectQuery("FROM whereabouts_updates").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "whereabouts_id", "created_at", "source_address"}).
			AddRow(uuid.New(), userID, locationID, now, &addr).
			AddRow(uuid.New(), userID, locationID, now.Add(time.Minute), (*string)(nil)))

	repo := NewStatusRepository(mock)
	updates, err := repo.ListUpdates(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.NotNil(t, updates[0].SourceAddress)
	assert.Equal(t, netip.MustParseAddr(addr), *updates[0].SourceAddress)
	assert.Nil(t, updates[1].SourceAddress)
}

func TestStatusRepository_GetForParty_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectQuery("FROM whereabouts_statuses").
		WithArgs(userID, "acmecon-2014").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "whereabouts_id", "set_at"}))

	repo := NewStatusRepository(mock)
	_, err = repo.GetForParty(context.Background(), userID, "acmecon-2014")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
