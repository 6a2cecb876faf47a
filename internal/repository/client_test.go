package repository

import (
	"context"
	"testing"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRepository_Approve_InitializesLiveliness(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clientID := uuid.New()
	registeredAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE whereabouts_clients").
		WithArgs(clientID, models.ClientApproved, "secret-token", models.ClientPending).
		WillReturnRows(pgxmock.NewRows([]string{"registered_at"}).AddRow(registeredAt))
	mock.ExpectExec("INSERT INTO whereabouts_client_liveliness_statuses").
		WithArgs(clientID, false, registeredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewClientRepository(mock)
	require.NoError(t, repo.Approve(context.Background(), clientID, "secret-token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientRepository_Approve_NotPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE whereabouts_clients").
		WithArgs(clientID, models.ClientApproved, "secret-token", models.ClientPending).
		WillReturnRows(pgxmock.NewRows([]string{"registered_at"}))
	mock.ExpectRollback()

	repo := NewClientRepository(mock)
	err = repo.Approve(context.Background(), clientID, "secret-token")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientRepository_MarkDeleted(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "approved client", affected: 1},
		{name: "not approved", affected: 0, wantErr: models.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			clientID := uuid.New()
			mock.ExpectExec("UPDATE whereabouts_clients").
				WithArgs(clientID, models.ClientDeleted, models.ClientApproved).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			repo := NewClientRepository(mock)
			err = repo.MarkDeleted(context.Background(), clientID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClientRepository_DeleteCandidate_OnlyPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clientID := uuid.New()
	mock.ExpectExec("DELETE FROM whereabouts_clients").
		WithArgs(clientID, models.ClientPending).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewClientRepository(mock)
	err = repo.DeleteCandidate(context.Background(), clientID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestClientRepository_ListWithLiveliness(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registeredAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	token := "abc"
	columns := []string{
		"id", "registered_at", "button_count", "audio_output", "authority_status",
		"token", "location", "description", "config_id", "signed_on", "latest_activity_at",
	}
	mock.ExpectQuery("LEFT JOIN whereabouts_client_liveliness_statuses").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(uuid.New(), registeredAt, 3, true, models.ClientPending,
				(*string)(nil), (*string)(nil), (*string)(nil), (*uuid.UUID)(nil), false, registeredAt).
			AddRow(uuid.New(), registeredAt, 1, false, models.ClientApproved,
				&token, (*string)(nil), (*string)(nil), (*uuid.UUID)(nil), true, registeredAt.Add(time.Hour)))

	repo := NewClientRepository(mock)
	clients, err := repo.ListWithLiveliness(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 2)

	assert.True(t, clients[0].Pending())
	assert.False(t, clients[0].SignedOn)
	assert.Equal(t, registeredAt, clients[0].LatestActivityAt)
	assert.Nil(t, clients[0].Token)

	assert.True(t, clients[1].Approved())
	assert.True(t, clients[1].SignedOn)
	require.NotNil(t, clients[1].Token)
	assert.Equal(t, "abc", *clients[1].Token)
}
