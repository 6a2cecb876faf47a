package repository

import (
	"context"
	"fmt"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// StatusRepository handles database operations for statuses and updates
type StatusRepository struct {
	db DB
}

// NewStatusRepository creates a new status repository
func NewStatusRepository(db DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Persist stores a status and its update in one transaction. When clientID
// is set, the reporting client is marked signed on with the update's
// timestamp as part of the same transaction.
func (r *StatusRepository) Persist(ctx context.Context, status *models.Status, update *models.Update, clientID *uuid.UUID) error {
	return WithTx(ctx, r.db, func(tx DBTX) error {
		statusQuery := `
			INSERT INTO whereabouts_statuses (user_id, whereabouts_id, set_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET whereabouts_id = EXCLUDED.whereabouts_id,
			    set_at = EXCLUDED.set_at
		`
		if _, err := tx.Exec(ctx, statusQuery, status.UserID, status.LocationID, status.SetAt); err != nil {
			return fmt.Errorf("failed to upsert status: %w", classify(err))
		}

		updateQuery := `
			INSERT INTO whereabouts_updates (id, user_id, whereabouts_id, created_at, source_address)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err := tx.Exec(ctx, updateQuery,
			update.ID, update.UserID, update.LocationID, update.CreatedAt, FormatAddress(update.SourceAddress),
		)
		if err != nil {
			return fmt.Errorf("failed to insert update: %w", classify(err))
		}

		if clientID != nil {
			if err := upsertLiveliness(ctx, tx, *clientID, true, update.CreatedAt); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetForParty retrieves a user's status if it points at a location of the party
func (r *StatusRepository) GetForParty(ctx context.Context, userID uuid.UUID, partyID string) (*models.Status, error) {
	query := `
		SELECT s.user_id, s.whereabouts_id, s.set_at
		FROM whereabouts_statuses s
		JOIN whereabouts w ON w.id = s.whereabouts_id
		WHERE s.user_id = $1 AND w.party_id = $2
	`
	var status models.Status
	err := r.db.QueryRow(ctx, query, userID, partyID).Scan(&status.UserID, &status.LocationID, &status.SetAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", classify(err))
	}
	return &status, nil
}

// ListForParty retrieves all statuses pointing at locations of the party
func (r *StatusRepository) ListForParty(ctx context.Context, partyID string) ([]*models.Status, error) {
	query := `
		SELECT s.user_id, s.whereabouts_id, s.set_at
		FROM whereabouts_statuses s
		JOIN whereabouts w ON w.id = s.whereabouts_id
		WHERE w.party_id = $1
		ORDER BY s.set_at DESC
	`
	rows, err := r.db.Query(ctx, query, partyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", classify(err))
	}
	defer rows.Close()

	var statuses []*models.Status
	for rows.Next() {
		var status models.Status
		if err := rows.Scan(&status.UserID, &status.LocationID, &status.SetAt); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, &status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statuses: %w", classify(err))
	}

	return statuses, nil
}

// ListUpdates retrieves a user's update history, oldest first
func (r *StatusRepository) ListUpdates(ctx context.Context, userID uuid.UUID) ([]*models.Update, error) {
	query := `
		SELECT id, user_id, whereabouts_id, created_at, source_address
		FROM whereabouts_updates
		WHERE user_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", classify(err))
	}
	defer rows.Close()

	var updates []*models.Update
	for rows.Next() {
		var update models.Update
		var address *string
		if err := rows.Scan(&update.ID, &update.UserID, &update.LocationID, &update.CreatedAt, &address); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		if update.SourceAddress, err = ParseAddress(address); err != nil {
			return nil, err
		}
		updates = append(updates, &update)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating updates: %w", classify(err))
	}

	return updates, nil
}
