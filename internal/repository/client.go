package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ClientRepository handles database operations for hardware clients
type ClientRepository struct {
	db DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `
	c.id, c.registered_at, c.button_count, c.audio_output, c.authority_status,
	c.token, c.location, c.description, c.config_id
`

// CreateCandidate inserts a pending client
func (r *ClientRepository) CreateCandidate(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO whereabouts_clients (id, registered_at, button_count, audio_output, authority_status)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		client.ID, client.RegisteredAt, client.ButtonCount, client.AudioOutput, models.ClientPending,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", classify(err))
	}
	return nil
}

// Approve moves a pending client to approved, stores its token and
// initializes its liveliness. A client that is not pending yields
// ErrInvalidState.
func (r *ClientRepository) Approve(ctx context.Context, clientID uuid.UUID, token string) error {
	return WithTx(ctx, r.db, func(tx DBTX) error {
		query := `
			UPDATE whereabouts_clients
			SET authority_status = $2, token = $3
			WHERE id = $1 AND authority_status = $4
			RETURNING registered_at
		`
		var registeredAt time.Time
		err := tx.QueryRow(ctx, query, clientID, models.ClientApproved, token, models.ClientPending).Scan(&registeredAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("client %s is not pending: %w", clientID, models.ErrInvalidState)
		}
		if err != nil {
			return fmt.Errorf("failed to approve client: %w", classify(err))
		}

		return upsertLiveliness(ctx, tx, clientID, false, registeredAt)
	})
}

// MarkDeleted moves an approved client to deleted and clears its token.
// A client that is not approved yields ErrInvalidState.
func (r *ClientRepository) MarkDeleted(ctx context.Context, clientID uuid.UUID) error {
	query := `
		UPDATE whereabouts_clients
		SET authority_status = $2, token = NULL
		WHERE id = $1 AND authority_status = $3
	`
	tag, err := r.db.Exec(ctx, query, clientID, models.ClientDeleted, models.ClientApproved)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s is not approved: %w", clientID, models.ErrInvalidState)
	}
	return nil
}

// DeleteCandidate physically removes a pending client.
// A client that is not pending yields ErrInvalidState.
func (r *ClientRepository) DeleteCandidate(ctx context.Context, clientID uuid.UUID) error {
	query := `
		DELETE FROM whereabouts_clients
		WHERE id = $1 AND authority_status = $2
	`
	tag, err := r.db.Exec(ctx, query, clientID, models.ClientPending)
	if err != nil {
		return fmt.Errorf("failed to delete client candidate: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s is not pending: %w", clientID, models.ErrInvalidState)
	}
	return nil
}

// UpdateDetails sets the administrator-assigned metadata of a client
func (r *ClientRepository) UpdateDetails(ctx context.Context, clientID uuid.UUID, location, description *string, configID *uuid.UUID) error {
	query := `
		UPDATE whereabouts_clients
		SET location = $2, description = $3, config_id = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, clientID, location, description, configID)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s: %w", clientID, models.ErrNotFound)
	}
	return nil
}

// SetLiveliness records whether a client is signed on
func (r *ClientRepository) SetLiveliness(ctx context.Context, clientID uuid.UUID, signedOn bool, at time.Time) error {
	return upsertLiveliness(ctx, r.db, clientID, signedOn, at)
}

func upsertLiveliness(ctx context.Context, db DBTX, clientID uuid.UUID, signedOn bool, at time.Time) error {
	query := `
		INSERT INTO whereabouts_client_liveliness_statuses (client_id, signed_on, latest_activity_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE
		SET signed_on = EXCLUDED.signed_on,
		    latest_activity_at = EXCLUDED.latest_activity_at
	`
	if _, err := db.Exec(ctx, query, clientID, signedOn, at); err != nil {
		return fmt.Errorf("failed to update client liveliness: %w", classify(err))
	}
	return nil
}

// GetByID retrieves a client by ID regardless of its state
func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	query := `SELECT` + clientColumns + `
		FROM whereabouts_clients c
		WHERE c.id = $1
	`
	client, err := scanClient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", classify(err))
	}
	return client, nil
}

// GetByToken retrieves the approved client holding the token
func (r *ClientRepository) GetByToken(ctx context.Context, token string) (*models.Client, error) {
	query := `SELECT` + clientColumns + `
		FROM whereabouts_clients c
		WHERE c.token = $1 AND c.authority_status = $2
	`
	client, err := scanClient(r.db.QueryRow(ctx, query, token, models.ClientApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to get client by token: %w", classify(err))
	}
	return client, nil
}

// ListWithLiveliness retrieves all clients. Clients without a liveliness
// row report signed off with their registration time as latest activity.
func (r *ClientRepository) ListWithLiveliness(ctx context.Context) ([]*models.ClientWithLiveliness, error) {
	query := `SELECT` + clientColumns + `,
			COALESCE(l.signed_on, FALSE),
			COALESCE(l.latest_activity_at, c.registered_at)
		FROM whereabouts_clients c
		LEFT JOIN whereabouts_client_liveliness_statuses l ON l.client_id = c.id
		ORDER BY c.registered_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", classify(err))
	}
	defer rows.Close()

	var clients []*models.ClientWithLiveliness
	for rows.Next() {
		var c models.ClientWithLiveliness
		err := rows.Scan(
			&c.ID, &c.RegisteredAt, &c.ButtonCount, &c.AudioOutput, &c.AuthorityStatus,
			&c.Token, &c.Location, &c.Description, &c.ConfigID,
			&c.SignedOn, &c.LatestActivityAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", classify(err))
	}

	return clients, nil
}

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ID, &c.RegisteredAt, &c.ButtonCount, &c.AudioOutput, &c.AuthorityStatus,
		&c.Token, &c.Location, &c.Description, &c.ConfigID,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConfig inserts a client configuration
func (r *ClientRepository) CreateConfig(ctx context.Context, cfg *models.ClientConfig) error {
	query := `
		INSERT INTO whereabouts_client_configs (id, title, description, content)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, cfg.ID, cfg.Title, cfg.Description, []byte(cfg.Content)); err != nil {
		return fmt.Errorf("failed to create client config: %w", classify(err))
	}
	return nil
}

// GetConfig retrieves a client configuration by ID
func (r *ClientRepository) GetConfig(ctx context.Context, id uuid.UUID) (*models.ClientConfig, error) {
	query := `
		SELECT id, title, description, content
		FROM whereabouts_client_configs
		WHERE id = $1
	`
	var cfg models.ClientConfig
	var content []byte
	if err := r.db.QueryRow(ctx, query, id).Scan(&cfg.ID, &cfg.Title, &cfg.Description, &content); err != nil {
		return nil, fmt.Errorf("failed to get client config: %w", classify(err))
	}
	cfg.Content = content
	return &cfg, nil
}

// ListConfigs retrieves all client configurations ordered by title
func (r *ClientRepository) ListConfigs(ctx context.Context) ([]*models.ClientConfig, error) {
	query := `
		SELECT id, title, description, content
		FROM whereabouts_client_configs
		ORDER BY title
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list client configs: %w", classify(err))
	}
	defer rows.Close()

	var configs []*models.ClientConfig
	for rows.Next() {
		var cfg models.ClientConfig
		var content []byte
		if err := rows.Scan(&cfg.ID, &cfg.Title, &cfg.Description, &content); err != nil {
			return nil, fmt.Errorf("failed to scan client config: %w", err)
		}
		cfg.Content = content
		configs = append(configs, &cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client configs: %w", classify(err))
	}

	return configs, nil
}
