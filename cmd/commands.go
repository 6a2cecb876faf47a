package cmd

import (
	"fmt"
	"time"

	"whereabouts-backend/internal/repository"
	"whereabouts-backend/internal/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			db, err := connectDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Msg("Database migrations applied")
			return nil
		},
	}
}

func tokenCommand(configPath *string) *cobra.Command {
	var (
		userID      string
		permissions []string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an administrator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.JWT.TTL
			}

			token, err := issueToken(services.NewAuthService(cfg.JWT.Secret), userID, permissions, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "ID of the administrating user")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{services.PermissionView}, "granted permissions")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.ttl)")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func issueToken(auth *services.AuthService, rawUserID string, permissions []string, ttl time.Duration) (string, error) {
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return "", fmt.Errorf("invalid user id %q: %w", rawUserID, err)
	}

	for _, p := range permissions {
		switch p {
		case services.PermissionView, services.PermissionAdministrate:
		default:
			return "", fmt.Errorf("unknown permission %q", p)
		}
	}

	token, err := auth.GenerateJWT(userID, permissions, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}
