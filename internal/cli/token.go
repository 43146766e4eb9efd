package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
)

// NewTokenCmd mints a bearer token signed with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var id domain.Identity
	var role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret not configured")
			}
			id.Role = domain.Role(role)
			switch id.Role {
			case domain.RoleStudent, domain.RoleInstructor, domain.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, tokenTTL).GenerateToken(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleStudent), "student, instructor or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
