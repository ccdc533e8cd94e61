package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/auth"
	"github.com/usyd/webcrawler-rag/internal/clock/system"
	"github.com/usyd/webcrawler-rag/internal/id/uuid"
	pgstore "github.com/usyd/webcrawler-rag/internal/storage/postgres"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manages user accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Creates a user with a bcrypt hashed password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			clock := system.New()
			svc, err := auth.NewService(
				pgstore.NewUserStore(db),
				auth.NewMemoryRevocations(clock),
				auth.Config{SecretKey: cfg.Auth.SecretKey, TokenTTL: cfg.Auth.TokenTTL, Issuer: cfg.Auth.Issuer},
				clock,
				uuid.New(),
				zap.NewNop(),
			)
			if err != nil {
				return fmt.Errorf("auth init: %w", err)
			}
			user, err := svc.CreateUser(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	return cmd
}
