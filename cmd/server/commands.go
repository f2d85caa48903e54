package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/dialq/internal/api/middleware"
	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyRandomBytes = 24

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := store.RunMigrations(cfg.URL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newCreateAPIKeyCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-api-key",
		Short: "Issue an API key for an existing user and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := store.Connect(ctx, *cfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			return issueAPIKey(ctx, store.NewPostgresStore(pool), email, name, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user the key acts as")
	cmd.Flags().StringVar(&name, "name", "default", "label shown when listing keys")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type keyIssuer interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// issueAPIKey creates a key for the user with the given email and writes
// the raw key to out. Only the bcrypt hash is stored.
func issueAPIKey(ctx context.Context, s keyIssuer, email, name string, out io.Writer) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}

	user, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user with email %q", email)
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}

	raw, err := generateAPIKey()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	fmt.Fprintf(out, "%s\n", raw)
	return nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return mw.APIKeyPrefix + hex.EncodeToString(buf), nil
}
