package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core/secrets"
	"github.com/socialrelay/socialrelay/internal/core/store"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
	"github.com/socialrelay/socialrelay/internal/observability"
)

// openStore opens and migrates the token store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	cipher, err := tokenCipher(cfg.Security)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Store, cipher)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	observability.Logger().Debug("Token store ready",
		zap.String("driver", db.Driver()),
		zap.Bool("encrypted", db.Encrypted()))
	return db, nil
}

// tokenCipher builds the cipher tokens are sealed with. A missing key is a
// configuration error unless plaintext storage was explicitly allowed.
func tokenCipher(sec config.SecurityConfig) (*secrets.Cipher, error) {
	key := strings.TrimSpace(sec.TokenEncryptionKey)
	if key == "" {
		if !sec.AllowPlaintextTokens {
			return nil, apperrors.NewConfigInvalidError(
				"security.token_encryption_key is required (set security.allow_plaintext_tokens for local development)")
		}
		observability.Logger().Warn("token encryption key not set; tokens are stored in plaintext")
		return nil, nil
	}
	c, err := secrets.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("token encryption key: %w", err)
	}
	return c, nil
}
