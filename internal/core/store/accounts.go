package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialrelay/socialrelay/internal/core"
)

const accountColumns = `id, user_id, team_id, platform, platform_user_id, username, display_name,
	access_token, refresh_token, token_expires_at, scopes, is_active, deactivation_reason,
	last_sync_at, created_at, updated_at`

// AccountFilter narrows ListAccounts. Zero values match everything.
type AccountFilter struct {
	UserID     string
	Platform   core.Platform
	ActiveOnly bool
}

// GetAccount returns the account with id, or core.ErrAccountNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (*core.SocialAccount, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM social_accounts WHERE id = ?`, id)
	account, err := s.scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return account, nil
}

// GetUserAccounts returns every account owned by userID, active or not.
func (s *Store) GetUserAccounts(ctx context.Context, userID string) ([]core.SocialAccount, error) {
	return s.ListAccounts(ctx, AccountFilter{UserID: userID})
}

// GetAccountsNeedingRefresh returns active accounts whose token expires at
// or before cutoff.
func (s *Store) GetAccountsNeedingRefresh(ctx context.Context, cutoff time.Time) ([]core.SocialAccount, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM social_accounts
		WHERE is_active = 1
			AND token_expires_at IS NOT NULL
			AND token_expires_at <= ?
		ORDER BY token_expires_at ASC, id ASC
	`, cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query expiring accounts: %w", err)
	}
	return s.collectAccounts(rows)
}

// ListAccounts returns accounts matching filter, newest first.
func (s *Store) ListAccounts(ctx context.Context, filter AccountFilter) ([]core.SocialAccount, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Platform != "" {
		clauses = append(clauses, "platform = ?")
		args = append(args, string(filter.Platform))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = 1")
	}

	query := `SELECT ` + accountColumns + ` FROM social_accounts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return s.collectAccounts(rows)
}

// UpsertAccount stores a newly connected account. Reconnecting the same
// platform identity for the same user keeps the existing id, replaces the
// credentials and reactivates the account.
func (s *Store) UpsertAccount(ctx context.Context, account core.SocialAccount) (*core.SocialAccount, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if strings.TrimSpace(account.UserID) == "" || strings.TrimSpace(account.PlatformUserID) == "" {
		return nil, errors.New("user id and platform user id are required")
	}
	if !account.Platform.Valid() {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedPlatform, account.Platform)
	}
	if account.AccessToken == "" {
		return nil, errors.New("access token is required")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin account upsert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM social_accounts
		WHERE platform = ? AND platform_user_id = ? AND user_id = ?
	`, string(account.Platform), account.PlatformUserID, account.UserID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = account.ID
		if id == "" {
			id = uuid.NewString()
		}
	case err != nil:
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	access, refresh, err := s.sealTokens(id, account.AccessToken, account.RefreshToken)
	if err != nil {
		return nil, err
	}
	scopes, err := encodeJSON(account.Scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}

	now := s.clock().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO social_accounts (
			id, user_id, team_id, platform, platform_user_id, username, display_name,
			access_token, refresh_token, token_expires_at, scopes, is_active,
			deactivation_reason, last_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, ?, ?, ?)
		ON CONFLICT(platform, platform_user_id, user_id) DO UPDATE SET
			team_id = excluded.team_id,
			username = excluded.username,
			display_name = excluded.display_name,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			scopes = excluded.scopes,
			is_active = 1,
			deactivation_reason = NULL,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`, id, account.UserID, nullString(account.TeamID), string(account.Platform), account.PlatformUserID,
		nullString(account.Username), nullString(account.DisplayName), access, nullString(refresh),
		nullTime(account.TokenExpiresAt), scopes, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("store account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit account upsert: %w", err)
	}
	return s.GetAccount(ctx, id)
}

// UpdateTokens writes refreshed credentials, stamps the sync time and
// reactivates the account. An empty refresh token keeps the stored one.
func (s *Store) UpdateTokens(ctx context.Context, id string, update core.TokenUpdate) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	access, refresh, err := s.sealTokens(id, update.AccessToken, update.RefreshToken)
	if err != nil {
		return err
	}

	now := s.clock().Unix()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE social_accounts SET
			access_token = ?,
			refresh_token = COALESCE(?, refresh_token),
			token_expires_at = ?,
			is_active = 1,
			deactivation_reason = NULL,
			last_sync_at = ?,
			updated_at = ?
		WHERE id = ?
	`, access, nullString(refresh), nullTime(update.TokenExpiresAt), now, now, id)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return requireRow(res, core.ErrAccountNotFound)
}

// MarkInactive deactivates the account and records why.
func (s *Store) MarkInactive(ctx context.Context, id string, reason string) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE social_accounts SET is_active = 0, deactivation_reason = ?, updated_at = ?
		WHERE id = ?
	`, nullString(reason), s.clock().Unix(), id)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	return requireRow(res, core.ErrAccountNotFound)
}

func (s *Store) sealTokens(id, access, refresh string) (string, string, error) {
	sealedAccess, err := s.cipher.Seal(access, id+":access_token")
	if err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := s.cipher.Seal(refresh, id+":refresh_token")
	if err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return sealedAccess, sealedRefresh, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row rowScanner) (*core.SocialAccount, error) {
	var (
		account                       core.SocialAccount
		platform, access              string
		teamID, username, displayName sql.NullString
		refresh, scopes, reason       sql.NullString
		expiresAt, lastSync           sql.NullInt64
		isActive                      int
		createdAt, updatedAt          int64
	)
	if err := row.Scan(&account.ID, &account.UserID, &teamID, &platform, &account.PlatformUserID,
		&username, &displayName, &access, &refresh, &expiresAt, &scopes, &isActive, &reason,
		&lastSync, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	account.Platform = core.Platform(platform)
	account.TeamID = teamID.String
	account.Username = username.String
	account.DisplayName = displayName.String
	account.IsActive = isActive == 1
	account.DeactivationReason = reason.String
	account.TokenExpiresAt = timeFromNull(expiresAt)
	account.LastSyncAt = timeFromNull(lastSync)
	account.CreatedAt = time.Unix(createdAt, 0).UTC()
	account.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if scopes.Valid && scopes.String != "" {
		if err := json.Unmarshal([]byte(scopes.String), &account.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}

	var err error
	if account.AccessToken, err = s.cipher.Open(access, account.ID+":access_token"); err != nil {
		return nil, fmt.Errorf("open access token for %s: %w", account.ID, err)
	}
	if account.RefreshToken, err = s.cipher.Open(refresh.String, account.ID+":refresh_token"); err != nil {
		return nil, fmt.Errorf("open refresh token for %s: %w", account.ID, err)
	}
	return &account, nil
}

func (s *Store) collectAccounts(rows *sql.Rows) ([]core.SocialAccount, error) {
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var accounts []core.SocialAccount
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}
