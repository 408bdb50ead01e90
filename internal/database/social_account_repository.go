package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialpulse/socialpulse/internal/models"
	"github.com/socialpulse/socialpulse/internal/retry"
	"github.com/socialpulse/socialpulse/internal/security"
)

const accountColumns = `id, user_id, platform, platform_user_id, username, display_name,
	avatar_url, account_type, is_active, metadata, created_at, updated_at`

const defaultTokenType = "bearer"

// SQLSocialAccountRepository stores social accounts and their encrypted
// credentials.
type SQLSocialAccountRepository struct {
	db     *DB
	cipher *security.TokenCipher
	logger *slog.Logger
	now    func() time.Time
	policy retry.Policy
}

// NewSQLSocialAccountRepository creates a repository. Tokens are encrypted
// with cipher before they are written.
func NewSQLSocialAccountRepository(db *DB, cipher *security.TokenCipher, logger *slog.Logger) *SQLSocialAccountRepository {
	return &SQLSocialAccountRepository{
		db:     db,
		cipher: cipher,
		logger: logger,
		now:    time.Now,
		policy: retry.DefaultPolicy(),
	}
}

// SetClock replaces the time source used for timestamps and expiry checks.
func (r *SQLSocialAccountRepository) SetClock(now func() time.Time) {
	r.now = now
}

// SetRetryPolicy replaces the policy used when concurrent activations collide.
func (r *SQLSocialAccountRepository) SetRetryPolicy(policy retry.Policy) {
	r.policy = policy
}

func (r *SQLSocialAccountRepository) q(query string) string {
	return r.db.Dialect.Rebind(query)
}

func (r *SQLSocialAccountRepository) ListAccounts(ctx context.Context, userID string) ([]*models.SocialAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM social_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	accounts, err := r.queryAccounts(ctx, query, userID)
	return accounts, wrapErr("list accounts", err)
}

// ListActiveAccounts returns every user's active account on platform, oldest
// first.
func (r *SQLSocialAccountRepository) ListActiveAccounts(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM social_accounts
		WHERE platform = $1 AND is_active = $2
		ORDER BY created_at ASC, id ASC
	`

	accounts, err := r.queryAccounts(ctx, query, string(platform), true)
	return accounts, wrapErr("list active accounts", err)
}

func (r *SQLSocialAccountRepository) queryAccounts(ctx context.Context, query string, args ...interface{}) ([]*models.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*models.SocialAccount, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// GetAccount returns nil when no account has id. Ids that are not UUIDs
// cannot exist and are reported the same way.
func (r *SQLSocialAccountRepository) GetAccount(ctx context.Context, id string) (*models.SocialAccount, error) {
	if !isAccountID(id) {
		return nil, nil
	}
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, r.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get account", err)
	}
	return account, nil
}

func (r *SQLSocialAccountRepository) GetActiveAccount(ctx context.Context, userID string, platform models.Platform) (*models.SocialAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND platform = $2 AND is_active = $3
	`

	account, err := scanAccount(r.db.QueryRowContext(ctx, r.q(query), userID, string(platform), true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get active account", err)
	}
	return account, nil
}

// CreateAccount deactivates the user's other accounts on the same platform and
// inserts account as active, in one transaction. A concurrent create for the
// same user and platform trips the partial unique index; the transaction is
// then retried so the latest writer ends up as the single active account.
func (r *SQLSocialAccountRepository) CreateAccount(ctx context.Context, account *models.SocialAccount) error {
	return wrapErr("create account", r.createAccount(ctx, account, nil))
}

// CreateAccountWithToken stores account as the active one for its user and
// platform together with its encrypted credential. Either both rows are
// written and the siblings deactivated, or nothing changes.
func (r *SQLSocialAccountRepository) CreateAccountWithToken(ctx context.Context, account *models.SocialAccount, input models.TokenInput) (*models.AccessToken, error) {
	if input.AccessToken == "" {
		return nil, models.ValidationError{Field: "access_token", Message: "access token is required"}
	}
	if err := r.createAccount(ctx, account, &input); err != nil {
		return nil, wrapErr("create account", err)
	}

	token, err := r.getToken(ctx, account.ID)
	if err != nil {
		return nil, wrapErr("create account", err)
	}
	return token, nil
}

func (r *SQLSocialAccountRepository) createAccount(ctx context.Context, account *models.SocialAccount, token *models.TokenInput) error {
	if err := validateNewAccount(account); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("marshal account metadata: %w", err)
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	var sealed *sealedToken
	if token != nil {
		token.SocialAccountID = account.ID
		if sealed, err = r.sealToken(*token); err != nil {
			return err
		}
	}

	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		now := r.now().UTC()
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if err := r.deactivateSiblings(ctx, tx, account.UserID, account.Platform, now); err != nil {
				return err
			}

			query := `
				INSERT INTO social_accounts
				(id, user_id, platform, platform_user_id, username, display_name,
				 avatar_url, account_type, is_active, metadata, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`
			_, err := tx.ExecContext(ctx, r.q(query),
				account.ID,
				account.UserID,
				string(account.Platform),
				account.PlatformUserID,
				account.Username,
				account.DisplayName,
				account.AvatarURL,
				account.AccountType,
				true,
				string(metadataJSON),
				now,
				now,
			)
			if err != nil || sealed == nil {
				return err
			}
			return r.upsertToken(ctx, tx, sealed, now)
		})
		if isUniqueViolation(err) {
			r.logger.Debug("active account conflict, retrying create",
				"user_id", account.UserID,
				"platform", account.Platform,
			)
			return retry.NewRetryableError(err)
		}
		if err == nil {
			account.IsActive = true
			account.CreatedAt = now
			account.UpdatedAt = now
		}
		return err
	})
}

// isAccountID reports whether id has the UUID form every stored account id
// takes. Postgres rejects anything else in a UUID column with an error.
func isAccountID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func validateNewAccount(account *models.SocialAccount) error {
	if account == nil {
		return models.ValidationError{Field: "account", Message: "account is required"}
	}
	if account.ID != "" && !isAccountID(account.ID) {
		return models.ValidationError{Field: "id", Message: "id must be a UUID"}
	}
	if strings.TrimSpace(account.UserID) == "" {
		return models.ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if !account.Platform.Valid() {
		return models.ValidationError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", account.Platform)}
	}
	if strings.TrimSpace(account.PlatformUserID) == "" {
		return models.ValidationError{Field: "platform_user_id", Message: "platform user id is required"}
	}
	if strings.TrimSpace(account.Username) == "" {
		return models.ValidationError{Field: "username", Message: "username is required"}
	}
	return nil
}

// UpdateAccount applies the whitelisted fields in update. Activating an
// account deactivates its siblings in the same transaction.
func (r *SQLSocialAccountRepository) UpdateAccount(ctx context.Context, id string, update models.AccountUpdate) (*models.SocialAccount, error) {
	if update.Empty() {
		return nil, models.ValidationError{Field: "updates", Message: "no updatable fields provided"}
	}

	var metadataJSON *string
	if update.Metadata != nil {
		raw, err := json.Marshal(update.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal account metadata: %w", err)
		}
		s := string(raw)
		metadataJSON = &s
	}

	if !isAccountID(id) {
		return nil, ErrNotFound
	}

	var updated *models.SocialAccount
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		now := r.now().UTC()
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			current, err := scanAccount(tx.QueryRowContext(ctx,
				r.q(`SELECT `+accountColumns+` FROM social_accounts WHERE id = $1`), id))
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			if update.IsActive != nil && *update.IsActive && !current.IsActive {
				if err := r.deactivateSiblings(ctx, tx, current.UserID, current.Platform, now); err != nil {
					return err
				}
			}

			sets := []string{}
			args := []interface{}{}
			add := func(column string, value interface{}) {
				args = append(args, value)
				sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
			}
			if update.DisplayName != nil {
				add("display_name", *update.DisplayName)
			}
			if update.AvatarURL != nil {
				add("avatar_url", *update.AvatarURL)
			}
			if update.AccountType != nil {
				add("account_type", *update.AccountType)
			}
			if update.IsActive != nil {
				add("is_active", *update.IsActive)
			}
			if metadataJSON != nil {
				add("metadata", *metadataJSON)
			}
			add("updated_at", now)
			args = append(args, id)

			query := fmt.Sprintf("UPDATE social_accounts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
			if _, err := tx.ExecContext(ctx, r.q(query), args...); err != nil {
				return err
			}

			updated, err = scanAccount(tx.QueryRowContext(ctx,
				r.q(`SELECT `+accountColumns+` FROM social_accounts WHERE id = $1`), id))
			return err
		})
		if isUniqueViolation(err) {
			return retry.NewRetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, wrapErr("update account", err)
	}

	return updated, nil
}

// DeleteAccount removes the account's analytics, its token and the account
// itself in one transaction.
func (r *SQLSocialAccountRepository) DeleteAccount(ctx context.Context, id string) error {
	if !isAccountID(id) {
		return ErrNotFound
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM instagram_analytics WHERE social_account_id = $1`), id); err != nil {
			return fmt.Errorf("delete analytics: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM access_tokens WHERE social_account_id = $1`), id); err != nil {
			return fmt.Errorf("delete access token: %w", err)
		}

		result, err := tx.ExecContext(ctx, r.q(`DELETE FROM social_accounts WHERE id = $1`), id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})

	return wrapErr("delete account", err)
}

// StoreToken encrypts the credentials in input and upserts them keyed by
// account.
func (r *SQLSocialAccountRepository) StoreToken(ctx context.Context, input models.TokenInput) (*models.AccessToken, error) {
	if input.SocialAccountID == "" {
		return nil, models.ValidationError{Field: "social_account_id", Message: "account id is required"}
	}
	if input.AccessToken == "" {
		return nil, models.ValidationError{Field: "access_token", Message: "access token is required"}
	}

	sealed, err := r.sealToken(input)
	if err != nil {
		return nil, err
	}

	if err := r.upsertToken(ctx, r.db, sealed, r.now().UTC()); err != nil {
		return nil, wrapErr("store token", err)
	}

	token, err := r.getToken(ctx, input.SocialAccountID)
	if err != nil {
		return nil, wrapErr("store token", err)
	}
	return token, nil
}

// sealedToken is a TokenInput ready for storage.
type sealedToken struct {
	accountID string
	access    string
	refresh   *string
	tokenType string
	expiresAt timestamp
	scopes    string
}

func (r *SQLSocialAccountRepository) sealToken(input models.TokenInput) (*sealedToken, error) {
	encryptedAccess, encryptedRefresh, err := r.encryptTokens(input)
	if err != nil {
		return nil, err
	}

	tokenType := input.TokenType
	if tokenType == "" {
		tokenType = defaultTokenType
	}
	scopes := input.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}

	return &sealedToken{
		accountID: input.SocialAccountID,
		access:    encryptedAccess,
		refresh:   encryptedRefresh,
		tokenType: tokenType,
		expiresAt: nullableTime(input.ExpiresAt),
		scopes:    string(scopesJSON),
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *SQLSocialAccountRepository) upsertToken(ctx context.Context, exec execer, token *sealedToken, now time.Time) error {
	query := `
		INSERT INTO access_tokens
		(id, social_account_id, access_token, refresh_token, token_type,
		 expires_at, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (social_account_id)
		DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at
	`

	_, err := exec.ExecContext(ctx, r.q(query),
		uuid.NewString(),
		token.accountID,
		token.access,
		token.refresh,
		token.tokenType,
		token.expiresAt,
		token.scopes,
		now,
		now,
	)
	return err
}

// UpdateToken replaces the stored credential of an account that already has
// one.
// UpdateToken rotates the stored credentials for input.SocialAccountID. A nil
// or empty RefreshToken, or a nil Scopes, leaves the stored value unchanged.
func (r *SQLSocialAccountRepository) UpdateToken(ctx context.Context, input models.TokenInput) error {
	if input.AccessToken == "" {
		return models.ValidationError{Field: "access_token", Message: "access token is required"}
	}

	if !isAccountID(input.SocialAccountID) {
		return ErrNotFound
	}

	encryptedAccess, encryptedRefresh, err := r.encryptTokens(input)
	if err != nil {
		return err
	}

	sets := []string{"access_token = $1", "expires_at = $2", "updated_at = $3"}
	args := []interface{}{encryptedAccess, nullableTime(input.ExpiresAt), r.now().UTC()}
	if input.Scopes != nil {
		scopesJSON, err := json.Marshal(input.Scopes)
		if err != nil {
			return fmt.Errorf("marshal scopes: %w", err)
		}
		args = append(args, string(scopesJSON))
		sets = append(sets, fmt.Sprintf("scopes = $%d", len(args)))
	}
	if encryptedRefresh != nil {
		args = append(args, *encryptedRefresh)
		sets = append(sets, fmt.Sprintf("refresh_token = $%d", len(args)))
	}
	args = append(args, input.SocialAccountID)

	query := fmt.Sprintf("UPDATE access_tokens SET %s WHERE social_account_id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return wrapErr("update token", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("update token", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetValidToken returns the decrypted access token for accountID. The boolean
// is false when no token is stored, it expired before now, or it cannot be
// decrypted.
func (r *SQLSocialAccountRepository) GetValidToken(ctx context.Context, accountID string) (string, bool, error) {
	var encrypted string
	var expiresAt timestamp

	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT access_token, expires_at FROM access_tokens WHERE social_account_id = $1`),
		accountID,
	).Scan(&encrypted, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get token", err)
	}

	if expiresAt.Valid && expiresAt.Time.Before(r.now()) {
		r.logger.Warn("access token expired",
			"social_account_id", accountID,
			"expires_at", expiresAt.Time.Format(time.RFC3339),
		)
		return "", false, nil
	}

	plaintext, err := r.cipher.Decrypt(encrypted)
	if err != nil {
		r.logger.Error("failed to decrypt access token",
			"social_account_id", accountID,
			"error", err,
		)
		return "", false, nil
	}

	return plaintext, true, nil
}

func (r *SQLSocialAccountRepository) ListTokensExpiringBefore(ctx context.Context, t time.Time) ([]models.ExpiringToken, error) {
	query := `
		SELECT social_account_id, expires_at
		FROM access_tokens
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.q(query), t.UTC())
	if err != nil {
		return nil, wrapErr("list expiring tokens", err)
	}
	defer rows.Close()

	var tokens []models.ExpiringToken
	for rows.Next() {
		var accountID string
		var expiresAt timestamp
		if err := rows.Scan(&accountID, &expiresAt); err != nil {
			return nil, wrapErr("list expiring tokens", err)
		}
		tokens = append(tokens, models.ExpiringToken{SocialAccountID: accountID, ExpiresAt: expiresAt.Time})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list expiring tokens", err)
	}

	return tokens, nil
}

func (r *SQLSocialAccountRepository) getToken(ctx context.Context, accountID string) (*models.AccessToken, error) {
	query := `
		SELECT id, social_account_id, access_token, refresh_token, token_type,
		       expires_at, scopes, created_at, updated_at
		FROM access_tokens
		WHERE social_account_id = $1
	`

	var token models.AccessToken
	var refresh sql.NullString
	var expiresAt, createdAt, updatedAt timestamp
	var scopesJSON []byte

	err := r.db.QueryRowContext(ctx, r.q(query), accountID).Scan(
		&token.ID,
		&token.SocialAccountID,
		&token.AccessToken,
		&refresh,
		&token.TokenType,
		&expiresAt,
		&scopesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refresh.Valid {
		token.RefreshToken = &refresh.String
	}
	token.ExpiresAt = expiresAt.ptr()
	token.CreatedAt = createdAt.Time
	token.UpdatedAt = updatedAt.Time
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &token.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}

	return &token, nil
}

func (r *SQLSocialAccountRepository) encryptTokens(input models.TokenInput) (string, *string, error) {
	encryptedAccess, err := r.cipher.Encrypt(input.AccessToken)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt access token: %w", err)
	}

	var encryptedRefresh *string
	if input.RefreshToken != nil && *input.RefreshToken != "" {
		enc, err := r.cipher.Encrypt(*input.RefreshToken)
		if err != nil {
			return "", nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		encryptedRefresh = &enc
	}

	return encryptedAccess, encryptedRefresh, nil
}

func (r *SQLSocialAccountRepository) deactivateSiblings(ctx context.Context, tx *sql.Tx, userID string, platform models.Platform, now time.Time) error {
	query := `
		UPDATE social_accounts
		SET is_active = $1, updated_at = $2
		WHERE user_id = $3 AND platform = $4 AND is_active = $5
	`
	_, err := tx.ExecContext(ctx, r.q(query), false, now, userID, string(platform), true)
	return err
}

func (r *SQLSocialAccountRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.SocialAccount, error) {
	var account models.SocialAccount
	var platform string
	var displayName, avatarURL, accountType sql.NullString
	var metadataJSON []byte
	var createdAt, updatedAt timestamp

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&platform,
		&account.PlatformUserID,
		&account.Username,
		&displayName,
		&avatarURL,
		&accountType,
		&account.IsActive,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Platform = models.Platform(platform)
	account.DisplayName = nullString(displayName)
	account.AvatarURL = nullString(avatarURL)
	account.AccountType = nullString(accountType)
	account.CreatedAt = createdAt.Time
	account.UpdatedAt = updatedAt.Time

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &account.Metadata); err != nil {
			return nil, fmt.Errorf("decode account metadata: %w", err)
		}
	}

	return &account, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
