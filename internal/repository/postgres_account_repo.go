package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/foodreview/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `a.id, a.email, a.password_hash, a.display_name, a.avatar_url, a.created_at, a.updated_at`

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.id = $1`,
		id,
	)
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.email = $1`,
		normalizeEmail(email),
	)
}

// FindByProvider はprovider_linksを経由してアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProvider(ctx context.Context, provider, providerUserID string) (*model.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts a
		 JOIN provider_links l ON l.account_id = a.id
		 WHERE l.provider = $1 AND l.provider_user_id = $2`,
		provider, providerUserID,
	)
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, normalizeEmail(account.Email), account.PasswordHash,
		account.DisplayName, account.AvatarURL, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// CreateWithProviderLink はアカウントとprovider_linksを同一トランザクションで作成する。
func (r *PostgresAccountRepo) CreateWithProviderLink(ctx context.Context, account *model.Account, link *model.ProviderLink) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, normalizeEmail(account.Email), account.PasswordHash,
		account.DisplayName, account.AvatarURL, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provider_links (id, account_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		link.ID, link.AccountID, link.Provider, link.ProviderUserID, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddProviderLink は既存アカウントにprovider_linksを追加する。
// 同じ紐付けが既に存在する場合は何もしない。
func (r *PostgresAccountRepo) AddProviderLink(ctx context.Context, link *model.ProviderLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_links (id, account_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		link.ID, link.AccountID, link.Provider, link.ProviderUserID, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider link: %w", err)
	}
	return nil
}

// UpdateProfile は表示名とアバターURLを更新する。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, id, displayName, avatarURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET display_name = $2, avatar_url = $3, updated_at = NOW() WHERE id = $1`,
		id, displayName, avatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update account profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

func (r *PostgresAccountRepo) findOne(ctx context.Context, query string, args ...any) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&account.ID, &account.Email, &account.PasswordHash,
		&account.DisplayName, &account.AvatarURL, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// normalizeEmail はメールアドレスを比較用に正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
