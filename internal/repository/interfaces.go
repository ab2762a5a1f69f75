// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/foodreview/internal/model"
)

// ErrDuplicateEmail は同じメールアドレスのアカウントが既に存在する場合に返される。
var ErrDuplicateEmail = errors.New("account with this email already exists")

// AccountRepository はバンドルIdPのアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	// メールアドレスは大文字小文字を区別せずに比較する。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByProvider はソーシャルIdPの紐付け情報からアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider, providerUserID string) (*model.Account, error)

	// Create はアカウントを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.Account) error

	// CreateWithProviderLink はアカウントとソーシャルIdP紐付けを同一トランザクションで作成する。
	CreateWithProviderLink(ctx context.Context, account *model.Account, link *model.ProviderLink) error

	// AddProviderLink は既存アカウントにソーシャルIdP紐付けを追加する。
	AddProviderLink(ctx context.Context, link *model.ProviderLink) error

	// UpdateProfile は表示名とアバターURLを更新する。
	UpdateProfile(ctx context.Context, id, displayName, avatarURL string) error
}
