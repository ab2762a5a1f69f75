// Package identity はバンドルされたIdP（認証情報アカウントとOIDCソーシャルログイン）を提供する。
//
// ブラウザ（クライアント）ごとにClientを1つ払い出し、認証状態の変更をOnChangeで通知する。
// OnChangeのコールバックは登録直後に現在の状態で1回呼ばれ、以降は変更のたびに呼ばれる。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/session"
)

// Client はクライアント単位のIdP操作のインターフェース。
// 変更系の操作は結果をerrorとして返し、想定内の失敗でpanicしない。
type Client interface {
	// CreateAccount はメールアドレスとパスワードでアカウントを作成し、そのままサインインする。
	CreateAccount(ctx context.Context, email, password string) error
	// SignIn はメールアドレスとパスワードでサインインする。
	SignIn(ctx context.Context, email, password string) error
	// BeginInteractive はソーシャルログインのハンドシェイクを開始し、遷移先URLを返す。
	BeginInteractive(state string) (string, error)
	// CompleteInteractive はソーシャルIdPからのコールバックを処理する。
	CompleteInteractive(ctx context.Context, cb Callback) error
	// SignOut はサインアウトする。
	SignOut(ctx context.Context) error
	// UpdateProfile は表示名とアバターURLを更新する。
	UpdateProfile(ctx context.Context, identity *model.Identity, displayName, avatarURL string) error
	// OnChange は認証状態の変更通知を購読する。
	OnChange(fn session.ChangeListener) (unsubscribe func())
	// Current は現在のIdentityを返す。未認証の場合はnil。
	Current() *model.Identity
}

// Callback はソーシャルIdPのリダイレクトで受け取るパラメータ。
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// SocialUserInfo はソーシャルIdPから取得したユーザー情報を表す。
type SocialUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	// EmailVerified はIdPがメールアドレスの所有を確認済みかどうか。
	EmailVerified bool
	Name           string
	AvatarURL      string
}

// SocialProvider はソーシャルログインを行う外部IdPのインターフェース。
type SocialProvider interface {
	// Name は紐付け情報に記録するプロバイダー名を返す。
	Name() string
	// AuthCodeURL は認可エンドポイントのURLを生成する。
	AuthCodeURL(state, nonce, verifier string) string
	// Exchange は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
	Exchange(ctx context.Context, code, nonce, verifier string) (*SocialUserInfo, error)
}

// NewState はソーシャルログインのstateパラメータに使うランダム文字列を生成する。
func NewState() (string, error) {
	return randomToken(16)
}

// randomToken は暗号的に安全なランダム文字列を生成する。
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// copyIdentity はIdentityのスナップショットを複製する。
func copyIdentity(identity *model.Identity) *model.Identity {
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}
