package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/repository"
	"github.com/hitoshi/foodreview/internal/session"
)

// minPasswordLength はIdP側のパスワードポリシーの最小文字数。
const minPasswordLength = 6

// Provider はクライアントごとのIdPハンドルを払い出す。
type Provider struct {
	accounts     repository.AccountRepository
	tokens       *TokenIssuer
	social       SocialProvider
	logger       *slog.Logger
	passwordCost int
}

// NewProvider はProviderを生成する。socialがnilの場合はソーシャルログインを無効にする。
func NewProvider(accounts repository.AccountRepository, tokens *TokenIssuer, social SocialProvider, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		accounts:     accounts,
		tokens:       tokens,
		social:       social,
		logger:       logger,
		passwordCost: bcrypt.DefaultCost,
	}
}

// SocialEnabled はソーシャルログインが設定されているかを返す。
func (p *Provider) SocialEnabled() bool {
	return p.social != nil
}

// NewClient は永続化トークンから認証状態を復元したクライアントを生成する。
// トークンが空の場合は未認証のクライアントを返す。
// トークンが不正、またはアカウントが存在しない場合は、初回通知でエラーを配信する。
func (p *Provider) NewClient(ctx context.Context, token string) *ProviderClient {
	c := &ProviderClient{provider: p}
	if token == "" {
		return c
	}

	identity, err := p.restore(ctx, token)
	if err != nil {
		p.logger.Info("discarding persisted identity token",
			slog.String("error", err.Error()),
		)
		c.lastErr = err
		return c
	}

	c.current = identity
	c.token = token
	return c
}

// restore はトークンを検証し、アカウントの最新プロフィールからIdentityを組み立てる。
func (p *Provider) restore(ctx context.Context, token string) (*model.Identity, error) {
	claimed, err := p.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	account, err := p.accounts.FindByID(ctx, claimed.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account no longer exists: %s", claimed.ID)
	}

	return account.Identity(), nil
}

type handshake struct {
	state    string
	nonce    string
	verifier string
}

type changeListener struct {
	id int
	fn session.ChangeListener
}

// ProviderClient は1クライアント分のIdPハンドル。
type ProviderClient struct {
	provider *Provider

	// emitMu は通知の配信順序を保証する。
	// コールバック内からこのクライアントの変更系操作を呼んではならない。
	emitMu sync.Mutex

	mu        sync.Mutex
	current   *model.Identity
	token     string
	lastErr   error
	listeners []changeListener
	nextID    int
	pending   *handshake
}

// Current は現在のIdentityのスナップショットを返す。
func (c *ProviderClient) Current() *model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIdentity(c.current)
}

// Token は現在のIdentityの永続化トークンを返す。未認証の場合は空文字列。
func (c *ProviderClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnChange は認証状態の変更通知を購読する。登録直後に現在の状態で1回呼び出す。
func (c *ProviderClient) OnChange(fn session.ChangeListener) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, changeListener{id: id, fn: fn})
	current, lastErr := copyIdentity(c.current), c.lastErr
	c.mu.Unlock()

	fn(current, lastErr)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// CreateAccount はアカウントを作成し、作成したアカウントでサインインする。
func (c *ProviderClient) CreateAccount(ctx context.Context, email, password string) error {
	p := c.provider
	email = strings.ToLower(strings.TrimSpace(email))

	if !validEmail(email) {
		return model.NewInvalidEmailError()
	}
	if len(password) < minPasswordLength {
		return model.NewWeakCredentialError(fmt.Sprintf("Password should be at least %d characters", minPasswordLength))
	}

	existing, err := p.accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return model.NewEmailInUseError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.passwordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return model.NewWeakCredentialError("Password must be at most 72 bytes")
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.NewEmailInUseError()
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	p.logger.Info("account created", slog.String("account_id", account.ID))
	return c.signInAs(account.Identity())
}

// SignIn はメールアドレスとパスワードでサインインする。
func (c *ProviderClient) SignIn(ctx context.Context, email, password string) error {
	p := c.provider
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := p.accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return model.NewAccountNotFoundError()
	}
	// ソーシャルログイン専用アカウントはパスワードを持たない
	if account.PasswordHash == "" {
		return model.NewInvalidCredentialError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return model.NewInvalidCredentialError()
	}

	return c.signInAs(account.Identity())
}

// BeginInteractive はソーシャルログインを開始する。
// 直前の未完了ハンドシェイクは破棄される。
func (c *ProviderClient) BeginInteractive(state string) (string, error) {
	p := c.provider
	if p.social == nil {
		return "", model.NewHandshakeFailedError("social login is not configured")
	}
	if state == "" {
		return "", model.NewHandshakeFailedError("missing state")
	}

	nonce, err := randomToken(16)
	if err != nil {
		return "", model.NewHandshakeFailedError("could not start handshake")
	}
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	c.pending = &handshake{state: state, nonce: nonce, verifier: verifier}
	c.mu.Unlock()

	return p.social.AuthCodeURL(state, nonce, verifier), nil
}

// CompleteInteractive はソーシャルIdPのコールバックを処理する。
// 利用者が同意を拒否した場合はHandshakeCancelled、それ以外の失敗はHandshakeFailedを返す。
func (c *ProviderClient) CompleteInteractive(ctx context.Context, cb Callback) error {
	p := c.provider

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if cb.Error == "access_denied" {
		return model.NewHandshakeCancelledError()
	}
	if cb.Error != "" {
		reason := cb.Error
		if cb.ErrorDescription != "" {
			reason += ": " + cb.ErrorDescription
		}
		return model.NewHandshakeFailedError(reason)
	}
	if p.social == nil {
		return model.NewHandshakeFailedError("social login is not configured")
	}
	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.state), []byte(cb.State)) != 1 {
		return model.NewHandshakeFailedError("state mismatch")
	}
	if cb.Code == "" {
		return model.NewHandshakeFailedError("missing authorization code")
	}

	info, err := p.social.Exchange(ctx, cb.Code, pending.nonce, pending.verifier)
	if err != nil {
		p.logger.Warn("social login exchange failed",
			slog.String("provider", p.social.Name()),
			slog.String("error", err.Error()),
		)
		return model.NewHandshakeFailedError("could not verify the provider response")
	}

	account, err := p.linkAccount(ctx, info)
	if err != nil {
		return fmt.Errorf("failed to link social account: %w", err)
	}

	return c.signInAs(account.Identity())
}

// SignOut はサインアウトする。
func (c *ProviderClient) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sign out aborted: %w", err)
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	c.setIdentity(nil, "")
	return nil
}

// UpdateProfile は表示名とアバターURLを更新し、更新後のIdentityを通知する。
func (c *ProviderClient) UpdateProfile(ctx context.Context, identity *model.Identity, displayName, avatarURL string) error {
	current := c.Current()
	if identity == nil || current == nil || current.ID != identity.ID {
		return model.NewNoActiveSessionError()
	}

	if err := c.provider.accounts.UpdateProfile(ctx, identity.ID, displayName, avatarURL); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	updated := copyIdentity(current)
	updated.DisplayName = displayName
	updated.AvatarURL = avatarURL
	return c.signInAs(updated)
}

// linkAccount はソーシャルIdPのユーザーに対応するアカウントを取得する。
// 未登録の場合は同じメールアドレスのアカウントに紐付けるか、新規作成する。
// どちらもIdPがメールアドレスを確認済みの場合に限る。
func (p *Provider) linkAccount(ctx context.Context, info *SocialUserInfo) (*model.Account, error) {
	account, err := p.accounts.FindByProvider(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	// 未確認のメールアドレスでは既存アカウントへの紐付けも新規作成も行わない。
	if !info.EmailVerified {
		p.logger.Warn("social login rejected: email not verified",
			slog.String("provider", info.Provider),
		)
		return nil, model.NewHandshakeFailedError("the provider has not verified this email address")
	}

	now := time.Now()
	link := &model.ProviderLink{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	email := strings.ToLower(strings.TrimSpace(info.Email))
	account, err = p.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account != nil {
		link.AccountID = account.ID
		if err := p.accounts.AddProviderLink(ctx, link); err != nil {
			return nil, err
		}
		p.logger.Info("social provider linked to existing account",
			slog.String("account_id", account.ID),
			slog.String("provider", info.Provider),
		)
		return account, nil
	}

	account = &model.Account{
		ID:          uuid.New().String(),
		Email:       email,
		DisplayName: info.Name,
		AvatarURL:   info.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	link.AccountID = account.ID
	if err := p.accounts.CreateWithProviderLink(ctx, account, link); err != nil {
		return nil, err
	}
	p.logger.Info("account created via social provider",
		slog.String("account_id", account.ID),
		slog.String("provider", info.Provider),
	)
	return account, nil
}

// signInAs はトークンを発行してIdentityを切り替える。
func (c *ProviderClient) signInAs(identity *model.Identity) error {
	token, err := c.provider.tokens.Issue(identity)
	if err != nil {
		return err
	}
	c.setIdentity(identity, token)
	return nil
}

// setIdentity は現在のIdentityを置き換え、購読者へ通知する。
func (c *ProviderClient) setIdentity(identity *model.Identity, token string) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.current = copyIdentity(identity)
	c.token = token
	c.lastErr = nil
	listeners := make([]changeListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(copyIdentity(identity), nil)
	}
}

// validEmail は表示名なしの単一アドレスとして解釈できるかを判定する。
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && addr.Name == ""
}

// compile-time interface check
var _ Client = (*ProviderClient)(nil)
