// Package auth はIdPの状態遷移を要求するセッション操作を提供する。
//
// 操作はすべて結果をerrorとして返す。想定内の失敗（認証情報の誤り、ハンドシェイクの中断など）は
// model.APIErrorとして返し、panicしない。
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/foodreview/internal/identity"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/session"
)

// 操作名（メトリクスのactionラベル）
const (
	ActionRegister      = "register"
	ActionLogin         = "login"
	ActionSocialLogin   = "social_login"
	ActionUpdateProfile = "update_profile"
	ActionLogout        = "logout"
	outcomeSuccess      = "success"
	outcomeUnclassified = "error"
)

// SessionStore はセッション操作が読み書きするストアのインターフェース。
type SessionStore interface {
	Current() session.Session
	BeginResolving()
	EndResolving()
	Reset()
}

// Recorder はセッション操作の結果を記録する。
type Recorder interface {
	RecordAuthAction(action, outcome string)
}

// Registration は登録フォームの入力値。
type Registration struct {
	Name            string
	Email           string
	PhotoURL        string
	Password        string
	ConfirmPassword string
}

// Actions は1クライアントに紐づくセッション操作。
type Actions struct {
	store    SessionStore
	idp      identity.Client
	recorder Recorder
	logger   *slog.Logger
}

// NewActions はActionsを生成する。recorderはnilでもよい。
func NewActions(store SessionStore, idp identity.Client, recorder Recorder, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{
		store:    store,
		idp:      idp,
		recorder: recorder,
		logger:   logger,
	}
}

// RegisterWithCredentials はアカウントを作成してサインインする。
// 失敗時はInvalidEmail、EmailInUse、WeakCredentialのいずれかを返す。
func (a *Actions) RegisterWithCredentials(ctx context.Context, email, password string) error {
	return a.resolving(ActionRegister, func() error {
		return a.idp.CreateAccount(ctx, email, password)
	})
}

// Register は登録フォームの入力を検証し、アカウント作成とプロフィール設定を行う。
// パスワードポリシーと確認入力の一致はIdPを呼ぶ前に検証する。
func (a *Actions) Register(ctx context.Context, in Registration) error {
	if err := ValidatePassword(in.Password); err != nil {
		a.record(ActionRegister, err)
		return err
	}
	if in.Password != in.ConfirmPassword {
		err := model.NewPasswordMismatchError()
		a.record(ActionRegister, err)
		return err
	}

	if err := a.RegisterWithCredentials(ctx, in.Email, in.Password); err != nil {
		return err
	}

	if in.Name == "" && in.PhotoURL == "" {
		return nil
	}
	return a.UpdateProfile(ctx, in.Name, in.PhotoURL)
}

// LoginWithCredentials はメールアドレスとパスワードでサインインする。
// 失敗時はInvalidCredentialまたはAccountNotFoundを返す。
func (a *Actions) LoginWithCredentials(ctx context.Context, email, password string) error {
	return a.resolving(ActionLogin, func() error {
		return a.idp.SignIn(ctx, email, password)
	})
}

// BeginSocialLogin はソーシャルログインのハンドシェイクを開始し、IdPの認可URLを返す。
func (a *Actions) BeginSocialLogin(state string) (string, error) {
	redirectURL, err := a.idp.BeginInteractive(state)
	if err != nil {
		a.record(ActionSocialLogin, err)
		return "", err
	}
	return redirectURL, nil
}

// CompleteSocialLogin はIdPからのコールバックでハンドシェイクを完了する。
// 失敗時はHandshakeCancelledまたはHandshakeFailedを返す。
func (a *Actions) CompleteSocialLogin(ctx context.Context, cb identity.Callback) error {
	return a.resolving(ActionSocialLogin, func() error {
		return a.idp.CompleteInteractive(ctx, cb)
	})
}

// UpdateProfile は現在のIdentityの表示名とアバターURLを更新する。
// 未認証の場合はNoActiveSessionを返す。
func (a *Actions) UpdateProfile(ctx context.Context, displayName, avatarURL string) error {
	current := a.store.Current().Identity
	if current == nil {
		err := model.NewNoActiveSessionError()
		a.record(ActionUpdateProfile, err)
		return err
	}

	err := a.idp.UpdateProfile(ctx, current, displayName, avatarURL)
	a.record(ActionUpdateProfile, err)
	return err
}

// Logout はサインアウトする。ローカルでは常に成功する。
// IdPへの要求が失敗した場合もストアを未認証状態に揃える。
func (a *Actions) Logout(ctx context.Context) error {
	a.store.BeginResolving()
	defer a.store.EndResolving()

	if err := a.idp.SignOut(ctx); err != nil {
		a.logger.Warn("provider sign-out failed, clearing session locally",
			slog.String("error", err.Error()),
		)
		a.store.Reset()
		a.record(ActionLogout, err)
		return nil
	}

	a.record(ActionLogout, nil)
	return nil
}

// resolving は操作の実行中だけストアを解決中にする。
func (a *Actions) resolving(action string, fn func() error) error {
	a.store.BeginResolving()
	defer a.store.EndResolving()

	err := fn()
	a.record(action, err)
	return err
}

func (a *Actions) record(action string, err error) {
	if a.recorder == nil {
		return
	}
	a.recorder.RecordAuthAction(action, outcome(err))
}

// outcome はメトリクス用の結果ラベルを返す。
func outcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return outcomeUnclassified
}
