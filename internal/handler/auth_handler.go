package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/foodreview/internal/auth"
	"github.com/hitoshi/foodreview/internal/client"
	"github.com/hitoshi/foodreview/internal/identity"
	"github.com/hitoshi/foodreview/internal/middleware"
	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/view"
)

const socialStateCookie = "social_state"

// ClientRotator はサインイン時にclient_idを振り直す。client.Registryが実装する。
type ClientRotator interface {
	Rotate(id string) (*client.Entry, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookies       middleware.CookieConfig
	SocialEnabled bool
	// Clients がnilの場合はclient_idを振り直さない。
	Clients ClientRotator
}

// AuthHandler はログイン、登録、ソーシャルログイン、ログアウト、プロフィール更新のHTTPハンドラー。
type AuthHandler struct {
	pages
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(renderer Renderer, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		pages:  pages{renderer: renderer, socialEnabled: config.SocialEnabled, logger: logger},
		config: config,
	}
}

// LoginForm はログイン画面を表示する。サインイン済みの場合はホームへ戻す。
// GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if currentSession(r).SignedIn() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, view.PageLogin, "Login", view.FormData{})
}

// Login はメールアドレスとパスワードでサインインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	if err := entry.Actions().LoginWithCredentials(r.Context(), email, password); err != nil {
		h.renderError(w, r, err, view.PageLogin, "Login", view.FormData{Email: email})
		return
	}

	h.signedIn(w, r, entry, "Welcome back!")
}

// RegisterForm は登録画面を表示する。
// GET /register
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if currentSession(r).SignedIn() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, view.PageRegister, "Register", view.FormData{})
}

// Register はアカウントを作成してサインインし、表示名と写真URLを設定する。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	in := auth.Registration{
		Name:            strings.TrimSpace(r.PostFormValue("displayName")),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		PhotoURL:        strings.TrimSpace(r.PostFormValue("avatarURL")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirmPassword"),
	}

	if err := entry.Actions().Register(r.Context(), in); err != nil {
		// アカウント作成後のプロフィール設定だけが失敗した場合はサインイン済みとして進める
		if entry.Session().SignedIn() {
			h.logger.Warn("profile update after registration failed",
				slog.String("client_id", entry.ID()),
				slog.String("error", err.Error()),
			)
			h.signedIn(w, r, entry, "Account created. Your profile could not be saved, update it from the profile page.")
			return
		}
		h.renderError(w, r, err, view.PageRegister, "Register", view.FormData{
			DisplayName: in.Name,
			Email:       in.Email,
			AvatarURL:   in.PhotoURL,
		})
		return
	}

	h.signedIn(w, r, entry, "Welcome! Your account has been created.")
}

// SocialLogin はソーシャルログインのハンドシェイクを開始し、外部IdPへリダイレクトする。
// GET /auth/social/login
func (h *AuthHandler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	if !h.config.SocialEnabled {
		h.notFound(w, r)
		return
	}
	entry, ok := currentEntry(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	state, err := identity.NewState()
	if err != nil {
		h.logger.Error("failed to generate social login state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	redirectURL, err := entry.Actions().BeginSocialLogin(state)
	if err != nil {
		flashErrorAndRedirect(w, r, err, "/login")
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     socialStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// SocialCallback は外部IdPからのリダイレクトでハンドシェイクを完了する。
// GET /auth/social/callback?code=xxx&state=yyy
func (h *AuthHandler) SocialCallback(w http.ResponseWriter, r *http.Request) {
	if !h.config.SocialEnabled {
		h.notFound(w, r)
		return
	}
	entry, ok := currentEntry(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	q := r.URL.Query()
	state := q.Get("state")
	stateCookie, err := r.Cookie(socialStateCookie)

	http.SetCookie(w, &http.Cookie{
		Name:     socialStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		h.logger.Warn("social login state mismatch", slog.String("client_id", entry.ID()))
		flashErrorAndRedirect(w, r, model.NewHandshakeFailedError("state mismatch"), "/login")
		return
	}

	cb := identity.Callback{
		Code:             q.Get("code"),
		State:            state,
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if err := entry.Actions().CompleteSocialLogin(r.Context(), cb); err != nil {
		flashErrorAndRedirect(w, r, err, "/login")
		return
	}

	h.signedIn(w, r, entry, "Welcome!")
}

// Logout はサインアウトする。IdPへの要求が失敗しても識別トークンのCookieは削除する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if entry, ok := currentEntry(r); ok {
		_ = entry.Actions().Logout(r.Context())
	}
	middleware.WriteTokenCookie(w, "", h.config.Cookies)
	flashAndRedirect(w, r, client.FlashInfo, "You have been logged out.", "", "/")
}

// ProfileForm はプロフィール画面を表示する。
// GET /profile
func (h *AuthHandler) ProfileForm(w http.ResponseWriter, r *http.Request) {
	data := view.FormData{}
	if id := currentSession(r).Identity; id != nil {
		data = view.FormData{DisplayName: id.DisplayName, Email: id.Email, AvatarURL: id.AvatarURL}
	}
	h.render(w, r, http.StatusOK, view.PageProfile, "Profile", data)
}

// Profile は表示名とアバターURLを更新する。
// POST /profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	entry, ok := currentEntry(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	name := strings.TrimSpace(r.PostFormValue("displayName"))
	avatar := strings.TrimSpace(r.PostFormValue("avatarURL"))

	if err := entry.Actions().UpdateProfile(r.Context(), name, avatar); err != nil {
		if model.IsCode(err, model.ErrCodeNoActiveSession) {
			flashErrorAndRedirect(w, r, err, "/login")
			return
		}
		h.renderError(w, r, err, view.PageProfile, "Profile", view.FormData{DisplayName: name, AvatarURL: avatar})
		return
	}

	middleware.WriteTokenCookie(w, entry.Identity().Token(), h.config.Cookies)
	flashAndRedirect(w, r, client.FlashSuccess, "Profile updated.", "", "/profile")
}

// signedIn はclient_idを振り直し、識別トークンをCookieに保存してホームへリダイレクトする。
func (h *AuthHandler) signedIn(w http.ResponseWriter, r *http.Request, entry *client.Entry, message string) {
	if h.config.Clients != nil {
		oldID := entry.ID()
		if _, err := h.config.Clients.Rotate(oldID); err != nil {
			h.logger.Error("failed to rotate client id",
				slog.String("client_id", oldID),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		middleware.WriteClientCookie(w, entry.ID(), h.config.Cookies)
	}
	middleware.WriteTokenCookie(w, entry.Identity().Token(), h.config.Cookies)
	flashAndRedirect(w, r, client.FlashSuccess, message, "", "/")
}
