// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/foodreview/internal/client"
)

const (
	// ClientCookieName はブラウザごとのクライアント状態を識別するCookieの名前。
	ClientCookieName = "client_id"
	// TokenCookieName はIdPのサインイン状態を永続化するCookieの名前。
	TokenCookieName = "identity_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientContextKey はリクエストコンテキストにクライアント状態を格納するためのキー。
var clientContextKey = contextKey("client")

// requestInfo はロギングミドルウェアが内側で解決したクライアントを受け取るための箱。
type requestInfo struct {
	entry *client.Entry
}

var requestInfoContextKey = contextKey("request_info")

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}

// ClientResolver はCookieの値からクライアント状態を取得または生成する。
// client.Registryの部分集合として定義する。
type ClientResolver interface {
	Resolve(ctx context.Context, id, token string) (*client.Entry, bool, error)
}

// CookieConfig はCookie属性の設定。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// NewClientMiddleware はCookieからクライアント状態を解決し、リクエストコンテキストに注入するミドルウェアを返す。
// 未知のclient_idの場合は識別トークンからIdP接続を復元して新しいクライアントを生成し、client_id Cookieを発行する。
func NewClientMiddleware(resolver ClientResolver, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id, token string
			if c, err := r.Cookie(ClientCookieName); err == nil {
				id = c.Value
			}
			if c, err := r.Cookie(TokenCookieName); err == nil {
				token = c.Value
			}

			entry, created, err := resolver.Resolve(r.Context(), id, token)
			if err != nil {
				slog.Error("failed to resolve client",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if created {
				WriteClientCookie(w, entry.ID(), config)
			}

			if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok {
				info.entry = entry
			}

			ctx := context.WithValue(r.Context(), clientContextKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext はリクエストコンテキストからクライアント状態を取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func ClientFromContext(ctx context.Context) (*client.Entry, error) {
	entry, ok := ctx.Value(clientContextKey).(*client.Entry)
	if !ok || entry == nil {
		return nil, fmt.Errorf("client not found in context")
	}
	return entry, nil
}

// ContextWithClient はコンテキストにクライアント状態を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClient(ctx context.Context, entry *client.Entry) context.Context {
	return context.WithValue(ctx, clientContextKey, entry)
}

// WriteClientCookie はclient_idをCookieに書き込む。
func WriteClientCookie(w http.ResponseWriter, id string, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WriteTokenCookie は識別トークンをCookieに書き込む。tokenが空の場合はCookieを削除する。
func WriteTokenCookie(w http.ResponseWriter, token string, config CookieConfig) {
	maxAge := config.MaxAge
	if token == "" {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
