// Package guard は保護ルートへの遷移をセッション状態から判定する。
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/foodreview/internal/session"
)

// State はルートガードの判定結果。
type State string

const (
	// Resolving はセッション状態が未確定であることを表す。遷移の判定は保留する。
	Resolving State = "resolving"
	// Authorized は認証済みで保護ビューを表示できることを表す。
	Authorized State = "authorized"
	// Denied は未認証が確定していることを表す。ログイン画面へリダイレクトする。
	Denied State = "denied"
)

// DefaultLoginPath は未認証時のリダイレクト先。
const DefaultLoginPath = "/login"

// Evaluate はセッションのスナップショットから判定結果を返す。
func Evaluate(s session.Session) State {
	if s.IsResolving {
		return Resolving
	}
	if s.Identity == nil {
		return Denied
	}
	return Authorized
}

// SessionSource はガードが参照するセッションストア。
type SessionSource interface {
	Current() session.Session
	Subscribe(fn session.Listener) (unsubscribe func())
}

// Await は判定がResolving以外になるまで、最大waitの間ストアの更新を待つ。
// 更新のたびに再判定し、待機がタイムアウトした場合やctxが終了した場合は
// その時点の判定（Resolving）を返す。
func Await(ctx context.Context, src SessionSource, wait time.Duration) (State, session.Session) {
	current := src.Current()
	if state := Evaluate(current); state != Resolving || wait <= 0 {
		return state, current
	}

	decided := make(chan session.Session, 1)
	unsubscribe := src.Subscribe(func(s session.Session) {
		if Evaluate(s) == Resolving {
			return
		}
		select {
		case decided <- s:
		default:
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s := <-decided:
		return Evaluate(s), s
	case <-timer.C:
	case <-ctx.Done():
	}
	return Resolving, src.Current()
}

// Recorder は判定結果を記録する。
type Recorder interface {
	RecordGuardDecision(state string)
}

// Options はガードミドルウェアの設定。
type Options struct {
	// LoginPath は未認証時のリダイレクト先。空の場合はDefaultLoginPath。
	LoginPath string
	// Wait はResolving時に判定の確定を待つ最大時間。
	Wait time.Duration
	// Placeholder はResolvingのまま待機が終わった場合に表示するハンドラー。
	// nilの場合は自動更新する簡易ページを返す。
	Placeholder http.Handler
	Recorder    Recorder
	Logger      *slog.Logger
}

// Middleware は保護ルート用のミドルウェアを返す。
// sourceはリクエストに対応するクライアントのセッションストアを返す。nilの場合は未認証として扱う。
// 元のリクエストパスは保持せず、未認証時は常にログイン画面へリダイレクトする。
func Middleware(source func(r *http.Request) SessionSource, opts Options) func(next http.Handler) http.Handler {
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	placeholder := opts.Placeholder
	if placeholder == nil {
		placeholder = http.HandlerFunc(writePlaceholder)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := Denied
			var current session.Session
			if src := source(r); src != nil {
				state, current = Await(r.Context(), src, opts.Wait)
			}

			if opts.Recorder != nil {
				opts.Recorder.RecordGuardDecision(string(state))
			}

			switch state {
			case Authorized:
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), current)))
			case Resolving:
				logger.Debug("session still resolving, serving placeholder",
					slog.String("path", r.URL.Path),
				)
				placeholder.ServeHTTP(w, r)
			default:
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
			}
		})
	}
}

const placeholderHTML = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Loading</title></head>
<body><p>Loading...</p></body></html>
`

// writePlaceholder はセッション確定待ちの簡易ページを返す。
// Refreshヘッダーで再読み込みさせ、次のリクエストで改めて判定する。
func writePlaceholder(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(placeholderHTML))
}

type contextKey string

var sessionContextKey = contextKey("session")

// ContextWithSession はガードを通過した時点のセッションをコンテキストに格納する。
func ContextWithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext はガードを通過した時点のセッションを返す。
// 保護ルート以外ではokがfalseになる。
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(session.Session)
	return s, ok
}
