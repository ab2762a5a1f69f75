package reviewapi

import (
	"net/http"
	"time"
)

// RetryPolicy は読み取り（GET）リクエストの再試行設定。
// 変更系のリクエストは重複作成を避けるため再試行しない。
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy は本番用の再試行設定を返す。初回100ms、2倍ずつ増加、最大1秒で2回まで。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// backoff は再試行回数に基づいて指数バックオフ遅延を計算する。
func (p RetryPolicy) backoff(retry int) time.Duration {
	delay := p.InitialBackoff
	for i := 0; i < retry; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// attempts はメソッドに応じた最大試行回数を返す。
func (p RetryPolicy) attempts(method string) int {
	if method != http.MethodGet || p.MaxRetries <= 0 {
		return 1
	}
	return 1 + p.MaxRetries
}

// isRetryableStatus は一時的な失敗とみなすステータスかを判定する（429/5xx）。
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}
