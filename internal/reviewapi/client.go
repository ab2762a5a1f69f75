// Package reviewapi は外部レビューデータサービスのクライアントを提供する。
// レビューとお気に入りの永続化、検索、注目レビューの選定はすべて外部サービスが行う。
package reviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/foodreview/internal/model"
)

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 1 << 20

// エンドポイント名（メトリクスのendpointラベル）
const (
	EndpointListReviews    = "list_reviews"
	EndpointFeatured       = "featured_reviews"
	EndpointGetReview      = "get_review"
	EndpointReviewsByOwner = "reviews_by_owner"
	EndpointSearchReviews  = "search_reviews"
	EndpointCreateReview   = "create_review"
	EndpointUpdateReview   = "update_review"
	EndpointDeleteReview   = "delete_review"
	EndpointListFavorites  = "list_favorites"
	EndpointCheckFavorite  = "check_favorite"
	EndpointAddFavorite    = "add_favorite"
	EndpointRemoveFavorite = "remove_favorite"
)

// Recorder は外部API呼び出しの結果を記録する。
type Recorder interface {
	RecordAPICall(endpoint string, statusCode int)
	RecordAPILatency(endpoint string, duration time.Duration)
}

// Client はレビューデータサービスのRESTクライアント。
// 2xx以外の応答は{message}があればその文言をそのまま持つREMOTE_ERRORに、
// なければNETWORK_ERRORに変換する。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
	retry      RetryPolicy
}

// NewClient はClientを生成する。baseURLはサービスのルートURL。
// タイムアウトはhttpClient側で設定する。recorderはnilでもよい。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, recorder Recorder) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid review API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid review API URL scheme: %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
	}, nil
}

// WithRetry は読み取りリクエストの再試行設定を適用したClientを返す。既定では再試行しない。
func (c *Client) WithRetry(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// ListReviews は全レビューを取得する。GET /reviews
func (c *Client) ListReviews(ctx context.Context) ([]model.Review, error) {
	var reviews []model.Review
	if err := c.do(ctx, EndpointListReviews, http.MethodGet, "/reviews", nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// FeaturedReviews は注目レビューを取得する。GET /reviews/featured
func (c *Client) FeaturedReviews(ctx context.Context) ([]model.Review, error) {
	var reviews []model.Review
	if err := c.do(ctx, EndpointFeatured, http.MethodGet, "/reviews/featured", nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// GetReview はIDでレビューを取得する。GET /reviews/{id}
// 該当なし（404）の場合はNOT_FOUNDを返す。
func (c *Client) GetReview(ctx context.Context, id string) (*model.Review, error) {
	var review model.Review
	err := c.do(ctx, EndpointGetReview, http.MethodGet, "/reviews/"+url.PathEscape(id), nil, &review)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, model.NewNotFoundError("review", id)
		}
		return nil, err
	}
	return &review, nil
}

// ReviewsByOwner は指定メールアドレスが所有するレビューを取得する。GET /reviews/user/{email}
func (c *Client) ReviewsByOwner(ctx context.Context, email string) ([]model.Review, error) {
	var reviews []model.Review
	if err := c.do(ctx, EndpointReviewsByOwner, http.MethodGet, "/reviews/user/"+url.PathEscape(email), nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// SearchReviews はクエリでレビューを検索する。GET /reviews/search/{query}
func (c *Client) SearchReviews(ctx context.Context, query string) ([]model.Review, error) {
	var reviews []model.Review
	if err := c.do(ctx, EndpointSearchReviews, http.MethodGet, "/reviews/search/"+url.PathEscape(query), nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// CreateReview はレビューを作成する。POST /reviews
func (c *Client) CreateReview(ctx context.Context, req model.NewReviewRequest) error {
	return c.do(ctx, EndpointCreateReview, http.MethodPost, "/reviews", req, nil)
}

// UpdateReview は編集可能フィールド一式でレビューを置き換える。PUT /reviews/{id}
func (c *Client) UpdateReview(ctx context.Context, id string, fields model.ReviewFields) error {
	return c.do(ctx, EndpointUpdateReview, http.MethodPut, "/reviews/"+url.PathEscape(id), fields, nil)
}

// DeleteReview はレビューを削除する。DELETE /reviews/{id}
func (c *Client) DeleteReview(ctx context.Context, id string) error {
	return c.do(ctx, EndpointDeleteReview, http.MethodDelete, "/reviews/"+url.PathEscape(id), nil, nil)
}

// Favorites は指定メールアドレスのお気に入り一覧を取得する。GET /favorites/{email}
func (c *Client) Favorites(ctx context.Context, email string) ([]model.FavoriteLink, error) {
	var links []model.FavoriteLink
	if err := c.do(ctx, EndpointListFavorites, http.MethodGet, "/favorites/"+url.PathEscape(email), nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

type checkFavoriteResponse struct {
	IsFavorite bool `json:"isFavorite"`
}

// IsFavorite は(email, reviewID)のお気に入りが存在するかを問い合わせる。
// GET /favorites/check/{email}/{reviewId}
func (c *Client) IsFavorite(ctx context.Context, email, reviewID string) (bool, error) {
	var resp checkFavoriteResponse
	path := "/favorites/check/" + url.PathEscape(email) + "/" + url.PathEscape(reviewID)
	if err := c.do(ctx, EndpointCheckFavorite, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.IsFavorite, nil
}

// AddFavorite はお気に入りを作成する。POST /favorites
func (c *Client) AddFavorite(ctx context.Context, link model.FavoriteLink) error {
	return c.do(ctx, EndpointAddFavorite, http.MethodPost, "/favorites", link, nil)
}

// RemoveFavorite はお気に入りを削除する。DELETE /favorites/{id}
func (c *Client) RemoveFavorite(ctx context.Context, id string) error {
	return c.do(ctx, EndpointRemoveFavorite, http.MethodDelete, "/favorites/"+url.PathEscape(id), nil, nil)
}

// statusError は2xx以外の応答を表す。呼び出し元に返す前にAPIErrorでラップする。
type statusError struct {
	status int
	apiErr *model.APIError
}

func (e *statusError) Error() string {
	return fmt.Sprintf("review API returned status %d: %s", e.status, e.apiErr.Message)
}

func (e *statusError) Unwrap() error {
	return e.apiErr
}

type errorBody struct {
	Message string `json:"message"`
}

// do はリクエストを送信し、2xxの場合はoutにJSONをデコードする。outがnilの場合はボディを読み捨てる。
// GETは通信失敗と429/5xxの場合にRetryPolicyに従って再試行する。
func (c *Client) do(ctx context.Context, endpoint, method, path string, body any, out any) error {
	attempts := c.retry.attempts(method)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.backoff(attempt - 1)
			c.logger.Warn("retrying review API request",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		var retryable bool
		retryable, err = c.doOnce(ctx, endpoint, method, path, body, out)
		if err == nil || !retryable {
			return err
		}
	}
	return err
}

// doOnce はリクエストを1回送信する。retryableは再試行で回復しうる失敗かを表す。
func (c *Client) doOnce(ctx context.Context, endpoint, method, path string, body any, out any) (retryable bool, err error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(b)
	}

	reqURL := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(endpoint, resp, start)
	if err != nil {
		c.logger.Error("review API request failed",
			slog.String("endpoint", endpoint),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return ctx.Err() == nil, model.NewNetworkError()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("failed to read review API response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return ctx.Err() == nil, model.NewNetworkError()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := model.NewNetworkError()
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
			apiErr = model.NewRemoteError(eb.Message)
		}
		c.logger.Warn("review API returned error status",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return isRetryableStatus(resp.StatusCode), &statusError{status: resp.StatusCode, apiErr: apiErr}
	}

	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("failed to decode review API response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return false, model.NewNetworkError()
	}
	return false, nil
}

func (c *Client) observe(endpoint string, resp *http.Response, start time.Time) {
	if c.recorder == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.recorder.RecordAPICall(endpoint, status)
	c.recorder.RecordAPILatency(endpoint, time.Since(start))
}
