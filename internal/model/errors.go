// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, ownership, validation, network, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryOwnership  = "ownership"
	CategoryValidation = "validation"
	CategoryNetwork    = "network"
	CategoryNotFound   = "not_found"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	// AuthError
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeEmailInUse         = "EMAIL_IN_USE"
	ErrCodeWeakCredential     = "WEAK_CREDENTIAL"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeInvalidCredential  = "INVALID_CREDENTIAL"
	ErrCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	ErrCodeHandshakeCancelled = "HANDSHAKE_CANCELLED"
	ErrCodeHandshakeFailed    = "HANDSHAKE_FAILED"
	ErrCodeNoActiveSession    = "NO_ACTIVE_SESSION"

	// OwnershipError
	ErrCodeNotOwner = "NOT_OWNER"

	// ValidationError
	ErrCodeInvalidRating = "INVALID_RATING"
	ErrCodeRequiredField = "REQUIRED_FIELD"
	ErrCodeInvalidURL    = "INVALID_URL"

	// NetworkError
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeRemoteError = "REMOTE_ERROR"

	// NotFoundError
	ErrCodeNotFound = "NOT_FOUND"
)

// IsCode はエラーチェーン中のAPIErrorが指定コードを持つかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// CategoryOf はエラーチェーン中のAPIErrorのカテゴリを返す。
// APIErrorを含まない場合はsystemを返す。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategorySystem
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "Invalid email format",
		Category: CategoryAuth,
		Action:   "Enter a valid email address.",
	}
}

// NewEmailInUseError は登録済みメールアドレスエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "Email is already registered",
		Category: CategoryAuth,
		Action:   "Log in instead, or register with another email address.",
	}
}

// NewWeakCredentialError はパスワードポリシー違反エラーを生成する。
// reasonにはどの条件を満たしていないかを渡す。
func NewWeakCredentialError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakCredential,
		Message:  reason,
		Category: CategoryAuth,
		Action:   "Use at least 6 characters with an uppercase and a lowercase letter.",
	}
}

// NewPasswordMismatchError はパスワード確認不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match",
		Category: CategoryValidation,
		Action:   "Type the same password in both fields.",
	}
}

// NewInvalidCredentialError は認証情報不一致エラーを生成する。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "Invalid email or password",
		Category: CategoryAuth,
		Action:   "Check your email and password and try again.",
	}
}

// NewAccountNotFoundError はアカウント未登録エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "No account found for this email",
		Category: CategoryAuth,
		Action:   "Register a new account first.",
	}
}

// NewHandshakeCancelledError はソーシャルログインのキャンセルエラーを生成する。
func NewHandshakeCancelledError() *APIError {
	return &APIError{
		Code:     ErrCodeHandshakeCancelled,
		Message:  "Social login was cancelled",
		Category: CategoryAuth,
		Action:   "Try again and approve the sign-in request.",
	}
}

// NewHandshakeFailedError はソーシャルログインの失敗エラーを生成する。
func NewHandshakeFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeHandshakeFailed,
		Message:  fmt.Sprintf("Social login failed: %s", reason),
		Category: CategoryAuth,
		Action:   "Try again later or log in with email and password.",
	}
}

// NewNoActiveSessionError はセッション未確立エラーを生成する。
func NewNoActiveSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSession,
		Message:  "You need to be logged in",
		Category: CategoryAuth,
		Action:   "Log in and try again.",
	}
}

// NewNotOwnerError はリソース所有者不一致エラーを生成する。
func NewNotOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotOwner,
		Message:  "You can only edit your own reviews",
		Category: CategoryOwnership,
		Action:   "Pick one of your own reviews.",
	}
}

// NewInvalidRatingError は評価値範囲外エラーを生成する。
func NewInvalidRatingError(rating int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("Rating must be between %d and %d, got %d", MinRating, MaxRating, rating),
		Category: CategoryValidation,
		Action:   "Choose a rating from 1 to 5 stars.",
	}
}

// NewRequiredFieldError は必須項目未入力エラーを生成する。
func NewRequiredFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeRequiredField,
		Message:  fmt.Sprintf("%s is required", field),
		Category: CategoryValidation,
		Action:   "Fill in every field marked with *.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("%s is not a valid URL: %s", field, reason),
		Category: CategoryValidation,
		Action:   "Enter a full URL starting with http:// or https://.",
	}
}

// NewNetworkError は外部サービスとの通信失敗エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  "Something went wrong",
		Category: CategoryNetwork,
		Action:   "Wait a moment and try again.",
	}
}

// NewRemoteError は外部サービスが返したメッセージをそのまま保持するエラーを生成する。
func NewRemoteError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteError,
		Message:  message,
		Category: CategoryNetwork,
		Action:   "Fix the request and try again.",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
		Category: CategoryNotFound,
		Action:   "Go back to the list and pick another one.",
	}
}
