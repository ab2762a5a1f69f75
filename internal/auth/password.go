package auth

import (
	"unicode"

	"github.com/hitoshi/foodreview/internal/model"
)

// MinPasswordLength は登録フォームで要求するパスワードの最小文字数。
const MinPasswordLength = 6

// ValidatePassword は登録時のパスワードポリシーを検証する。
// 大文字・小文字をそれぞれ1文字以上含み、MinPasswordLength文字以上であること。
func ValidatePassword(password string) error {
	var hasUpper, hasLower bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}

	if !hasUpper {
		return model.NewWeakCredentialError("Password must include at least one uppercase letter")
	}
	if !hasLower {
		return model.NewWeakCredentialError("Password must include at least one lowercase letter")
	}
	if len([]rune(password)) < MinPasswordLength {
		return model.NewWeakCredentialError("Password must be at least 6 characters long")
	}
	return nil
}
