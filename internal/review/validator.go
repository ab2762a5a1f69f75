package review

import (
	"context"

	"github.com/hitoshi/foodreview/internal/model"
	"github.com/hitoshi/foodreview/internal/security"
)

// ImageChecker は画像URLが実在する画像を指すかを確認する。
type ImageChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Validator はレビュー入力をネットワーク送信前に検証する。
type Validator struct {
	sanitizer *security.TextSanitizer
	images    ImageChecker
}

// NewValidator はValidatorを生成する。imagesがnilの場合は画像URLの到達確認を行わない。
func NewValidator(images ImageChecker) *Validator {
	return &Validator{
		sanitizer: security.NewTextSanitizer(),
		images:    images,
	}
}

// Validate は入力からHTMLを除去したうえで検証し、送信用のフィールドを返す。
// 必須項目の欠落はREQUIRED_FIELD、評価値の範囲外はINVALID_RATING、
// 画像URLの不備はINVALID_URLを返す。
func (v *Validator) Validate(ctx context.Context, in model.ReviewFields) (model.ReviewFields, error) {
	out := model.ReviewFields{
		FoodName:       v.sanitizer.Sanitize(in.FoodName),
		FoodImage:      v.sanitizer.Sanitize(in.FoodImage),
		RestaurantName: v.sanitizer.Sanitize(in.RestaurantName),
		Location:       v.sanitizer.Sanitize(in.Location),
		Rating:         in.Rating,
		ReviewText:     v.sanitizer.Sanitize(in.ReviewText),
	}

	required := []struct {
		field string
		value string
	}{
		{"Food name", out.FoodName},
		{"Food image", out.FoodImage},
		{"Restaurant name", out.RestaurantName},
		{"Location", out.Location},
		{"Review", out.ReviewText},
	}
	for _, r := range required {
		if r.value == "" {
			return model.ReviewFields{}, model.NewRequiredFieldError(r.field)
		}
	}

	if err := ValidateRating(out.Rating); err != nil {
		return model.ReviewFields{}, err
	}

	if err := security.ValidatePublicURL(out.FoodImage); err != nil {
		return model.ReviewFields{}, model.NewInvalidURLError("Food image", err.Error())
	}
	if v.images != nil {
		if err := v.images.Check(ctx, out.FoodImage); err != nil {
			return model.ReviewFields{}, model.NewInvalidURLError("Food image", err.Error())
		}
	}

	return out, nil
}

// ValidateRating は評価値が1から5の整数であることを検証する。
func ValidateRating(rating int) error {
	if rating < model.MinRating || rating > model.MaxRating {
		return model.NewInvalidRatingError(rating)
	}
	return nil
}
