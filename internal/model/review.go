// Package model はドメインモデルを定義する。
package model

import "time"

// MinRating と MaxRating はレビュー評価の許容範囲。
const (
	MinRating = 1
	MaxRating = 5
)

// Review は外部データサービスが保持する料理レビューを表す。
// JSONタグは外部サービスのワイヤ形式に合わせる。
type Review struct {
	ID               string    `json:"_id"`
	OwnerEmail       string    `json:"userEmail"`
	FoodName         string    `json:"foodName"`
	FoodImage        string    `json:"foodImage"`
	RestaurantName   string    `json:"restaurantName"`
	Location         string    `json:"location"`
	Rating           int       `json:"rating"`
	ReviewText       string    `json:"reviewText"`
	OwnerDisplayName string    `json:"userName"`
	OwnerAvatarURL   string    `json:"userPhoto,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ReviewFields はレビューのうち利用者が編集可能なフィールドの集合。
// ID、所有者、作成日時は含まない。
type ReviewFields struct {
	FoodName       string `json:"foodName"`
	FoodImage      string `json:"foodImage"`
	RestaurantName string `json:"restaurantName"`
	Location       string `json:"location"`
	Rating         int    `json:"rating"`
	ReviewText     string `json:"reviewText"`
}

// Fields はレビューから編集可能フィールドのコピーを取り出す。
func (r *Review) Fields() ReviewFields {
	return ReviewFields{
		FoodName:       r.FoodName,
		FoodImage:      r.FoodImage,
		RestaurantName: r.RestaurantName,
		Location:       r.Location,
		Rating:         r.Rating,
		ReviewText:     r.ReviewText,
	}
}

// NewReviewRequest はPOST /reviews のリクエストボディ。
// 所有者情報は現在のセッションのIdentityから埋める。
type NewReviewRequest struct {
	ReviewFields
	OwnerDisplayName string `json:"userName"`
	OwnerEmail       string `json:"userEmail"`
	OwnerAvatarURL   string `json:"userPhoto"`
}

// FavoriteLink はユーザーとレビューの紐付けを表す。
// 作成時点のレビュー内容をスナップショットとして保持し、元レビューの後続の編集は反映されない。
type FavoriteLink struct {
	ID             string `json:"_id,omitempty"`
	OwnerEmail     string `json:"userEmail"`
	ReviewID       string `json:"reviewId"`
	FoodName       string `json:"foodName"`
	FoodImage      string `json:"foodImage"`
	RestaurantName string `json:"restaurantName"`
	Location       string `json:"location"`
	Rating         int    `json:"rating"`
}

// NewFavoriteLink はレビューのスナップショットからFavoriteLinkを組み立てる。
func NewFavoriteLink(ownerEmail string, r *Review) FavoriteLink {
	return FavoriteLink{
		OwnerEmail:     ownerEmail,
		ReviewID:       r.ID,
		FoodName:       r.FoodName,
		FoodImage:      r.FoodImage,
		RestaurantName: r.RestaurantName,
		Location:       r.Location,
		Rating:         r.Rating,
	}
}
