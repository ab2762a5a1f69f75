package model

import "time"

// Identity はIdPが発行する認証済みユーザーのスナップショット。
// プロバイダーのイベントごとに丸ごと置き換え、フィールド単位では変更しない。
type Identity struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Account はバンドルされたIdPアダプタが永続化するアカウント。
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity はアカウントから公開用のIdentityスナップショットを生成する。
func (a *Account) Identity() *Identity {
	return &Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		AvatarURL:   a.AvatarURL,
	}
}

// ProviderLink は外部ソーシャルIdPとアカウントの紐付け情報を表す。
type ProviderLink struct {
	ID             string
	AccountID      string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}
