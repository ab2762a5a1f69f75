package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/foodreview/internal/model"
)

const tokenIssuer = "foodreview"

// ErrInvalidToken は永続化トークンの検証に失敗した場合に返される。
var ErrInvalidToken = errors.New("invalid identity token")

// identityClaims は永続化するIdentityトークンのクレーム。
type identityClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer はIdentityをHS256署名付きJWTとして発行・検証する。
// ブラウザのCookieに保存し、クライアント再生成時の認証状態の復元に使う。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttlはトークンの有効期間。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はIdentityからトークンを発行する。
func (t *TokenIssuer) Issue(identity *model.Identity) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("cannot issue token without identity")
	}

	now := t.now()
	claims := identityClaims{
		Email:   identity.Email,
		Name:    identity.DisplayName,
		Picture: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証し、含まれるIdentityを返す。
// 署名・発行者・有効期限のいずれかが不正な場合はErrInvalidTokenをラップして返す。
func (t *TokenIssuer) Parse(token string) (*model.Identity, error) {
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &model.Identity{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		AvatarURL:   claims.Picture,
	}, nil
}
