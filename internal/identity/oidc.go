package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const defaultOIDCProviderName = "oidc"

// OIDCConfig はOpenID Connectプロバイダーの設定。
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Name はprovider_linksに記録する名前。空の場合は"oidc"。
	Name string
}

// OIDCProvider はOpenID Connectの認可コードフロー（PKCE付き）によるソーシャルログインを提供する。
type OIDCProvider struct {
	name     string
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider はディスカバリーでエンドポイントを取得してOIDCProviderを生成する。
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newOIDCProvider(cfg, provider.Endpoint(), verifier), nil
}

func newOIDCProvider(cfg OIDCConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *OIDCProvider {
	name := cfg.Name
	if name == "" {
		name = defaultOIDCProviderName
	}
	return &OIDCProvider{
		name: name,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: verifier,
	}
}

// Name はプロバイダー名を返す。
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthCodeURL は認可エンドポイントのURLを生成する。
func (p *OIDCProvider) AuthCodeURL(state, nonce, verifier string) string {
	return p.oauth2.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	)
}

// oidcClaims はIDトークンから取り出すクレーム。
type oidcClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange は認可コードをトークンに交換し、IDトークンの署名とnonceを検証する。
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce, verifier string) (*SocialUserInfo, error) {
	token, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("id token nonce mismatch")
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("id token has no email claim")
	}

	return &SocialUserInfo{
		Provider:       p.name,
		ProviderUserID: idToken.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		Name:           claims.Name,
		AvatarURL:      claims.Picture,
	}, nil
}

// compile-time interface check
var _ SocialProvider = (*OIDCProvider)(nil)
