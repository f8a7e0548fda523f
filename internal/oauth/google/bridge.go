// Package google maneja el intercambio OAuth con el provider upstream y
// mapea el resultado a claims canónicos. El provider es una caja negra que
// devuelve email/name/picture; acá no se diseña protocolo nuevo.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const issuerURL = "https://accounts.google.com"

var (
	// ErrUpstreamExchangeFailed: el provider rechazó el code exchange.
	// Transitorio y reintentable por el usuario; nunca fatal.
	ErrUpstreamExchangeFailed = errors.New("upstream_exchange_failed")
	// ErrInvalidState: el state del round-trip falta o no verifica.
	// Flujo forjado o vencido; se rechaza sin retry.
	ErrInvalidState = errors.New("invalid_state")
)

// Identity son los claims canónicos que salen del provider.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type Bridge struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func New(ctx context.Context, clientID, clientSecret, redirectURL string, scopes []string) (*Bridge, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("google: discovery: %w", err)
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &Bridge{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthURL construye la URL de autorización. El state viaja opaco y vuelve
// intacto en el callback; el nonce se liga al id_token.
func (b *Bridge) AuthURL(state, nonce string) string {
	return b.oauth2.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange intercambia el code one-time server-to-server, verifica el
// id_token (firma, aud, nonce) y completa con userinfo.
func (b *Bridge) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	tok, err := b.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamExchangeFailed, err)
	}

	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, fmt.Errorf("%w: no id_token in response", ErrUpstreamExchangeFailed)
	}
	idt, err := b.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: id_token: %v", ErrUpstreamExchangeFailed, err)
	}
	if nonce != "" && idt.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrUpstreamExchangeFailed)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrUpstreamExchangeFailed, err)
	}

	// userinfo completa lo que el id_token no trajo (name/picture según scopes)
	if claims.Email == "" || claims.Name == "" || claims.Picture == "" {
		if ui, err := b.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok)); err == nil {
			var extra struct {
				Email         string `json:"email"`
				EmailVerified bool   `json:"email_verified"`
				Name          string `json:"name"`
				Picture       string `json:"picture"`
			}
			if err := ui.Claims(&extra); err == nil {
				if claims.Email == "" {
					claims.Email = extra.Email
					claims.EmailVerified = extra.EmailVerified
				}
				if claims.Name == "" {
					claims.Name = extra.Name
				}
				if claims.Picture == "" {
					claims.Picture = extra.Picture
				}
			}
		}
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", ErrUpstreamExchangeFailed)
	}

	return &Identity{
		Subject:       idt.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
