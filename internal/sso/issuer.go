// Package sso emite el par de tokens tras un OAuth exitoso y maneja la
// sesión cross-tenant: un cookie firmado que evita repetir el round-trip
// al provider cuando el browser ya se autenticó contra otro vault.
package sso

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

// CookieTTL es el Max-Age del cookie SSO; el token del cookie se firma con
// el mismo horizonte. Se re-firma fresco en cada OAuth completado, nunca se
// reutiliza más allá de su exp.
const CookieTTL = 7 * 24 * time.Hour

// Issuer firma tokens con la clave activa del keystore del registry.
type Issuer struct {
	Iss   string
	Keys  *keys.Service
	Codec *token.Codec
}

func NewIssuer(iss string, ks *keys.Service) *Issuer {
	return &Issuer{Iss: iss, Keys: ks, Codec: token.NewCodec()}
}

// MintTenant emite el token de audiencia tenant (exp corto, un solo redirect).
func (i *Issuer) MintTenant(ctx context.Context, vaultID string, id *google.Identity) (string, error) {
	return i.mint(ctx, vaultID, token.TenantTokenTTL, id)
}

// MintSSO emite el token de audiencia reservada "sso" para el cookie.
func (i *Issuer) MintSSO(ctx context.Context, id *google.Identity) (string, error) {
	return i.mint(ctx, token.AudienceSSO, CookieTTL, id)
}

func (i *Issuer) mint(ctx context.Context, aud string, ttl time.Duration, id *google.Identity) (string, error) {
	k, err := i.Keys.Active(ctx)
	if err != nil {
		return "", err
	}
	nonce, err := token.NewNonce()
	if err != nil {
		return "", err
	}
	cl := token.Claims{
		Issuer:   i.Iss,
		Subject:  id.Email,
		Audience: aud,
		Nonce:    nonce,
		Email:    id.Email,
		Name:     id.Name,
		Picture:  id.Picture,
	}
	return i.Codec.Sign(cl, ttl, k.ID, ed25519.PrivateKey(k.PrivateKey))
}

// VerifyLocal verifica un token contra las claves propias del registry
// (sin pasar por el JWKS remoto). Prueba cada pública no-revocada.
func (i *Issuer) VerifyLocal(ctx context.Context, compact, wantAud string) (*token.Claims, error) {
	recs, err := i.Keys.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	var last error = token.ErrInvalidSignature
	for _, k := range recs {
		cl, err := i.Codec.Verify(compact, ed25519.PublicKey(k.PublicKey), i.Iss, wantAud)
		if err == nil {
			return cl, nil
		}
		last = err
		if err == token.ErrInvalidSignature {
			continue
		}
		break
	}
	return nil, last
}
