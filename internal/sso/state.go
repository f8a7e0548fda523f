package sso

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
)

// state del round-trip OAuth: un JWT EdDSA firmado por el registry que viaja
// opaco hasta el provider y vuelve en el callback. Audiencia propia para que
// jamás se confunda con un token tenant ni con el cookie SSO.
const stateAudience = "oauth-state"

const stateTTL = 10 * time.Minute

// State es lo que el registry necesita recordar a través del provider.
type State struct {
	VaultID     string
	Callback    string
	Nonce       string
	InviteToken string // vacío si no es un flujo de invitación
}

// SignState firma el state con la clave activa.
func (i *Issuer) SignState(ctx context.Context, st State) (string, error) {
	k, err := i.Keys.Active(ctx)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss":   i.Iss,
		"aud":   stateAudience,
		"iat":   now.Unix(),
		"exp":   now.Add(stateTTL).Unix(),
		"vid":   st.VaultID,
		"cb":    st.Callback,
		"nonce": st.Nonce,
	}
	if st.InviteToken != "" {
		claims["inv"] = st.InviteToken
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = k.ID
	tk.Header["typ"] = "JWT"
	return tk.SignedString(ed25519.PrivateKey(k.PrivateKey))
}

// ParseState valida el state devuelto por el provider. Cualquier falla es
// ErrInvalidState: flujo forjado o vencido, se rechaza sin retry.
func (i *Issuer) ParseState(ctx context.Context, compact string) (*State, error) {
	recs, err := i.Keys.PublicKeys(ctx)
	if err != nil {
		return nil, google.ErrInvalidState
	}

	var mc jwtv5.MapClaims
	ok := false
	for _, k := range recs {
		tk, err := jwtv5.Parse(compact,
			func(t *jwtv5.Token) (any, error) { return ed25519.PublicKey(k.PublicKey), nil },
			jwtv5.WithValidMethods([]string{"EdDSA"}),
			jwtv5.WithIssuer(i.Iss),
			jwtv5.WithAudience(stateAudience),
		)
		if err != nil || !tk.Valid {
			if errors.Is(err, jwtv5.ErrTokenSignatureInvalid) {
				continue
			}
			return nil, google.ErrInvalidState
		}
		if c, okc := tk.Claims.(jwtv5.MapClaims); okc {
			mc, ok = c, true
		}
		break
	}
	if !ok {
		return nil, google.ErrInvalidState
	}

	get := func(k string) string {
		s, _ := mc[k].(string)
		return s
	}
	st := &State{
		VaultID:     get("vid"),
		Callback:    get("cb"),
		Nonce:       get("nonce"),
		InviteToken: get("inv"),
	}
	if st.VaultID == "" || st.Nonce == "" {
		return nil, google.ErrInvalidState
	}
	return st, nil
}
