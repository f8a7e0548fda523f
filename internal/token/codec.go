// Package token firma y verifica los tokens compactos del registry.
// Lógica criptográfica pura sobre material de clave provisto: sin I/O.
package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	// AudienceSSO es la audiencia reservada del cookie SSO. Nunca puede ser
	// el id de un vault: un token tenant jamás vale como SSO ni al revés.
	AudienceSSO = "sso"

	// TenantTokenTTL es la ventana fija de los tokens con audiencia tenant.
	TenantTokenTTL = 5 * time.Minute
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrExpired          = errors.New("token_expired")
	ErrClaimMismatch    = errors.New("claim_mismatch")
	ErrMalformedPayload = errors.New("malformed_payload")
)

// Claims son los claims canónicos de un token del registry.
// Subject == Email (el sujeto es el email verificado por el provider).
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     string
	Email     string
	Name      string
	Picture   string
}

// Codec firma/verifica con un reloj inyectable (tests controlan el tiempo).
type Codec struct {
	now func() time.Time
}

func NewCodec() *Codec { return &Codec{now: time.Now} }

// NewCodecAt crea un codec con reloj propio.
func NewCodecAt(now func() time.Time) *Codec { return &Codec{now: now} }

// Sign emite el token compacto (header.payload.signature) firmado EdDSA.
// Setea iat=now y exp=iat+ttl; el kid viaja en el header para que el
// verificador elija la clave publicada correcta.
func (c *Codec) Sign(cl Claims, ttl time.Duration, kid string, priv ed25519.PrivateKey) (string, error) {
	now := c.now().UTC()
	exp := now.Add(ttl)

	claims := jwtv5.MapClaims{
		"iss":   cl.Issuer,
		"sub":   cl.Subject,
		"aud":   cl.Audience,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"nonce": cl.Nonce,
		"email": cl.Email,
	}
	if cl.Name != "" {
		claims["name"] = cl.Name
	}
	if cl.Picture != "" {
		claims["picture"] = cl.Picture
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	return tk.SignedString(priv)
}

// Verify valida firma, exp y claims esperados contra una única clave pública.
// Falla con errores tipados: firma inválida, expirado, claim esperado que no
// matchea (iss/aud), o payload sin los claims requeridos.
func (c *Codec) Verify(compact string, pub ed25519.PublicKey, wantIss, wantAud string) (*Claims, error) {
	tk, err := jwtv5.Parse(compact,
		func(t *jwtv5.Token) (any, error) { return pub, nil },
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwtv5.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformedPayload
		}
	}
	if !tk.Valid {
		return nil, ErrInvalidSignature
	}

	mc, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrMalformedPayload
	}

	cl, err := claimsFromMap(mc)
	if err != nil {
		return nil, err
	}
	if wantIss != "" && cl.Issuer != wantIss {
		return nil, ErrClaimMismatch
	}
	if wantAud != "" && cl.Audience != wantAud {
		return nil, ErrClaimMismatch
	}
	return cl, nil
}

// claimsFromMap exige los claims requeridos (iss, sub, aud, email, nonce)
// con el tipo correcto; su ausencia es payload malformado, no mismatch.
func claimsFromMap(mc jwtv5.MapClaims) (*Claims, error) {
	str := func(k string) (string, bool) {
		v, ok := mc[k].(string)
		return v, ok && v != ""
	}
	iss, ok1 := str("iss")
	sub, ok2 := str("sub")
	aud, ok3 := str("aud")
	email, ok4 := str("email")
	nonce, ok5 := str("nonce")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, ErrMalformedPayload
	}

	cl := &Claims{
		Issuer:   iss,
		Subject:  sub,
		Audience: aud,
		Nonce:    nonce,
		Email:    email,
	}
	if v, ok := str("name"); ok {
		cl.Name = v
	}
	if v, ok := str("picture"); ok {
		cl.Picture = v
	}
	if f, ok := mc["iat"].(float64); ok {
		cl.IssuedAt = time.Unix(int64(f), 0).UTC()
	}
	if f, ok := mc["exp"].(float64); ok {
		cl.ExpiresAt = time.Unix(int64(f), 0).UTC()
	} else {
		return nil, ErrMalformedPayload
	}
	return cl, nil
}
