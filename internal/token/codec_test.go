package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func baseClaims() Claims {
	return Claims{
		Issuer:   "https://id.choirs.example",
		Subject:  "ana@example.org",
		Audience: "chorus",
		Nonce:    "n-1",
		Email:    "ana@example.org",
		Name:     "Ana",
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv := genKey(t)
	c := NewCodec()

	compact, err := c.Sign(baseClaims(), TenantTokenTTL, "kid-1", priv)
	require.NoError(t, err)

	got, err := c.Verify(compact, pub, "https://id.choirs.example", "chorus")
	require.NoError(t, err)
	require.Equal(t, "ana@example.org", got.Subject)
	require.Equal(t, "ana@example.org", got.Email)
	require.Equal(t, "chorus", got.Audience)
	require.Equal(t, "Ana", got.Name)
	require.Equal(t, "n-1", got.Nonce)
	require.WithinDuration(t, got.IssuedAt.Add(TenantTokenTTL), got.ExpiresAt, time.Second)
}

func TestVerify_WrongKey(t *testing.T) {
	_, priv := genKey(t)
	otherPub, _ := genKey(t)
	c := NewCodec()

	compact, err := c.Sign(baseClaims(), TenantTokenTTL, "kid-1", priv)
	require.NoError(t, err)

	_, err = c.Verify(compact, otherPub, "https://id.choirs.example", "chorus")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Expiry(t *testing.T) {
	pub, priv := genKey(t)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewCodecAt(func() time.Time { return issued })
	compact, err := signer.Sign(baseClaims(), TenantTokenTTL, "kid-1", priv)
	require.NoError(t, err)

	// un segundo antes del vencimiento todavía verifica
	almost := NewCodecAt(func() time.Time { return issued.Add(TenantTokenTTL - time.Second) })
	_, err = almost.Verify(compact, pub, "https://id.choirs.example", "chorus")
	require.NoError(t, err)

	// pasado el exp, falla tipado
	late := NewCodecAt(func() time.Time { return issued.Add(TenantTokenTTL + time.Second) })
	_, err = late.Verify(compact, pub, "https://id.choirs.example", "chorus")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_AudienceIsolation(t *testing.T) {
	pub, priv := genKey(t)
	c := NewCodec()

	cl := baseClaims()
	cl.Audience = AudienceSSO
	compact, err := c.Sign(cl, time.Hour, "kid-1", priv)
	require.NoError(t, err)

	// un token SSO jamás vale como token tenant, y al revés
	_, err = c.Verify(compact, pub, "https://id.choirs.example", "chorus")
	require.ErrorIs(t, err, ErrClaimMismatch)

	_, err = c.Verify(compact, pub, "https://id.choirs.example", AudienceSSO)
	require.NoError(t, err)
}

func TestVerify_IssuerMismatch(t *testing.T) {
	pub, priv := genKey(t)
	c := NewCodec()

	compact, err := c.Sign(baseClaims(), TenantTokenTTL, "kid-1", priv)
	require.NoError(t, err)

	_, err = c.Verify(compact, pub, "https://otro.example", "chorus")
	require.ErrorIs(t, err, ErrClaimMismatch)
}

func TestVerify_Malformed(t *testing.T) {
	pub, _ := genKey(t)
	c := NewCodec()

	for _, bad := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := c.Verify(bad, pub, "https://id.choirs.example", "chorus")
		require.Error(t, err, "input: %q", bad)
	}
}

func TestVerify_MissingRequiredClaims(t *testing.T) {
	pub, priv := genKey(t)
	c := NewCodec()

	// sin email: payload incompleto aunque la firma sea válida
	cl := baseClaims()
	cl.Email = ""
	compact, err := c.Sign(cl, TenantTokenTTL, "kid-1", priv)
	require.NoError(t, err)

	_, err = c.Verify(compact, pub, "https://id.choirs.example", "chorus")
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNewNonce_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		n, err := NewNonce()
		require.NoError(t, err)
		require.NotEmpty(t, n)
		require.False(t, seen[n])
		seen[n] = true
	}
}
