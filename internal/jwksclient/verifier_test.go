package jwksclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/store/memory"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

// jwksServer publica el JWKS de un keystore real y cuenta los fetches.
// failing en true simula al issuer caído.
type jwksServer struct {
	ks      *keys.Service
	fetches atomic.Int64
	failing atomic.Bool
}

func newJWKSServer(t *testing.T) (*jwksServer, *httptest.Server) {
	t.Helper()
	js := &jwksServer{ks: keys.NewService(memory.New())}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		js.fetches.Add(1)
		if js.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		doc, err := js.ks.JWKSJSON(r.Context())
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return js, srv
}

func signToken(t *testing.T, issuer, aud, kid string, priv ed25519.PrivateKey, ttl time.Duration) string {
	t.Helper()
	cl := token.Claims{
		Issuer:   issuer,
		Subject:  "ana@example.org",
		Audience: aud,
		Nonce:    "n-1",
		Email:    "ana@example.org",
	}
	compact, err := token.NewCodec().Sign(cl, ttl, kid, priv)
	require.NoError(t, err)
	return compact
}

func TestVerify_AgainstPublishedJWKS(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)

	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	active, err := js.ks.Active(ctx)
	require.NoError(t, err)

	compact := signToken(t, srv.URL, "chorus", active.ID, ed25519.PrivateKey(active.PrivateKey), time.Minute)

	v := New(time.Hour)
	cl, err := v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
	require.Equal(t, "ana@example.org", cl.Email)
}

func TestVerify_CachesBetweenCalls(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	active, err := js.ks.Active(ctx)
	require.NoError(t, err)

	v := New(time.Hour)
	for i := 0; i < 5; i++ {
		compact := signToken(t, srv.URL, "chorus", active.ID, ed25519.PrivateKey(active.PrivateKey), time.Minute)
		_, err := v.Verify(ctx, compact, srv.URL, "chorus")
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), js.fetches.Load())
}

func TestVerify_NoMatchingKey(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))

	// firmada con una clave que el issuer jamás publicó
	_, stray, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	compact := signToken(t, srv.URL, "chorus", "stray-kid", stray, time.Minute)

	v := New(time.Hour)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.ErrorIs(t, err, ErrNoMatchingKey)
}

func TestVerify_RotationFallback(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)

	// dos claves publicadas: un token de la vieja sigue verificando
	k1, err := js.ks.Create(ctx)
	require.NoError(t, err)
	_, err = js.ks.Create(ctx)
	require.NoError(t, err)

	compact := signToken(t, srv.URL, "chorus", k1.ID, ed25519.PrivateKey(k1.PrivateKey), time.Minute)

	v := New(time.Hour)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
}

func TestVerify_StaleServedOnFetchFailure(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	active, err := js.ks.Active(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := New(time.Hour).WithClock(func() time.Time { return now })

	compact := signToken(t, srv.URL, "chorus", active.ID, ed25519.PrivateKey(active.PrivateKey), 48*time.Hour)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)

	// pasa el TTL y el issuer se cae: la entrada stale sigue sirviendo
	now = now.Add(2 * time.Hour)
	js.failing.Store(true)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
}

func TestVerify_RevokedKeyBoundedStaleness(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)

	k1, err := js.ks.Create(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := token.NewCodecAt(func() time.Time { return now })
	cl := token.Claims{
		Issuer: srv.URL, Subject: "ana@example.org", Audience: "chorus",
		Nonce: "n-1", Email: "ana@example.org",
	}
	compact, err := signer.Sign(cl, 48*time.Hour, k1.ID, ed25519.PrivateKey(k1.PrivateKey))
	require.NoError(t, err)

	v := New(time.Hour).WithClock(func() time.Time { return now })
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)

	// rotación con revocación: entra k2 y k1 desaparece del JWKS publicado
	_, err = js.ks.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, js.ks.Revoke(ctx, k1.ID))

	// dentro del TTL el set cacheado sigue vigente y el token viejo verifica
	now = now.Add(30 * time.Minute)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
	require.Equal(t, int64(1), js.fetches.Load())

	// pasado el TTL el refetch trae el set sin k1 y el token cae
	now = now.Add(45 * time.Minute)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.ErrorIs(t, err, ErrNoMatchingKey)
	require.Equal(t, int64(2), js.fetches.Load())
}

func TestVerify_InvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	active, err := js.ks.Active(ctx)
	require.NoError(t, err)

	v := New(time.Hour)
	compact := signToken(t, srv.URL, "chorus", active.ID, ed25519.PrivateKey(active.PrivateKey), time.Minute)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
	require.Equal(t, int64(1), js.fetches.Load())

	v.Invalidate(srv.URL)
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.NoError(t, err)
	require.Equal(t, int64(2), js.fetches.Load())
}

func TestVerify_FetchFailedCold(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	js.failing.Store(true)

	v := New(time.Hour)
	_, err := v.Verify(ctx, "whatever", srv.URL, "chorus")
	require.ErrorIs(t, err, ErrKeyFetchFailed)
}

func TestVerify_ExpiredShortCircuits(t *testing.T) {
	ctx := context.Background()
	js, srv := newJWKSServer(t)
	require.NoError(t, js.ks.EnsureBootstrap(ctx))
	active, err := js.ks.Active(ctx)
	require.NoError(t, err)

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := token.NewCodecAt(func() time.Time { return issued })
	cl := token.Claims{
		Issuer: srv.URL, Subject: "ana@example.org", Audience: "chorus",
		Nonce: "n-1", Email: "ana@example.org",
	}
	compact, err := signer.Sign(cl, time.Minute, active.ID, ed25519.PrivateKey(active.PrivateKey))
	require.NoError(t, err)

	v := New(time.Hour).WithClock(func() time.Time { return issued.Add(time.Hour) })
	_, err = v.Verify(ctx, compact, srv.URL, "chorus")
	require.ErrorIs(t, err, token.ErrExpired)
}
