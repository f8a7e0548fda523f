// Package jwksclient es el lado verificador: fetch + cache del JWKS de un
// issuer remoto, con fallback multi-clave para tolerar rotación sin downtime.
package jwksclient

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

var (
	// ErrKeyFetchFailed: no se pudo traer el JWKS y no hay entrada cacheada.
	ErrKeyFetchFailed = errors.New("key_fetch_failed")
	// ErrNoMatchingKey: ninguna clave publicada verifica la firma. Distinto de
	// ErrInvalidSignature de una clave puntual: acá el caller puede distinguir
	// "cache viejo" de "token forjado".
	ErrNoMatchingKey = errors.New("no_matching_key")
)

const DefaultTTL = time.Hour

type publicKey struct {
	kid string
	key ed25519.PublicKey
}

type entry struct {
	keys      []publicKey
	fetchedAt time.Time
}

// Verifier cachea el key set por issuer. Estado process-local sin coordinación
// cross-instance: la staleness entre instancias queda acotada por el TTL y es
// un trade-off aceptado. El TTL debe ser menor que la ventana mínima
// revoke-to-reverify del deployment.
type Verifier struct {
	httpc *http.Client
	ttl   time.Duration
	cache *gocache.Cache
	sf    singleflight.Group
	codec *token.Codec
	now   func() time.Time
}

func New(ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Verifier{
		httpc: &http.Client{Timeout: 10 * time.Second},
		ttl:   ttl,
		// las entradas no expiran solas: una entrada stale sigue sirviendo
		// como fallback si el refetch falla
		cache: gocache.New(gocache.NoExpiration, 0),
		codec: token.NewCodec(),
		now:   time.Now,
	}
}

// WithClock fija el reloj (tests). También lo propaga al codec interno.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	v.codec = token.NewCodecAt(now)
	return v
}

// WithHTTPClient reemplaza el http.Client (tests / timeouts custom).
func (v *Verifier) WithHTTPClient(c *http.Client) *Verifier {
	v.httpc = c
	return v
}

// Verify valida un token contra el JWKS publicado por issuerURL.
// Prueba cada clave publicada en orden hasta que una verifique; así un token
// firmado justo antes de una rotación sigue verificando mientras su clave
// esté publicada y el token no haya expirado.
func (v *Verifier) Verify(ctx context.Context, compact, issuerURL, wantAud string) (*token.Claims, error) {
	ks, err := v.keysFor(ctx, issuerURL)
	if err != nil {
		return nil, err
	}
	for _, pk := range ks {
		cl, err := v.codec.Verify(compact, pk.key, issuerURL, wantAud)
		if err == nil {
			return cl, nil
		}
		if errors.Is(err, token.ErrInvalidSignature) {
			continue
		}
		// expirado / claim mismatch / malformado: fallaría igual con
		// cualquier otra clave, se corta acá
		return nil, err
	}
	return nil, ErrNoMatchingKey
}

// keysFor devuelve el key set del issuer: cacheado si está fresco, refetch si
// no; si el fetch falla y hay entrada stale, se sirve la stale.
func (v *Verifier) keysFor(ctx context.Context, issuerURL string) ([]publicKey, error) {
	if e, ok := v.cache.Get(issuerURL); ok {
		ent := e.(*entry)
		if v.now().Sub(ent.fetchedAt) < v.ttl {
			return ent.keys, nil
		}
	}

	got, err, _ := v.sf.Do(issuerURL, func() (any, error) {
		ks, err := v.fetch(ctx, issuerURL)
		if err != nil {
			return nil, err
		}
		v.cache.Set(issuerURL, &entry{keys: ks, fetchedAt: v.now()}, gocache.NoExpiration)
		return ks, nil
	})
	if err != nil {
		if e, ok := v.cache.Get(issuerURL); ok {
			return e.(*entry).keys, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	return got.([]publicKey), nil
}

func (v *Verifier) fetch(ctx context.Context, issuerURL string) ([]publicKey, error) {
	u := strings.TrimRight(issuerURL, "/") + "/.well-known/jwks.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("jwks http %d", resp.StatusCode)
	}

	var doc keys.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	out := make([]publicKey, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		if !strings.EqualFold(k.Kty, "OKP") || !strings.EqualFold(k.Crv, "Ed25519") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			continue
		}
		out = append(out, publicKey{kid: k.Kid, key: ed25519.PublicKey(raw)})
	}
	return out, nil
}

// Invalidate descarta la entrada cacheada de un issuer.
func (v *Verifier) Invalidate(issuerURL string) {
	v.cache.Delete(issuerURL)
}
