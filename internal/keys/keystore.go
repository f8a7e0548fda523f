// Package keys maneja el ciclo de vida de las claves de firma Ed25519
// y publica el JWKS que consumen los verificadores remotos.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

var ErrNoActiveKey = errors.New("no_active_signing_key")

// Service lee/escribe claves en el store con un cache local corto,
// para no golpear la DB en cada firma.
type Service struct {
	store core.Repository

	mu         sync.RWMutex
	active     *core.SigningKey
	cacheUntil time.Time
	cacheTTL   time.Duration

	now func() time.Time
}

func NewService(store core.Repository) *Service {
	return &Service{
		store:    store,
		cacheTTL: 30 * time.Second,
		now:      time.Now,
	}
}

// Create genera un par Ed25519 fresco y lo persiste. La clave nueva pasa a
// ser la activa (es la no-revocada más reciente).
func (s *Service) Create(ctx context.Context) (*core.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	k := &core.SigningKey{
		ID:         uuid.NewString(),
		Algorithm:  "EdDSA",
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertSigningKey(ctx, k); err != nil {
		return nil, err
	}
	s.invalidate()
	return k, nil
}

// EnsureBootstrap: si no hay clave activa, genera una (primer arranque).
func (s *Service) EnsureBootstrap(ctx context.Context) error {
	_, err := s.store.GetActiveSigningKey(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	_, err = s.Create(ctx)
	return err
}

// Active devuelve la clave activa (cacheada).
func (s *Service) Active(ctx context.Context) (*core.SigningKey, error) {
	s.mu.RLock()
	if s.active != nil && s.now().Before(s.cacheUntil) {
		k := *s.active
		s.mu.RUnlock()
		return &k, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.now().Before(s.cacheUntil) {
		k := *s.active
		return &k, nil
	}

	rec, err := s.store.GetActiveSigningKey(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrNoActiveKey
		}
		return nil, err
	}
	s.active = rec
	s.cacheUntil = s.now().Add(s.cacheTTL)
	k := *rec
	return &k, nil
}

// Revoke marca revoked_at=now (idempotente) y descarta el cache local.
// La clave no se publica más, pero queda en DB para auditoría.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.store.RevokeSigningKey(ctx, id, s.now()); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// PublicKeys devuelve las públicas no-revocadas en orden de publicación.
func (s *Service) PublicKeys(ctx context.Context) ([]core.SigningKey, error) {
	return s.store.ListSigningKeys(ctx, false)
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.active = nil
	s.cacheUntil = time.Time{}
	s.mu.Unlock()
}
