// Package memory implementa core.Repository en memoria (dev/testing).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

type Store struct {
	mu      sync.RWMutex
	vaults  map[string]*core.Vault
	keys    map[string]*core.SigningKey
	members map[string]*core.Member
	roles   []core.RoleAssignment
	invites map[string]*core.Invite
}

func New() *Store {
	return &Store{
		vaults:  make(map[string]*core.Vault),
		keys:    make(map[string]*core.SigningKey),
		members: make(map[string]*core.Member),
		invites: make(map[string]*core.Invite),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// ───────────────────────── Vaults ─────────────────────────

func (s *Store) CreateVault(ctx context.Context, v *core.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.ID]; ok {
		return core.ErrConflict
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	cp := *v
	s.vaults[v.ID] = &cp
	return nil
}

func (s *Store) GetVault(ctx context.Context, id string) (*core.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) SetVaultActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return core.ErrNotFound
	}
	v.Active = active
	return nil
}

// ───────────────────────── Signing keys ─────────────────────────

func (s *Store) InsertSigningKey(ctx context.Context, k *core.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.ID]; ok {
		return core.ErrConflict
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

func (s *Store) GetActiveSigningKey(ctx context.Context) (*core.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active *core.SigningKey
	for _, k := range s.keys {
		if k.Revoked() {
			continue
		}
		if active == nil || k.CreatedAt.After(active.CreatedAt) {
			active = k
		}
	}
	if active == nil {
		return nil, core.ErrNotFound
	}
	cp := *active
	return &cp, nil
}

func (s *Store) ListSigningKeys(ctx context.Context, includeRevoked bool) ([]core.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		if !includeRevoked && k.Revoked() {
			continue
		}
		out = append(out, *k)
	}
	// orden estable: más reciente primero, como el store pg
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeSigningKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return core.ErrNotFound
	}
	// idempotente: la primera revocación gana
	if k.RevokedAt == nil {
		t := at.UTC()
		k.RevokedAt = &t
	}
	return nil
}

// ───────────────────────── Members + roles ─────────────────────────

func (s *Store) GetMemberByID(ctx context.Context, id string) (*core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMemberByEmail(ctx context.Context, email string) (*core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.EmailID != nil && strings.EqualFold(*m.EmailID, email) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) CreateMember(ctx context.Context, m *core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return core.ErrConflict
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *Store) GetMemberRoles(ctx context.Context, memberID string) (*core.MemberRoles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &core.MemberRoles{ByOrg: make(map[string][]string)}
	for _, ra := range s.roles {
		if ra.MemberID != memberID {
			continue
		}
		if ra.OrgID == nil {
			out.Global = append(out.Global, ra.Role)
		} else {
			out.ByOrg[*ra.OrgID] = append(out.ByOrg[*ra.OrgID], ra.Role)
		}
	}
	return out, nil
}

// ───────────────────────── Invites ─────────────────────────

func (s *Store) CreateInvite(ctx context.Context, inv *core.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[inv.ID]; ok {
		return core.ErrConflict
	}
	cp := *inv
	cp.Roles = append([]string(nil), inv.Roles...)
	s.invites[inv.ID] = &cp
	return nil
}

func (s *Store) GetInviteByID(ctx context.Context, id string) (*core.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) GetInviteByToken(ctx context.Context, token string) (*core.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invites {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) GetPendingInviteForMember(ctx context.Context, rosterMemberID string) (*core.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invites {
		if inv.RosterMemberID == rosterMemberID && inv.Status == core.InvitePending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

// AcceptInvite aplica los tres efectos bajo el mismo lock, el equivalente
// in-memory de la transacción del store pg.
func (s *Store) AcceptInvite(ctx context.Context, p core.AcceptInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[p.InviteID]
	if !ok {
		return core.ErrNotFound
	}
	if inv.Status != core.InvitePending {
		return core.ErrConflict
	}

	now := p.AcceptedAt.UTC()
	m, ok := s.members[p.MemberID]
	if !ok {
		m = &core.Member{ID: p.MemberID, CreatedAt: now}
		s.members[p.MemberID] = m
	}
	email := p.Email
	m.EmailID = &email
	if p.Name != nil && *p.Name != "" {
		m.Name = *p.Name
	}
	if p.Picture != nil {
		m.Picture = p.Picture
	}
	if p.VoicePart != nil {
		m.VoicePart = p.VoicePart
	}
	m.UpdatedAt = now

	for _, role := range p.Roles {
		s.roles = append(s.roles, core.RoleAssignment{
			MemberID:  p.MemberID,
			Role:      role,
			CreatedAt: now,
		})
	}

	inv.Status = core.InviteAccepted
	inv.AcceptedAt = &now
	inv.AcceptedByEmail = &email
	return nil
}

func (s *Store) RenewInvite(ctx context.Context, id string, until time.Time) (*core.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok || inv.Status != core.InvitePending {
		return nil, core.ErrNotFound
	}
	inv.ExpiresAt = until.UTC()
	cp := *inv
	return &cp, nil
}

func (s *Store) DeletePendingInvite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok || inv.Status != core.InvitePending {
		return core.ErrNotFound
	}
	delete(s.invites, id)
	return nil
}

var _ core.Repository = (*Store)(nil)
