// Package pg implementa core.Repository sobre Postgres (pgxpool, SQL directo).
package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Pool() *pgxpool.Pool              { return s.pool }
func (s *Store) Ping(ctx context.Context) error   { return s.pool.Ping(ctx) }
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations aplica los .sql *.up.sql del FS embebido en orden lexicográfico.
func (s *Store) RunMigrations(ctx context.Context, fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("pg: read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("pg: read %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("pg: apply %s: %w", name, err)
		}
	}
	return nil
}

// ───────────────────────── Vaults ─────────────────────────

func (s *Store) CreateVault(ctx context.Context, v *core.Vault) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO vault (id, name, callback_url, active)
VALUES ($1,$2,$3,$4)`, v.ID, v.Name, v.CallbackURL, v.Active)
	return err
}

func (s *Store) GetVault(ctx context.Context, id string) (*core.Vault, error) {
	var v core.Vault
	err := s.pool.QueryRow(ctx, `
SELECT id, name, callback_url, active, created_at
FROM vault WHERE id=$1`, id).
		Scan(&v.ID, &v.Name, &v.CallbackURL, &v.Active, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) SetVaultActive(ctx context.Context, id string, active bool) error {
	ct, err := s.pool.Exec(ctx, `UPDATE vault SET active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ───────────────────────── Signing keys ─────────────────────────

func (s *Store) InsertSigningKey(ctx context.Context, k *core.SigningKey) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO signing_key (id, algorithm, public_key, private_key)
VALUES ($1,$2,$3,$4)`, k.ID, k.Algorithm, k.PublicKey, k.PrivateKey)
	return err
}

func (s *Store) GetActiveSigningKey(ctx context.Context) (*core.SigningKey, error) {
	var k core.SigningKey
	err := s.pool.QueryRow(ctx, `
SELECT id, algorithm, public_key, private_key, created_at, revoked_at
FROM signing_key
WHERE revoked_at IS NULL
ORDER BY created_at DESC
LIMIT 1`).
		Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKey, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListSigningKeys(ctx context.Context, includeRevoked bool) ([]core.SigningKey, error) {
	q := `
SELECT id, algorithm, public_key, private_key, created_at, revoked_at
FROM signing_key`
	if !includeRevoked {
		q += ` WHERE revoked_at IS NULL`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SigningKey
	for rows.Next() {
		var k core.SigningKey
		if err := rows.Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKey, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RevokeSigningKey es idempotente: un segundo revoke no mueve revoked_at.
func (s *Store) RevokeSigningKey(ctx context.Context, id string, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE signing_key SET revoked_at=$2
WHERE id=$1 AND revoked_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// existe ya revocada, o no existe
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM signing_key WHERE id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return core.ErrNotFound
		}
	}
	return nil
}

// ───────────────────────── Members + roles ─────────────────────────

func (s *Store) GetMemberByID(ctx context.Context, id string) (*core.Member, error) {
	return s.scanMember(s.pool.QueryRow(ctx, `
SELECT id, name, email_id, voice_part, picture, created_at, updated_at
FROM member WHERE id=$1`, id))
}

func (s *Store) GetMemberByEmail(ctx context.Context, email string) (*core.Member, error) {
	return s.scanMember(s.pool.QueryRow(ctx, `
SELECT id, name, email_id, voice_part, picture, created_at, updated_at
FROM member WHERE lower(email_id)=lower($1)
LIMIT 1`, email))
}

func (s *Store) scanMember(row pgx.Row) (*core.Member, error) {
	var m core.Member
	err := row.Scan(&m.ID, &m.Name, &m.EmailID, &m.VoicePart, &m.Picture, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMember(ctx context.Context, m *core.Member) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO member (id, name, email_id, voice_part, picture)
VALUES ($1,$2,$3,$4,$5)`, m.ID, m.Name, m.EmailID, m.VoicePart, m.Picture)
	return err
}

func (s *Store) GetMemberRoles(ctx context.Context, memberID string) (*core.MemberRoles, error) {
	rows, err := s.pool.Query(ctx, `
SELECT role, org_id FROM member_role WHERE member_id=$1`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &core.MemberRoles{ByOrg: make(map[string][]string)}
	for rows.Next() {
		var role string
		var orgID *string
		if err := rows.Scan(&role, &orgID); err != nil {
			return nil, err
		}
		if orgID == nil {
			out.Global = append(out.Global, role)
		} else {
			out.ByOrg[*orgID] = append(out.ByOrg[*orgID], role)
		}
	}
	return out, rows.Err()
}

// ───────────────────────── Invites ─────────────────────────

func (s *Store) CreateInvite(ctx context.Context, inv *core.Invite) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO invite (id, roster_member_id, token, invited_by, roles, voice_part, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.RosterMemberID, inv.Token, inv.InvitedBy, inv.Roles, inv.VoicePart,
		string(inv.Status), inv.CreatedAt.UTC(), inv.ExpiresAt.UTC())
	return err
}

const inviteCols = `id, roster_member_id, token, invited_by, roles, voice_part, status, created_at, expires_at, accepted_at, accepted_by_email`

func (s *Store) scanInvite(row pgx.Row) (*core.Invite, error) {
	var inv core.Invite
	var status string
	err := row.Scan(&inv.ID, &inv.RosterMemberID, &inv.Token, &inv.InvitedBy, &inv.Roles,
		&inv.VoicePart, &status, &inv.CreatedAt, &inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedByEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	inv.Status = core.InviteStatus(status)
	return &inv, nil
}

func (s *Store) GetInviteByID(ctx context.Context, id string) (*core.Invite, error) {
	return s.scanInvite(s.pool.QueryRow(ctx, `SELECT `+inviteCols+` FROM invite WHERE id=$1`, id))
}

func (s *Store) GetInviteByToken(ctx context.Context, token string) (*core.Invite, error) {
	return s.scanInvite(s.pool.QueryRow(ctx, `SELECT `+inviteCols+` FROM invite WHERE token=$1`, token))
}

func (s *Store) GetPendingInviteForMember(ctx context.Context, rosterMemberID string) (*core.Invite, error) {
	return s.scanInvite(s.pool.QueryRow(ctx, `
SELECT `+inviteCols+` FROM invite
WHERE roster_member_id=$1 AND status='pending'
LIMIT 1`, rosterMemberID))
}

// AcceptInvite aplica los tres efectos en una sola transacción:
// upsert del member con email verificado, insert de roles, flip del invite.
func (s *Store) AcceptInvite(ctx context.Context, p core.AcceptInvite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// flip condicional primero: si otra request ganó la carrera, RowsAffected=0
	ct, err := tx.Exec(ctx, `
UPDATE invite SET status='accepted', accepted_at=$2, accepted_by_email=$3
WHERE id=$1 AND status='pending'`, p.InviteID, p.AcceptedAt.UTC(), p.Email)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrConflict
	}

	_, err = tx.Exec(ctx, `
INSERT INTO member (id, name, email_id, voice_part, picture)
VALUES ($1, COALESCE($2,''), $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  email_id   = EXCLUDED.email_id,
  name       = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE member.name END,
  voice_part = COALESCE(EXCLUDED.voice_part, member.voice_part),
  picture    = COALESCE(EXCLUDED.picture, member.picture),
  updated_at = now()`,
		p.MemberID, p.Name, p.Email, p.VoicePart, p.Picture)
	if err != nil {
		return err
	}

	for _, role := range p.Roles {
		if _, err := tx.Exec(ctx, `
INSERT INTO member_role (member_id, role, org_id)
VALUES ($1,$2,NULL)
ON CONFLICT DO NOTHING`, p.MemberID, role); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) RenewInvite(ctx context.Context, id string, until time.Time) (*core.Invite, error) {
	ct, err := s.pool.Exec(ctx, `
UPDATE invite SET expires_at=$2
WHERE id=$1 AND status='pending'`, id, until.UTC())
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, core.ErrNotFound
	}
	return s.GetInviteByID(ctx, id)
}

func (s *Store) DeletePendingInvite(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM invite WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

var _ core.Repository = (*Store)(nil)
