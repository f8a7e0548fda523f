package core

import (
	"context"
	"time"
)

// AcceptInvite agrupa los efectos del accept. El backing store DEBE aplicarlos
// como una sola transacción: member con email verificado + roles + status flip.
// Un crash a mitad no puede dejar roles huérfanos ni un invite aceptado sin member.
type AcceptInvite struct {
	InviteID   string
	MemberID   string
	Email      string
	Name       *string
	Picture    *string
	VoicePart  *string
	Roles      []string
	AcceptedAt time.Time
}

type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Vaults
	CreateVault(ctx context.Context, v *Vault) error
	GetVault(ctx context.Context, id string) (*Vault, error)
	SetVaultActive(ctx context.Context, id string, active bool) error

	// Signing keys
	InsertSigningKey(ctx context.Context, k *SigningKey) error
	GetActiveSigningKey(ctx context.Context) (*SigningKey, error)
	ListSigningKeys(ctx context.Context, includeRevoked bool) ([]SigningKey, error)
	RevokeSigningKey(ctx context.Context, id string, at time.Time) error

	// Members + roles
	GetMemberByID(ctx context.Context, id string) (*Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*Member, error)
	CreateMember(ctx context.Context, m *Member) error
	GetMemberRoles(ctx context.Context, memberID string) (*MemberRoles, error)

	// Invites
	CreateInvite(ctx context.Context, inv *Invite) error
	GetInviteByID(ctx context.Context, id string) (*Invite, error)
	GetInviteByToken(ctx context.Context, token string) (*Invite, error)
	GetPendingInviteForMember(ctx context.Context, rosterMemberID string) (*Invite, error)
	AcceptInvite(ctx context.Context, p AcceptInvite) error
	RenewInvite(ctx context.Context, id string, until time.Time) (*Invite, error)
	DeletePendingInvite(ctx context.Context, id string) error
}
