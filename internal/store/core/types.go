package core

import "time"

// Vault es una aplicación tenant registrada que confía en las claves del registry.
// CallbackURL es el ancla de confianza: se compara exacto (sin query/fragment)
// antes de emitir cualquier redirect con token.
type Vault struct {
	ID          string
	Name        string
	CallbackURL string // debe ser https
	Active      bool
	CreatedAt   time.Time
}

// Member representa a una persona del roster.
// EmailID == nil significa "roster-only": sin identidad verificada y,
// por lo tanto, sin permisos efectivos sin importar los roles asignados.
type Member struct {
	ID        string
	Name      string
	EmailID   *string
	VoicePart *string
	Picture   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleAssignment liga un member a un rol, global (OrgID nil) o scoped a una org.
type RoleAssignment struct {
	MemberID  string
	Role      string
	OrgID     *string
	CreatedAt time.Time
}

// MemberRoles es la vista resuelta de roles de un member.
type MemberRoles struct {
	Global []string
	ByOrg  map[string][]string
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
)

// Invite es un token opaco de un solo uso que liga un roster member
// a una identidad verificada. "expired" es una vista derivada
// (now > ExpiresAt), nunca un status almacenado.
type Invite struct {
	ID              string
	RosterMemberID  string
	Token           string // 32 bytes random, hex
	InvitedBy       string
	Roles           []string
	VoicePart       *string
	Status          InviteStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	AcceptedAt      *time.Time
	AcceptedByEmail *string
}

// Expired indica si el invite está lógicamente vencido.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
