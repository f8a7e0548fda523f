package authz

import (
	"errors"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

var (
	// ErrUnauthenticated: sin sesión o identidad no verificada → redirect a login.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden: autenticado pero sin el rol/permiso → 403 sin detalle
	// (no filtramos la estructura de roles).
	ErrForbidden = errors.New("forbidden")
)

// Subject es un member con sus roles resueltos.
type Subject struct {
	Member *core.Member
	Roles  *core.MemberRoles
}

// verified: registración (identidad verificada) y asignación de roles son
// ortogonales; un roster-only (email_id nil) no tiene permisos sin importar
// qué roles le hayan asignado. Este gate precede a toda lógica de roles.
func (s Subject) verified() bool {
	return s.Member != nil && s.Member.EmailID != nil && *s.Member.EmailID != ""
}

// effectiveRoles resuelve el set efectivo: si hay orgID y el member tiene
// roles scoped a esa org, valen esos; si no, la lista global. No se mergean.
func (s Subject) effectiveRoles(orgID string) []string {
	if s.Roles == nil {
		return nil
	}
	if orgID != "" {
		if rs, ok := s.Roles.ByOrg[orgID]; ok && len(rs) > 0 {
			return rs
		}
	}
	return s.Roles.Global
}

// HasPermission evalúa una capability para el member en la org dada.
// Orden: gate de verificación, baseline de scores para cualquier verificado,
// después la matriz sobre los roles efectivos.
func HasPermission(s Subject, perm Permission, orgID string) bool {
	if !s.verified() {
		return false
	}
	if perm == PermScoresView || perm == PermScoresDownload {
		return true
	}
	for _, r := range s.effectiveRoles(orgID) {
		if roleGranted(Role(r), perm) {
			return true
		}
	}
	return false
}

// RequireRole es el check de pertenencia a rol que usan los route guards,
// distinto de los checks de capability. Owner satisface cualquier
// requerimiento de rol (owner ⊇ todo rol a efectos de gating); esa regla
// vive acá y NO en la matriz de HasPermission. El error tipado deja que el
// caller elija el status HTTP correcto.
func RequireRole(s Subject, required []Role, orgID string) error {
	if !s.verified() {
		return ErrUnauthenticated
	}
	have := s.effectiveRoles(orgID)
	for _, h := range have {
		if Role(h) == RoleOwner {
			return nil
		}
		for _, want := range required {
			if Role(h) == want {
				return nil
			}
		}
	}
	return ErrForbidden
}
