// Package authz resuelve roles org-scoped contra una matriz fija de
// capabilities. Roles y permisos son enumeraciones cerradas: agregar un rol
// obliga a revisar la matriz y cada call site que matchee roles.
package authz

type Role string

const (
	RoleOwner         Role = "owner"
	RoleAdmin         Role = "admin"
	RoleConductor     Role = "conductor"
	RoleSectionLeader Role = "section_leader"
	RoleLibrarian     Role = "librarian"
	RoleMember        Role = "member"
)

type Permission string

const (
	PermScoresView     Permission = "scores:view"
	PermScoresDownload Permission = "scores:download"
	PermScoresManage   Permission = "scores:manage"
	PermEventsManage   Permission = "events:manage"
	PermSeasonsManage  Permission = "seasons:manage"
	PermMembersManage  Permission = "members:manage"
	PermInvitesManage  Permission = "invites:manage"
	PermSettingsManage Permission = "settings:manage"
)

// grants es la matriz rol → permisos. Owner lleva la lista completa explícita:
// el shortcut "owner satisface cualquier rol" vive SOLO en RequireRole, nunca
// acá. Los checks de capability se rigen estrictamente por la matriz.
var grants = map[Role][]Permission{
	RoleOwner: {
		PermScoresView, PermScoresDownload, PermScoresManage,
		PermEventsManage, PermSeasonsManage, PermMembersManage,
		PermInvitesManage, PermSettingsManage,
	},
	RoleAdmin: {
		PermScoresView, PermScoresDownload, PermScoresManage,
		PermEventsManage, PermSeasonsManage, PermMembersManage,
		PermInvitesManage,
	},
	RoleConductor: {
		PermScoresView, PermScoresDownload, PermScoresManage,
		PermEventsManage, PermSeasonsManage,
	},
	RoleSectionLeader: {
		PermScoresView, PermScoresDownload, PermEventsManage,
	},
	RoleLibrarian: {
		PermScoresView, PermScoresDownload, PermScoresManage,
	},
	RoleMember: {
		PermScoresView, PermScoresDownload,
	},
}

// Grants devuelve la lista de permisos de un rol (copia).
func Grants(r Role) []Permission {
	g, ok := grants[r]
	if !ok {
		return nil
	}
	return append([]Permission(nil), g...)
}

func roleGranted(r Role, p Permission) bool {
	for _, g := range grants[r] {
		if g == p {
			return true
		}
	}
	return false
}
