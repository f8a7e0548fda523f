package authz

import (
	"errors"
	"testing"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

func subject(email string, global []string, byOrg map[string][]string) Subject {
	m := &core.Member{ID: "m-1", Name: "Ana"}
	if email != "" {
		m.EmailID = &email
	}
	return Subject{
		Member: m,
		Roles:  &core.MemberRoles{Global: global, ByOrg: byOrg},
	}
}

func TestHasPermission_UnverifiedAlwaysFalse(t *testing.T) {
	// roster-only con rol owner asignado: la registración manda, no los roles
	s := subject("", []string{"owner"}, nil)
	for _, p := range []Permission{PermScoresView, PermScoresDownload, PermSettingsManage} {
		if HasPermission(s, p, "") {
			t.Fatalf("unverified member got %s", p)
		}
	}
}

func TestHasPermission_BaselineForVerified(t *testing.T) {
	// verificado sin ningún rol: las capabilities baseline de scores valen igual
	s := subject("ana@example.org", nil, nil)
	if !HasPermission(s, PermScoresView, "") {
		t.Fatal("verified member should view scores")
	}
	if !HasPermission(s, PermScoresDownload, "") {
		t.Fatal("verified member should download scores")
	}
	if HasPermission(s, PermScoresManage, "") {
		t.Fatal("verified member without roles should not manage scores")
	}
}

func TestHasPermission_Matrix(t *testing.T) {
	cases := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleLibrarian, PermScoresManage, true},
		{RoleLibrarian, PermEventsManage, false},
		{RoleConductor, PermSeasonsManage, true},
		{RoleConductor, PermMembersManage, false},
		{RoleSectionLeader, PermEventsManage, true},
		{RoleSectionLeader, PermScoresManage, false},
		{RoleAdmin, PermInvitesManage, true},
		{RoleAdmin, PermSettingsManage, false},
		{RoleOwner, PermSettingsManage, true},
		{RoleMember, PermScoresManage, false},
	}
	for _, c := range cases {
		s := subject("ana@example.org", []string{string(c.role)}, nil)
		if got := HasPermission(s, c.perm, ""); got != c.want {
			t.Fatalf("%s / %s: got %v want %v", c.role, c.perm, got, c.want)
		}
	}
}

func TestHasPermission_OrgOverrideNoMerge(t *testing.T) {
	// global admin, pero en la org "other" solo member: los roles org pisan,
	// no se mergean con los globales
	s := subject("ana@example.org",
		[]string{"admin"},
		map[string][]string{"other": {"member"}},
	)
	if !HasPermission(s, PermInvitesManage, "") {
		t.Fatal("global admin should manage invites globally")
	}
	if HasPermission(s, PermInvitesManage, "other") {
		t.Fatal("org-scoped member role must override the global admin")
	}
	// org sin roles scoped: cae a los globales
	if !HasPermission(s, PermInvitesManage, "unknown-org") {
		t.Fatal("org without scoped roles should fall back to globals")
	}
}

func TestGrants_OwnerCoversEveryRole(t *testing.T) {
	// owner lleva la matriz completa: todo permiso de cualquier rol está en
	// su fila explícita
	ownerHas := map[Permission]bool{}
	for _, p := range Grants(RoleOwner) {
		ownerHas[p] = true
	}
	for _, r := range []Role{RoleAdmin, RoleConductor, RoleSectionLeader, RoleLibrarian, RoleMember} {
		for _, p := range Grants(r) {
			if !ownerHas[p] {
				t.Fatalf("%s grants %s but owner does not", r, p)
			}
		}
	}
	if got := Grants(Role("ghost")); got != nil {
		t.Fatalf("unknown role should grant nothing, got %v", got)
	}
	// la copia devuelta no comparte backing array con la matriz
	g := Grants(RoleMember)
	g[0] = PermSettingsManage
	if roleGranted(RoleMember, PermSettingsManage) {
		t.Fatal("mutating the returned slice must not touch the matrix")
	}
}

func TestRequireRole_TypedErrors(t *testing.T) {
	unverified := subject("", []string{"admin"}, nil)
	if err := RequireRole(unverified, []Role{RoleAdmin}, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}

	plain := subject("ana@example.org", []string{"member"}, nil)
	if err := RequireRole(plain, []Role{RoleAdmin}, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}

	admin := subject("ana@example.org", []string{"admin"}, nil)
	if err := RequireRole(admin, []Role{RoleAdmin}, ""); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}

func TestRequireRole_OwnerShortcut(t *testing.T) {
	owner := subject("ana@example.org", []string{"owner"}, nil)
	// owner satisface cualquier requerimiento de rol, incluso uno que no tiene
	if err := RequireRole(owner, []Role{RoleLibrarian}, ""); err != nil {
		t.Fatalf("owner should satisfy any role gate: %v", err)
	}
	// pero el shortcut NO vive en la matriz de capabilities: owner la tiene
	// explícita, así que esto pasa por la matriz y no por el shortcut
	if !HasPermission(owner, PermScoresManage, "") {
		t.Fatal("owner matrix row should grant scores:manage")
	}
}
