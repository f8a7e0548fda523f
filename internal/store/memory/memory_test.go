package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

func TestAcceptInvite_ConflictWhenNotPending(t *testing.T) {
	ctx := context.Background()
	st := New()

	require.NoError(t, st.CreateMember(ctx, &core.Member{ID: "m-1"}))
	now := time.Now().UTC()
	inv := &core.Invite{
		ID: "i-1", RosterMemberID: "m-1", Token: "tok", InvitedBy: "admin",
		Status: core.InvitePending, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, st.CreateInvite(ctx, inv))

	p := core.AcceptInvite{InviteID: "i-1", MemberID: "m-1", Email: "ana@example.org", AcceptedAt: now}
	require.NoError(t, st.AcceptInvite(ctx, p))

	// la segunda redención pierde la carrera
	require.ErrorIs(t, st.AcceptInvite(ctx, p), core.ErrConflict)
}

func TestGetMemberByEmail_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := New()

	email := "Ana@Example.org"
	require.NoError(t, st.CreateMember(ctx, &core.Member{ID: "m-1", EmailID: &email}))

	m, err := st.GetMemberByEmail(ctx, "ana@EXAMPLE.ORG")
	require.NoError(t, err)
	require.Equal(t, "m-1", m.ID)

	_, err = st.GetMemberByEmail(ctx, "otra@example.org")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetMemberRoles_OrgScoping(t *testing.T) {
	ctx := context.Background()
	st := New()

	require.NoError(t, st.CreateMember(ctx, &core.Member{ID: "m-1"}))
	org := "chorus"
	st.roles = append(st.roles,
		core.RoleAssignment{MemberID: "m-1", Role: "admin"},
		core.RoleAssignment{MemberID: "m-1", Role: "member", OrgID: &org},
	)

	roles, err := st.GetMemberRoles(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, roles.Global)
	require.Equal(t, []string{"member"}, roles.ByOrg["chorus"])
}

func TestVaultLifecycle(t *testing.T) {
	ctx := context.Background()
	st := New()

	v := &core.Vault{ID: "chorus", Name: "Chorus", CallbackURL: "https://c.example/cb", Active: true}
	require.NoError(t, st.CreateVault(ctx, v))
	require.ErrorIs(t, st.CreateVault(ctx, v), core.ErrConflict)

	require.NoError(t, st.SetVaultActive(ctx, "chorus", false))
	got, err := st.GetVault(ctx, "chorus")
	require.NoError(t, err)
	require.False(t, got.Active)

	require.ErrorIs(t, st.SetVaultActive(ctx, "nope", true), core.ErrNotFound)
}
