package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mitselek/polyphony-sub002/internal/invite"
	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/metrics"
	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/rate"
	"github.com/mitselek/polyphony-sub002/internal/sso"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
	"github.com/mitselek/polyphony-sub002/internal/store/memory"
)

const (
	testIss      = "https://id.choirs.example"
	testCallback = "https://chorus.choirs.example/auth/cb"
)

func TestMain(m *testing.M) {
	metrics.Register(prometheus.NewRegistry())
	os.Exit(m.Run())
}

func newTestDeps(t *testing.T) (*Deps, *memory.Store) {
	t.Helper()
	st := memory.New()
	ks := keys.NewService(st)
	require.NoError(t, ks.EnsureBootstrap(context.Background()))

	issuer := sso.NewIssuer(testIss, ks)
	session := sso.NewSession(issuer, ".choirs.example", true, "https://choirs.example")

	require.NoError(t, st.CreateVault(context.Background(), &core.Vault{
		ID:          "chorus",
		Name:        "Chorus",
		CallbackURL: testCallback,
		Active:      true,
	}))

	return &Deps{
		Store:   st,
		Keys:    ks,
		Issuer:  issuer,
		Session: session,
		Invites: invite.NewService(st),
	}, st
}

func apiErrorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func ssoCookie(t *testing.T, d *Deps) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, d.Session.SetCookie(context.Background(), rec, &google.Identity{
		Email:         "ana@example.org",
		EmailVerified: true,
		Name:          "Ana",
	}))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// ─────────────── /.well-known/jwks.json ───────────────

func TestJWKS(t *testing.T) {
	d, _ := newTestDeps(t)

	rec := httptest.NewRecorder()
	d.JWKS(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var doc keys.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
}

// ─────────────── /v1/auth/start ───────────────

func startReq(vaultID, callback string) *http.Request {
	q := url.Values{}
	if vaultID != "" {
		q.Set("vault_id", vaultID)
	}
	if callback != "" {
		q.Set("callback", callback)
	}
	return httptest.NewRequest(http.MethodGet, "/v1/auth/start?"+q.Encode(), nil)
}

func TestAuthStart_Validation(t *testing.T) {
	d, _ := newTestDeps(t)

	cases := []struct {
		name     string
		vaultID  string
		callback string
		status   int
		code     string
	}{
		{"missing params", "", "", http.StatusBadRequest, "invalid_request"},
		{"unknown vault", "nope", testCallback, http.StatusForbidden, "unknown_vault"},
		{"http callback", "chorus", "http://chorus.choirs.example/auth/cb", http.StatusBadRequest, "invalid_callback"},
		{"callback mismatch", "chorus", "https://evil.test/cb", http.StatusForbidden, "callback_mismatch"},
		{"callback with extra query", "chorus", testCallback + "?x=1", http.StatusForbidden, "callback_mismatch"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			d.AuthStart(rec, startReq(c.vaultID, c.callback))
			require.Equal(t, c.status, rec.Code)
			require.Equal(t, c.code, apiErrorOf(t, rec))
		})
	}
}

func TestAuthStart_InactiveVault(t *testing.T) {
	d, st := newTestDeps(t)
	require.NoError(t, st.SetVaultActive(context.Background(), "chorus", false))

	rec := httptest.NewRecorder()
	d.AuthStart(rec, startReq("chorus", testCallback))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "vault_inactive", apiErrorOf(t, rec))
}

func TestAuthStart_SSOFastPath(t *testing.T) {
	d, _ := newTestDeps(t)

	req := startReq("chorus", testCallback)
	req.AddCookie(ssoCookie(t, d))

	rec := httptest.NewRecorder()
	d.AuthStart(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "chorus.choirs.example", loc.Host)

	compact := loc.Query().Get("token")
	require.NotEmpty(t, compact)
	cl, err := d.Issuer.VerifyLocal(context.Background(), compact, "chorus")
	require.NoError(t, err)
	require.Equal(t, "ana@example.org", cl.Email)
}

func TestAuthStart_RateLimited(t *testing.T) {
	d, _ := newTestDeps(t)
	d.StartLimiter = rate.NewMemoryLimiter(2, time.Minute)

	req := startReq("nope", testCallback)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		d.AuthStart(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code) // pasa el limiter, cae en unknown_vault
	}
	rec := httptest.NewRecorder()
	d.AuthStart(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAuthStart_RateLimitSharedAcrossPorts(t *testing.T) {
	d, _ := newTestDeps(t)
	d.StartLimiter = rate.NewMemoryLimiter(2, time.Minute)

	// misma IP, puerto efímero distinto por request: el bucket es uno solo
	for i, addr := range []string{"10.0.0.1:1111", "10.0.0.1:2222"} {
		req := startReq("nope", testCallback)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		d.AuthStart(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code, "request %d", i)
	}
	req := startReq("nope", testCallback)
	req.RemoteAddr = "10.0.0.1:3333"
	rec := httptest.NewRecorder()
	d.AuthStart(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// ─────────────── /v1/auth/callback ───────────────

func TestAuthCallback_InvalidState(t *testing.T) {
	d, _ := newTestDeps(t)

	rec := httptest.NewRecorder()
	d.AuthCallback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=garbage&code=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_state", apiErrorOf(t, rec))
}

func TestAuthCallback_ProviderDenied(t *testing.T) {
	d, _ := newTestDeps(t)

	state, err := d.Issuer.SignState(context.Background(), sso.State{
		VaultID: "chorus", Callback: testCallback, Nonce: "n-1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.AuthCallback(rec, httptest.NewRequest(http.MethodGet,
		"/v1/auth/callback?state="+url.QueryEscape(state)+"&error=access_denied", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "chorus.choirs.example", loc.Host)
	require.Equal(t, "provider_denied", loc.Query().Get("error"))
	require.Equal(t, "1", loc.Query().Get("retry"))
}

func TestAuthCallback_VaultDeactivatedMidFlow(t *testing.T) {
	d, st := newTestDeps(t)

	state, err := d.Issuer.SignState(context.Background(), sso.State{
		VaultID: "chorus", Callback: testCallback, Nonce: "n-1",
	})
	require.NoError(t, err)

	// el vault cae mientras el usuario está en el provider: el state firmado
	// sigue verificando pero no alcanza para emitir
	require.NoError(t, st.SetVaultActive(context.Background(), "chorus", false))

	rec := httptest.NewRecorder()
	d.AuthCallback(rec, httptest.NewRequest(http.MethodGet,
		"/v1/auth/callback?state="+url.QueryEscape(state)+"&error=access_denied", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "vault_inactive", apiErrorOf(t, rec))
	require.Empty(t, rec.Header().Get("Location"))
}

// ─────────────── /v1/invite/accept ───────────────

func TestInviteAccept_InvalidToken(t *testing.T) {
	d, _ := newTestDeps(t)

	q := url.Values{"token": {"nope"}, "vault_id": {"chorus"}, "callback": {testCallback}}
	rec := httptest.NewRecorder()
	d.InviteAccept(rec, httptest.NewRequest(http.MethodGet, "/v1/invite/accept?"+q.Encode(), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invite_invalid", loc.Query().Get("error"))
}

func TestInviteAccept_FastPathRedeems(t *testing.T) {
	d, st := newTestDeps(t)
	ctx := context.Background()

	require.NoError(t, st.CreateMember(ctx, &core.Member{ID: "m-1", Name: "Ana del Roster"}))
	inv, err := d.Invites.Create(ctx, "m-1", []string{"member"}, "admin@example.org", nil)
	require.NoError(t, err)

	q := url.Values{"token": {inv.Token}, "vault_id": {"chorus"}, "callback": {testCallback}}
	req := httptest.NewRequest(http.MethodGet, "/v1/invite/accept?"+q.Encode(), nil)
	req.AddCookie(ssoCookie(t, d))

	rec := httptest.NewRecorder()
	d.InviteAccept(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.NotEmpty(t, loc.Query().Get("token"))

	m, err := st.GetMemberByID(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, m.EmailID)
	require.Equal(t, "ana@example.org", *m.EmailID)
}

func TestInviteAccept_ExpiredRedirectsWithReason(t *testing.T) {
	d, st := newTestDeps(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.Invites = invite.NewService(st).WithClock(func() time.Time { return now })

	require.NoError(t, st.CreateMember(ctx, &core.Member{ID: "m-1"}))
	inv, err := d.Invites.Create(ctx, "m-1", nil, "admin@example.org", nil)
	require.NoError(t, err)

	now = now.Add(invite.TTL + time.Hour)

	q := url.Values{"token": {inv.Token}, "vault_id": {"chorus"}, "callback": {testCallback}}
	rec := httptest.NewRecorder()
	d.InviteAccept(rec, httptest.NewRequest(http.MethodGet, "/v1/invite/accept?"+q.Encode(), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invite_expired", loc.Query().Get("error"))
}

// ─────────────── /v1/auth/logout ───────────────

func TestLogout(t *testing.T) {
	d, _ := newTestDeps(t)

	rec := httptest.NewRecorder()
	d.Logout(rec, httptest.NewRequest(http.MethodGet,
		"/v1/auth/logout?callback="+url.QueryEscape("https://chorus.choirs.example/bye"), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://chorus.choirs.example/bye", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Empty(t, cookies[0].Value)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestLogout_OpenRedirectFallsBack(t *testing.T) {
	d, _ := newTestDeps(t)

	rec := httptest.NewRecorder()
	d.Logout(rec, httptest.NewRequest(http.MethodGet,
		"/v1/auth/logout?callback="+url.QueryEscape("https://evil.test/phish"), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://choirs.example", rec.Header().Get("Location"))
}

// ─────────────── health ───────────────

func TestHealthz(t *testing.T) {
	d, _ := newTestDeps(t)
	rec := httptest.NewRecorder()
	d.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_SignVerifySelfCheck(t *testing.T) {
	d, _ := newTestDeps(t)
	rec := httptest.NewRecorder()
	d.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		KID    string `json:"kid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ready", body.Status)
	require.NotEmpty(t, body.KID)
}

func TestReadyz_NoActiveKey(t *testing.T) {
	d, st := newTestDeps(t)
	ctx := context.Background()

	recs, err := st.ListSigningKeys(ctx, false)
	require.NoError(t, err)
	for _, k := range recs {
		require.NoError(t, d.Keys.Revoke(ctx, k.ID))
	}

	rec := httptest.NewRecorder()
	d.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "no_active_key", apiErrorOf(t, rec))
}
