package handlers

import (
	"net/http"

	"go.uber.org/zap"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/metrics"
	"github.com/mitselek/polyphony-sub002/internal/observability/logger"
	"github.com/mitselek/polyphony-sub002/internal/sso"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

// AuthStart arranca el flujo de login para un vault. Si el cookie SSO del
// dominio padre verifica, se saltea el provider y se emite el token tenant
// directo (fast-path); si no, se firma el state y se redirige al provider.
func (d *Deps) AuthStart(w http.ResponseWriter, r *http.Request) {
	if !enforce(w, r, d.StartLimiter, "start:") {
		return
	}
	ctx := r.Context()
	vaultID := r.URL.Query().Get("vault_id")
	callback := r.URL.Query().Get("callback")

	v := d.resolveVault(ctx, w, vaultID, callback)
	if v == nil {
		return
	}
	log := logger.Named("auth").With(logger.VaultID(v.ID))

	// fast-path: sesión SSO vigente evita el round-trip al provider
	if id, ok := d.Session.FastPath(ctx, r); ok {
		metrics.SSOFastPath.WithLabelValues("hit").Inc()
		tok, err := d.Issuer.MintTenant(ctx, v.ID, id)
		if err != nil {
			log.Error("mint_tenant_failed", zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo emitir el token", 1500)
			return
		}
		metrics.TokensIssued.WithLabelValues("tenant").Inc()
		log.Info("sso_fastpath", zap.String("email", id.Email))
		redirectToken(w, r, v.CallbackURL, tok)
		return
	}
	metrics.SSOFastPath.WithLabelValues("miss").Inc()

	nonce, err := token.NewNonce()
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo iniciar el flujo", 1500)
		return
	}
	state, err := d.Issuer.SignState(ctx, sso.State{
		VaultID:  v.ID,
		Callback: v.CallbackURL,
		Nonce:    nonce,
	})
	if err != nil {
		log.Error("sign_state_failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo iniciar el flujo", 1500)
		return
	}
	http.Redirect(w, r, d.Bridge.AuthURL(state, nonce), http.StatusFound)
}
