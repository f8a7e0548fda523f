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

// InviteAccept es el entrypoint del link de invitación. Valida el token sin
// mutarlo, y después el flujo es el mismo login de siempre con el token del
// invite viajando dentro del state: la redención real pasa recién en el
// callback, con el email ya verificado por el provider.
func (d *Deps) InviteAccept(w http.ResponseWriter, r *http.Request) {
	if !enforce(w, r, d.StartLimiter, "inv:") {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	v := d.resolveVault(ctx, w, q.Get("vault_id"), q.Get("callback"))
	if v == nil {
		return
	}
	log := logger.Named("invite").With(logger.VaultID(v.ID))

	inv, err := d.Invites.Lookup(ctx, q.Get("token"))
	if err != nil {
		code, desc := inviteFailure(err)
		log.Warn("invite_lookup_failed", zap.String("reason", code))
		redirectError(w, r, v.CallbackURL, code, desc, false)
		return
	}

	// sesión SSO vigente: se redime acá mismo, sin pasar por el provider
	if id, ok := d.Session.FastPath(ctx, r); ok {
		metrics.SSOFastPath.WithLabelValues("hit").Inc()
		var name, pic *string
		if id.Name != "" {
			name = &id.Name
		}
		if id.Picture != "" {
			pic = &id.Picture
		}
		memberID, err := d.Invites.Accept(ctx, inv.Token, id.Email, name, pic)
		if err != nil {
			code, desc := inviteFailure(err)
			redirectError(w, r, v.CallbackURL, code, desc, false)
			return
		}
		metrics.InviteEvents.WithLabelValues("accepted").Inc()
		log.Info("invite_redeemed_fastpath", logger.MemberID(memberID))

		tok, err := d.Issuer.MintTenant(ctx, v.ID, id)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo emitir el token", 1500)
			return
		}
		metrics.TokensIssued.WithLabelValues("tenant").Inc()
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
		VaultID:     v.ID,
		Callback:    v.CallbackURL,
		Nonce:       nonce,
		InviteToken: inv.Token,
	})
	if err != nil {
		log.Error("sign_state_failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo iniciar el flujo", 1500)
		return
	}
	http.Redirect(w, r, d.Bridge.AuthURL(state, nonce), http.StatusFound)
}
