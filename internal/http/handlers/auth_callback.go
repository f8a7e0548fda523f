package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/invite"
	"github.com/mitselek/polyphony-sub002/internal/metrics"
	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/observability/logger"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
	"github.com/mitselek/polyphony-sub002/internal/util"
)

// AuthCallback cierra el round-trip OAuth: valida el state firmado, hace el
// code exchange server-to-server, redime el invite si el flujo venía de uno,
// refresca el cookie SSO y devuelve al tenant su token de exp corto.
func (d *Deps) AuthCallback(w http.ResponseWriter, r *http.Request) {
	if !enforce(w, r, d.CallbackLimiter, "cb:") {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	log := logger.Named("auth")

	st, err := d.Issuer.ParseState(ctx, q.Get("state"))
	if err != nil {
		// state forjado o vencido: no hay callback confiable al que volver
		metrics.VerifyFailures.WithLabelValues("invalid_state").Inc()
		httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "el state del flujo no verifica o venció", 1430)
		return
	}
	log = log.With(logger.VaultID(st.VaultID))

	// el vault pudo caerse del registro entre el start y este callback: sin
	// vault activo no se emite token ni se redirige a su callback
	vlt, err := d.Store.GetVault(ctx, st.VaultID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			httpx.WriteError(w, http.StatusForbidden, "unknown_vault", "vault no registrado", 1421)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo resolver el vault", 1500)
		return
	}
	if !vlt.Active {
		log.Warn("vault_deactivated_mid_flow")
		httpx.WriteError(w, http.StatusForbidden, "vault_inactive", "vault desactivado", 1422)
		return
	}

	// el usuario canceló o el provider rechazó antes del code
	if pe := q.Get("error"); pe != "" {
		log.Warn("provider_denied", zap.String("provider_error", pe))
		redirectError(w, r, st.Callback, "provider_denied", "el proveedor de identidad rechazó el login, probá de nuevo", true)
		return
	}

	id, err := d.Bridge.Exchange(ctx, q.Get("code"), st.Nonce)
	if err != nil {
		metrics.UpstreamExchangeFailures.Inc()
		log.Error("exchange_failed", zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, "upstream_exchange_failed", "falló el intercambio con el proveedor, reintentá el login", 1431)
		return
	}
	if !id.EmailVerified {
		redirectError(w, r, st.Callback, "email_not_verified", "el proveedor no verificó el email de la cuenta", false)
		return
	}

	if st.InviteToken != "" {
		var name, pic *string
		if id.Name != "" {
			name = &id.Name
		}
		if id.Picture != "" {
			pic = &id.Picture
		}
		memberID, err := d.Invites.Accept(ctx, st.InviteToken, id.Email, name, pic)
		if err != nil {
			code, desc := inviteFailure(err)
			log.Warn("invite_redeem_failed", zap.String("reason", code), zap.String("email", util.MaskEmail(id.Email)))
			redirectError(w, r, st.Callback, code, desc, false)
			return
		}
		metrics.InviteEvents.WithLabelValues("accepted").Inc()
		log.Info("invite_redeemed", logger.MemberID(memberID), zap.String("email", util.MaskEmail(id.Email)))
	}

	// cookie SSO fresco en el dominio padre; si falla el login igual sirve
	if err := d.Session.SetCookie(ctx, w, id); err != nil {
		log.Warn("sso_cookie_failed", zap.Error(err))
	} else {
		metrics.TokensIssued.WithLabelValues("sso").Inc()
	}

	tok, err := d.Issuer.MintTenant(ctx, st.VaultID, id)
	if err != nil {
		log.Error("mint_tenant_failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo emitir el token", 1500)
		return
	}
	metrics.TokensIssued.WithLabelValues("tenant").Inc()
	log.Info("login_completed", zap.String("email", util.MaskEmail(id.Email)))
	redirectToken(w, r, st.Callback, tok)
}

// inviteFailure mapea los errores del ciclo de invites a algo mostrable.
func inviteFailure(err error) (code, desc string) {
	switch {
	case errors.Is(err, invite.ErrInvalidToken):
		return "invite_invalid", "el link de invitación no es válido"
	case errors.Is(err, invite.ErrExpired):
		return "invite_expired", "la invitación venció, pedí que te la renueven"
	case errors.Is(err, invite.ErrAlreadyAccepted):
		return "invite_already_accepted", "la invitación ya fue usada"
	case errors.Is(err, google.ErrInvalidState):
		return "invalid_state", "el flujo no verifica"
	default:
		return "server_error", "no se pudo redimir la invitación"
	}
}
