package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

// resolveVault valida el par vault_id/callback contra el registro. El match
// del callback es exacto contra la URL registrada: ni sufijos, ni query, ni
// fragment. Escribe la respuesta de error y devuelve nil si algo no cierra.
func (d *Deps) resolveVault(ctx context.Context, w http.ResponseWriter, vaultID, callback string) *core.Vault {
	if vaultID == "" || callback == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "vault_id y callback son obligatorios", 1420)
		return nil
	}
	v, err := d.Store.GetVault(ctx, vaultID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			httpx.WriteError(w, http.StatusForbidden, "unknown_vault", "vault no registrado", 1421)
			return nil
		}
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo resolver el vault", 1500)
		return nil
	}
	if !v.Active {
		httpx.WriteError(w, http.StatusForbidden, "vault_inactive", "vault desactivado", 1422)
		return nil
	}
	if !strings.HasPrefix(callback, "https://") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_callback", "el callback debe ser https", 1423)
		return nil
	}
	if callback != v.CallbackURL {
		httpx.WriteError(w, http.StatusForbidden, "callback_mismatch", "el callback no coincide con el registrado", 1424)
		return nil
	}
	return v
}

// redirectWith arma callback?k=v... y emite el 302. El callback ya pasó la
// validación exacta, acá sólo se le cuelgan los params del resultado.
func redirectWith(w http.ResponseWriter, r *http.Request, callback string, params url.Values) {
	u, err := url.Parse(callback)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "callback inválido", 1500)
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// redirectToken es el happy path: el tenant recibe su token de exp corto.
func redirectToken(w http.ResponseWriter, r *http.Request, callback, tok string) {
	redirectWith(w, r, callback, url.Values{"token": {tok}})
}

// redirectError manda el fallo de vuelta al tenant en forma legible, con un
// flag de si vale la pena reintentar el flujo.
func redirectError(w http.ResponseWriter, r *http.Request, callback, code, desc string, retryable bool) {
	v := url.Values{"error": {code}, "error_description": {desc}}
	if retryable {
		v.Set("retry", "1")
	}
	redirectWith(w, r, callback, v)
}
