package handlers

import (
	"crypto/ed25519"
	"net/http"
	"time"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

// Healthz: vivo. No toca dependencias.
func (d *Deps) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz: listo para servir. Chequea el store y que la clave activa firme y
// verifique de punta a punta (un keystore que no firma es un registry muerto
// aunque responda HTTP).
func (d *Deps) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := d.Store.Ping(ctx); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "el store no responde", 1503)
		return
	}

	k, err := d.Keys.Active(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "no_active_key", "no hay clave de firma activa", 1504)
		return
	}
	codec := token.NewCodec()
	selfCheck := token.Claims{
		Issuer:   d.Issuer.Iss,
		Subject:  "readyz",
		Audience: "readyz",
		Nonce:    "readyz",
		Email:    "readyz@localhost",
	}
	signed, err := codec.Sign(selfCheck, time.Minute, k.ID, ed25519.PrivateKey(k.PrivateKey))
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "signing_failed", "la clave activa no firma", 1505)
		return
	}
	if _, err := codec.Verify(signed, ed25519.PublicKey(k.PublicKey), d.Issuer.Iss, "readyz"); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "verify_failed", "la clave activa no verifica", 1506)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready", "kid": k.ID})
}
