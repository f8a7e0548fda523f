// Package handlers implementa los endpoints del registry.
package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/mitselek/polyphony-sub002/internal/invite"
	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/rate"
	"github.com/mitselek/polyphony-sub002/internal/sso"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
)

// Deps agrupa lo que los handlers necesitan. Se arma una vez en serve.
type Deps struct {
	Store   core.Repository
	Keys    *keys.Service
	Issuer  *sso.Issuer
	Session *sso.Session
	Bridge  *google.Bridge
	Invites *invite.Service

	StartLimiter    rate.Limiter
	CallbackLimiter rate.Limiter
}

// clientIP: primera IP de X-Forwarded-For si existe, si no RemoteAddr sin el
// puerto (el puerto cambia por conexión y rompería el bucketing del limiter).
func clientIP(r *http.Request) string {
	if hf := r.Header.Get("X-Forwarded-For"); hf != "" {
		return strings.TrimSpace(strings.Split(hf, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
