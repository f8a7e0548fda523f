package handlers

import (
	"net/http"
	"strconv"
	"time"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/rate"
)

// enforce aplica el limiter por IP. keyPrefix distingue start / callback.
// Devuelve true si se permite continuar. Un limiter caído no bloquea.
func enforce(w http.ResponseWriter, r *http.Request, lim rate.Limiter, keyPrefix string) bool {
	if lim == nil {
		return true
	}
	res, err := lim.Allow(r.Context(), keyPrefix+clientIP(r))
	if err != nil {
		return true
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Allowed {
		return true
	}
	retryAfter := time.Until(res.ResetAt)
	if retryAfter < 0 {
		retryAfter = time.Second
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "demasiadas solicitudes", 1401)
	return false
}
