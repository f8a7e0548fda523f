// Package metrics expone los contadores Prometheus del registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// TokensIssued cuenta emisiones por tipo de audiencia ("tenant" | "sso").
	TokensIssued *prometheus.CounterVec

	// VerifyFailures cuenta fallas de verificación por razón.
	VerifyFailures *prometheus.CounterVec

	// InviteEvents cuenta eventos del ciclo de invites
	// ("created" | "accepted" | "expired" | "revoked" | "renewed").
	InviteEvents *prometheus.CounterVec

	// UpstreamExchangeFailures cuenta fallas del code exchange con el provider.
	UpstreamExchangeFailures prometheus.Counter

	// SSOFastPath cuenta aciertos/misses del fast-path ("hit" | "miss").
	SSOFastPath *prometheus.CounterVec
)

// Register inicializa y registra las métricas. Devuelve el handler /metrics.
func Register(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	once.Do(func() {
		TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_tokens_issued_total",
			Help: "Tokens firmados, por tipo de audiencia",
		}, []string{"audience"})

		VerifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_token_verify_failures_total",
			Help: "Fallas de verificación de tokens, por razón",
		}, []string{"reason"})

		InviteEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_invite_events_total",
			Help: "Eventos del ciclo de vida de invites",
		}, []string{"event"})

		UpstreamExchangeFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_upstream_exchange_failures_total",
			Help: "Fallas del code exchange contra el provider upstream",
		})

		SSOFastPath = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_sso_fastpath_total",
			Help: "Resultado del fast-path SSO",
		}, []string{"result"})

		reg.MustRegister(TokensIssued, VerifyFailures, InviteEvents, UpstreamExchangeFailures, SSOFastPath)
	})
	return promhttp.Handler()
}
