package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	AuthCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_auth_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	TokensMintedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_tokens_minted_total",
		Help: "Total number of tokens minted, by token type.",
	}, []string{"type"})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_tokens_revoked_total",
		Help: "Total number of tokens revoked after authorization code reuse.",
	})
	CodeReuseDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_code_reuse_detected_total",
		Help: "Total number of redemption attempts with an already used authorization code.",
	})
	PKCEFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_pkce_failures_total",
		Help: "Total number of failed PKCE verifications.",
	})
	FlowRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_flow_rejections_total",
		Help: "Total number of rejected requests, by flow and OAuth2 error code.",
	}, []string{"flow", "error"})
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_logins_failure_total",
		Help: "Total number of failed logins.",
	})
	KeyRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_signing_key_rotations_total",
		Help: "Total number of signing key rotations.",
	})
)

// InitCustomMetrics registers the custom Prometheus metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"AuthCodesIssuedTotal":   AuthCodesIssuedTotal,
		"TokensMintedTotal":      TokensMintedTotal,
		"TokensRevokedTotal":     TokensRevokedTotal,
		"CodeReuseDetectedTotal": CodeReuseDetectedTotal,
		"PKCEFailuresTotal":      PKCEFailuresTotal,
		"FlowRejectionsTotal":    FlowRejectionsTotal,
		"LoginSuccessTotal":      LoginSuccessTotal,
		"LoginFailureTotal":      LoginFailureTotal,
		"KeyRotationsTotal":      KeyRotationsTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
