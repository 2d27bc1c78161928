// Package metrics exposes Prometheus counters for the auth core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Collector records auth resolutions, role promotions, and key refreshes.
// A nil *Collector is valid and records nothing.
type Collector struct {
	resolutions  *prometheus.CounterVec
	provisioned  prometheus.Counter
	promotions   *prometheus.CounterVec
	claimWrites  *prometheus.CounterVec
	keyRefreshes *prometheus.CounterVec
	rateLimited  prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikiauth_resolutions_total",
			Help: "Principal resolutions by credential kind and outcome.",
		}, []string{"kind", "outcome"}),
		provisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wikiauth_users_provisioned_total",
			Help: "User records created lazily on first authentication.",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikiauth_role_changes_total",
			Help: "Role store writes by target role and outcome.",
		}, []string{"role", "outcome"}),
		claimWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikiauth_provider_claim_writes_total",
			Help: "Best-effort provider role claim writes by outcome.",
		}, []string{"outcome"}),
		keyRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikiauth_key_refreshes_total",
			Help: "Identity provider signing key refreshes by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wikiauth_rate_limited_total",
			Help: "Requests rejected by the session endpoint rate limiter.",
		}),
	}

	reg.MustRegister(
		c.resolutions,
		c.provisioned,
		c.promotions,
		c.claimWrites,
		c.keyRefreshes,
		c.rateLimited,
	)

	return c
}

// RecordResolution counts one principal resolution.
func (c *Collector) RecordResolution(kind, outcome string) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(kind, outcome).Inc()
}

// RecordProvisioned counts one lazily created user record.
func (c *Collector) RecordProvisioned() {
	if c == nil {
		return
	}
	c.provisioned.Inc()
}

// RecordRoleChange counts one role store write.
func (c *Collector) RecordRoleChange(role, outcome string) {
	if c == nil {
		return
	}
	c.promotions.WithLabelValues(role, outcome).Inc()
}

// RecordClaimWrite counts one provider claim write.
func (c *Collector) RecordClaimWrite(err error) {
	if c == nil {
		return
	}
	c.claimWrites.WithLabelValues(outcomeOf(err)).Inc()
}

// RecordKeyRefresh counts one signing key refresh. It matches the keyset refresh hook signature.
func (c *Collector) RecordKeyRefresh(err error) {
	if c == nil {
		return
	}
	c.keyRefreshes.WithLabelValues(outcomeOf(err)).Inc()
}

// RecordRateLimited counts one rejected request.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// Handler serves the metrics registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
