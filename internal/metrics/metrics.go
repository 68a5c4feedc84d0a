// Package metrics exposes login and group-sync counters. Recorders are
// no-ops until Register has been called.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginsTotal        *prometheus.CounterVec
	loginFailuresTotal *prometheus.CounterVec
	groupChangesTotal  *prometheus.CounterVec
	tokenRefreshTotal  *prometheus.CounterVec
	backchannelTotal   *prometheus.CounterVec
)

// NewRegistry returns a private registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Register creates the service counters on reg. A nil reg is a no-op.
func Register(reg *prometheus.Registry) {
	if reg == nil {
		return
	}

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_linker_logins_total",
			Help: "Successful logins by resolution path.",
		},
		[]string{"path"},
	)

	loginFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_linker_login_failures_total",
			Help: "Failed logins by the state they failed in.",
		},
		[]string{"state"},
	)

	groupChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_linker_group_changes_total",
			Help: "Managed group memberships added or removed.",
		},
		[]string{"op"},
	)

	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_linker_token_refreshes_total",
			Help: "Access token refresh attempts.",
		},
		[]string{"status"},
	)

	backchannelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_linker_backchannel_logouts_total",
			Help: "Back-channel logout requests.",
		},
		[]string{"status"},
	)

	reg.MustRegister(loginsTotal, loginFailuresTotal, groupChangesTotal, tokenRefreshTotal, backchannelTotal)
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func RecordLogin(path string) {
	if loginsTotal == nil {
		return
	}
	loginsTotal.WithLabelValues(path).Inc()
}

func RecordLoginFailure(state string) {
	if loginFailuresTotal == nil {
		return
	}
	loginFailuresTotal.WithLabelValues(state).Inc()
}

func RecordGroupChanges(added, removed int) {
	if groupChangesTotal == nil {
		return
	}
	if added > 0 {
		groupChangesTotal.WithLabelValues("add").Add(float64(added))
	}
	if removed > 0 {
		groupChangesTotal.WithLabelValues("remove").Add(float64(removed))
	}
}

func RecordTokenRefresh(ok bool) {
	if tokenRefreshTotal == nil {
		return
	}
	tokenRefreshTotal.WithLabelValues(status(ok)).Inc()
}

func RecordBackchannelLogout(ok bool) {
	if backchannelTotal == nil {
		return
	}
	backchannelTotal.WithLabelValues(status(ok)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
