package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	loginsTotal = nil
	loginFailuresTotal = nil
	groupChangesTotal = nil
	tokenRefreshTotal = nil
	backchannelTotal = nil
}

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRecordersAreNoopsBeforeRegister(t *testing.T) {
	reset()
	defer reset()

	assert.NotPanics(t, func() {
		Register(nil)
		RecordLogin("direct")
		RecordLoginFailure("protocol_handshake")
		RecordGroupChanges(1, 1)
		RecordTokenRefresh(true)
		RecordBackchannelLogout(false)
	})
}

func TestCounters(t *testing.T) {
	reset()
	defer reset()

	reg := NewRegistry()
	Register(reg)

	RecordLogin("direct")
	RecordLogin("direct")
	RecordLogin("new")
	RecordLoginFailure("protocol_handshake")
	RecordGroupChanges(3, 0)
	RecordGroupChanges(0, 2)
	RecordTokenRefresh(false)
	RecordBackchannelLogout(true)

	logins := findFamily(t, reg, "oidc_linker_logins_total")
	require.NotNil(t, logins)
	assert.Equal(t, 2.0, counterValue(logins, "path", "direct"))
	assert.Equal(t, 1.0, counterValue(logins, "path", "new"))

	failures := findFamily(t, reg, "oidc_linker_login_failures_total")
	require.NotNil(t, failures)
	assert.Equal(t, 1.0, counterValue(failures, "state", "protocol_handshake"))

	groups := findFamily(t, reg, "oidc_linker_group_changes_total")
	require.NotNil(t, groups)
	assert.Equal(t, 3.0, counterValue(groups, "op", "add"))
	assert.Equal(t, 2.0, counterValue(groups, "op", "remove"))

	refreshes := findFamily(t, reg, "oidc_linker_token_refreshes_total")
	require.NotNil(t, refreshes)
	assert.Equal(t, 1.0, counterValue(refreshes, "status", "failure"))

	assert.NotNil(t, findFamily(t, reg, "go_goroutines"))
}

func TestHandlerServesRegistry(t *testing.T) {
	reset()
	defer reset()

	reg := NewRegistry()
	Register(reg)
	RecordLogin("email")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `oidc_linker_logins_total{path="email"} 1`)
}
