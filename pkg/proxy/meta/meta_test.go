package meta

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/events"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/cert"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/netlog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ca, err := cert.GenerateCA()
	require.NoError(t, err)

	fw := firewall.New(nil, nil)
	store := events.NewStore(24*time.Hour, 100)
	nl := &netlog.NetworkActivityLog{}

	return New(ca, fw, store, nl, "127.0.0.1:3128")
}

func TestHandleIndexServesHTML(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Aikido Safe Chain Proxy")
}

func TestHandlePing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestHandleCAServesPEM(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ca", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-pem-file", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "-----BEGIN CERTIFICATE-----")
}

func TestHandlePACRejectsPlainHTTP(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/pac", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlePACServesScriptOverTLS(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/pac", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ns-proxy-autoconfig", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "127.0.0.1:3128")
}

func TestHandleEventsReturnsRecordedEvents(t *testing.T) {
	s := newTestServer(t)
	now := time.Now()
	s.Events.Record(firewall.Artifact{Product: "npm", Identifier: "evil-pkg", Version: "1.0.0"}, now)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "evil-pkg")
}

func TestHandleEventsRespectsLimit(t *testing.T) {
	s := newTestServer(t)
	now := time.Now()
	s.Events.Record(firewall.Artifact{Product: "npm", Identifier: "first"}, now)
	s.Events.Record(firewall.Artifact{Product: "npm", Identifier: "second"}, now)

	req := httptest.NewRequest(http.MethodGet, "/events?limit=1", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "first")
	assert.Contains(t, rec.Body.String(), "second")
}

func TestHandleHARToggleRejectsGet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/har/toggle", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHARTogglePostFlipsState(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.NetLog.Enabled.Load())

	req := httptest.NewRequest(http.MethodPost, "/har/toggle", nil)
	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Body.String())
	assert.True(t, s.NetLog.Enabled.Load())

	req2 := httptest.NewRequest(http.MethodPost, "/har/toggle", nil)
	rec2 := httptest.NewRecorder()
	s.mux().ServeHTTP(rec2, req2)
	assert.Equal(t, "false", rec2.Body.String())
	assert.False(t, s.NetLog.Enabled.Load())
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
