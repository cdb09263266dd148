// Package meta implements the proxy's diagnostic/control HTTP surface:
// the CA download, PAC script, blocked-events query, HAR toggle, and
// Prometheus metrics endpoints.
package meta

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	certpkg "github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/cert"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/netlog"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/events"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
)

const indexHTML = `<!doctype html>
<html><head><title>Aikido Safe Chain Proxy</title></head>
<body>
<h1>Aikido Safe Chain Proxy</h1>
<p><a href="/ca">Download the root CA certificate</a></p>
</body></html>`

// Server serves the meta endpoints. ProxyAddr is reported back in
// generated PAC scripts.
type Server struct {
	CA        *tls.Certificate
	Firewall  *firewall.Firewall
	Events    *events.Store
	NetLog    *netlog.NetworkActivityLog
	ProxyAddr string

	httpServer *http.Server
}

func New(ca *tls.Certificate, fw *firewall.Firewall, store *events.Store, nl *netlog.NetworkActivityLog, proxyAddr string) *Server {
	return &Server{CA: ca, Firewall: fw, Events: store, NetLog: nl, ProxyAddr: proxyAddr}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/ca", s.handleCA)
	mux.HandleFunc("/pac", s.handlePAC)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/har/toggle", s.handleHARToggle)
	mux.Handle("/metrics", promhttp.Handler())
	return requestIDMiddleware(mux)
}

// requestIDMiddleware stamps every request with a UUID for structured-log
// correlation, matching the ambient logging idiom used across the service.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := log.Logger.With().Str("request_id", id).Logger().WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenAndServeTLS binds addr and serves the meta endpoints over TLS
// using the root CA as the server certificate (self-issued, since this is
// a local diagnostic surface trusted via the same CA clients install).
func (s *Server) ListenAndServeTLS(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("meta: listen: %w", err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{*s.CA},
	})
	s.httpServer = &http.Server{Handler: s.mux(), IdleTimeout: 60 * time.Second}
	go func() {
		if err := s.httpServer.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("meta server stopped")
		}
	}()
	return ln.Addr().String(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleCA(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(certpkg.ToPEM(s.CA.Leaf))
}

func (s *Server) handlePAC(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil {
		http.Error(w, "pac script is only served over TLS", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig")
	_, _ = w.Write([]byte(s.Firewall.GeneratePACScript(s.ProxyAddr)))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("since_ms"), 10, 64)
	until, err := strconv.ParseInt(q.Get("until_ms"), 10, 64)
	if err != nil || until == 0 {
		until = time.Now().UnixMilli()
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	result := s.Events.Query(events.Query{SinceMs: since, UntilMs: until, Limit: limit}, time.Now())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to encode events response")
	}
}

func (s *Server) handleHARToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	enabled := s.NetLog.Toggle()
	_, _ = w.Write([]byte(strconv.FormatBool(enabled)))
}
