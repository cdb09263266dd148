package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/elazarl/goproxy"
	"github.com/rs/zerolog/log"

	"github.com/AikidoSec/safechain-internals-sub000/internal/proxy/handshake"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/netlog"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/socks5"
)

// TLS port to which proxied TLS traffic should be redirected.
var tlsPort = "443"

// connectivityProbeDomain is always eligible for MITM so clients can
// verify the proxy is reachable before any firewall rule matches traffic.
const connectivityProbeDomain = "proxy.safechain.internal"

// userConfigHeader carries an HTML-form-encoded FirewallUserConfig on the
// CONNECT request, an alternative to proxy-auth username labels.
const userConfigHeader = "X-Aikido-Safe-Chain-Config"

type userConfigContextKey struct{}

// ConfigureGoproxyCA sets the global intermediate CA used by goproxy to
// mint per-SNI leaf certificates (goproxy signs one for each intercepted
// connection; no leaf-certificate cache is configured here).
func ConfigureGoproxyCA(ca *tls.Certificate) {
	goproxy.OkConnect = &goproxy.ConnectAction{Action: goproxy.ConnectAccept, TLSConfig: goproxy.TLSConfigFromCA(ca)}
	goproxy.MitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(ca)}
	goproxy.HTTPMitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectHTTPMitm, TLSConfig: goproxy.TLSConfigFromCA(ca)}
	goproxy.RejectConnect = &goproxy.ConnectAction{Action: goproxy.ConnectReject, TLSConfig: goproxy.TLSConfigFromCA(ca)}
}

// Service transparently proxies HTTP and HTTPS traffic, evaluating every
// request and response against a Firewall before it reaches the wire.
type Service struct {
	Proxy    *goproxy.ProxyHttpServer
	Ca       *tls.Certificate
	Firewall *firewall.Firewall
	MitmAll  bool

	httpShutdown func(context.Context) error
	tlsShutdown  func(context.Context) error
}

// ServiceOpts configures optional behavior of a Service.
type ServiceOpts struct {
	MitmAll     bool
	SkipLogging bool
}

// NewService builds a Service wired to fw. The returned *netlog.NetworkActivityLog
// is exposed so the meta server can offer the /har/toggle endpoint.
func NewService(fw *firewall.Firewall, ca *tls.Certificate, opts ServiceOpts) (*Service, *netlog.NetworkActivityLog) {
	p := newGoproxyServer()
	svc := &Service{Proxy: p, Ca: ca, Firewall: fw, MitmAll: opts.MitmAll}

	var nl *netlog.NetworkActivityLog
	if !opts.SkipLogging {
		nl = netlog.CaptureActivityLog(p, 1000)
	} else {
		nl = &netlog.NetworkActivityLog{}
	}

	svc.wireConnectHandler()
	svc.wireFirewall()
	return svc, nl
}

func newGoproxyServer() *goproxy.ProxyHttpServer {
	t := goproxy.NewProxyHttpServer()
	t.ConnectDial = nil
	t.Tr = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: false},
	}
	t.NonproxyHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Host == "" {
			fmt.Fprintln(w, "proxy: required Host header not populated. HTTP 1.0 request?")
			return
		}
		req.URL.Scheme = "http"
		req.URL.Host = req.Host
		t.ServeHTTP(w, req)
	})
	return t
}

// wireConnectHandler implements the MITM-or-tunnel decision from the
// dispatch design: only terminate TLS when mitm_all is set, or the target
// is the connectivity probe, or a firewall rule owns the domain. Anything
// else is tunneled as opaque bytes, never decrypted.
func (s *Service) wireConnectHandler() {
	var handler goproxy.FuncHttpsHandler = func(hostport string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if cfg := userConfigFromRequest(ctx.Req); cfg != nil {
			ctx.UserData = cfg
		}
		return s.decideConnectAction(hostport), hostport
	}
	s.Proxy.OnRequest().HandleConnect(handler)
}

// decideConnectAction implements the MITM-or-tunnel decision in isolation
// from goproxy's dispatch so it can be exercised directly by tests.
func (s *Service) decideConnectAction(hostport string) *goproxy.ConnectAction {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	if s.MitmAll || host == connectivityProbeDomain || s.Firewall.MatchDomain(host) {
		return goproxy.MitmConnect
	}
	return goproxy.OkConnect
}

// userConfigFromRequest extracts a per-request FirewallUserConfig from
// either the proxy-auth username or the X-Aikido-Safe-Chain-Config header,
// the header taking precedence when both are present.
func userConfigFromRequest(req *http.Request) *firewall.UserConfig {
	if req == nil {
		return nil
	}
	if header := req.Header.Get(userConfigHeader); header != "" {
		if cfg, err := firewall.ParseConfigHeader(header); err == nil && cfg != nil {
			return cfg
		}
	}
	if username, _, ok := proxyAuthCredentials(req); ok {
		if cfg, err := firewall.ParseUsernameLabels(username); err == nil && cfg != nil {
			return cfg
		}
	}
	return nil
}

func proxyAuthCredentials(req *http.Request) (username, password string, ok bool) {
	auth := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	return parseBasicAuth(auth[len(prefix):])
}

// wireFirewall hooks the firewall's request/response evaluation into the
// goproxy pipeline.
func (s *Service) wireFirewall() {
	s.Proxy.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		cfg, _ := ctx.UserData.(*firewall.UserConfig)
		next, blockedResp := s.Firewall.EvaluateRequest(req.Context(), req, cfg)
		if blockedResp != nil {
			return req, blockedResp
		}
		return next, nil
	})
	s.Proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp == nil || ctx.Req == nil {
			return resp
		}
		cfg, _ := ctx.UserData.(*firewall.UserConfig)
		return s.Firewall.EvaluateResponse(ctx.Req.Context(), resp, ctx.Req, cfg)
	})
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.httpShutdown != nil {
		if err := s.httpShutdown(ctx); err != nil {
			return err
		}
	}
	if s.tlsShutdown != nil {
		if err := s.tlsShutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ListenAndServe serves HTTP CONNECT and plain HTTP proxy traffic on addr.
func (s *Service) ListenAndServe(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("proxy: listen: %w", err)
	}
	server := &http.Server{Handler: s.Proxy}
	s.httpShutdown = func(ctx context.Context) error { return server.Shutdown(ctx) }
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("proxy http server stopped")
		}
	}()
	return ln.Addr().String(), nil
}

// ServeTransparent accepts raw TCP connections on addr and dispatches each
// one per the MITM dispatch design: a SOCKS5 greeting is handled by the
// SOCKS5 acceptor, everything else goes through the HTTP CONNECT path via
// a TLS ClientHello peek.
func (s *Service) ServeTransparent(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("proxy: listen: %w", err)
	}
	var inflight sync.WaitGroup
	s.tlsShutdown = func(shutdownCtx context.Context) error {
		if err := ln.Close(); err != nil {
			return err
		}
		done := make(chan struct{})
		go func() { inflight.Wait(); close(done) }()
		select {
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		case <-done:
			return nil
		}
	}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Ctx(ctx).Warn().Err(err).Msg("error accepting connection")
				continue
			}
			inflight.Add(1)
			go func(c net.Conn) {
				defer inflight.Done()
				s.dispatch(ctx, c)
			}(c)
		}
	}()
	return ln.Addr().String(), nil
}

// dispatch implements the per-connection decision tree from the MITM
// dispatch design: peek for a SOCKS5 greeting first, else run the
// CONNECT-then-TLS-peek path.
func (s *Service) dispatch(ctx context.Context, c net.Conn) {
	buffered := bufio.NewReader(c)
	first, err := buffered.Peek(1)
	if err != nil {
		c.Close()
		return
	}

	bufConn := &prereadConn{Conn: c, r: buffered}

	if socks5.LooksLikeGreeting(first[0]) {
		s.dispatchSOCKS5(ctx, bufConn)
		return
	}
	s.dispatchHTTPConnect(bufConn)
}

func (s *Service) dispatchSOCKS5(ctx context.Context, c net.Conn) {
	target, username, err := socks5.Accept(c)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("socks5 handshake failed")
		c.Close()
		return
	}

	connectReq := &http.Request{
		Method:     "CONNECT",
		URL:        &url.URL{Opaque: target.Host, Host: target.Addr()},
		Host:       target.Addr(),
		Header:     make(http.Header),
		RemoteAddr: c.RemoteAddr().String(),
	}
	if cfg, err := firewall.ParseUsernameLabels(username); err == nil && cfg != nil {
		if encoded, err := encodeUserConfig(cfg); err == nil {
			connectReq.Header.Set(userConfigHeader, encoded)
		}
	}
	resp := eatConnectResponseWriter{c}
	s.Proxy.ServeHTTP(resp, connectReq)
}

func (s *Service) dispatchHTTPConnect(c net.Conn) {
	// A TLS stream opens with a handshake (22) or alert (21) record; any
	// other stream is served as plain HTTP before a byte is consumed.
	if pc, ok := c.(*prereadConn); ok {
		if first, err := pc.r.Peek(1); err == nil && first[0] != 22 && first[0] != 21 {
			server := &http.Server{Handler: s.Proxy}
			server.Serve(&singleConnListener{conn: c})
			return
		}
	}
	conn, hello, err := handshake.PeekClientHello(c)
	if err != nil {
		// Starts like a TLS record but holds no ClientHello: the rest of
		// the stream is served as a plain HTTP proxy request.
		server := &http.Server{Handler: s.Proxy}
		server.Serve(&singleConnListener{conn: c})
		return
	}
	host := hello.ServerName
	if host == "" {
		c.Close()
		return
	}
	connectReq := &http.Request{
		Method:     "CONNECT",
		URL:        &url.URL{Opaque: host, Host: net.JoinHostPort(host, tlsPort)},
		Host:       net.JoinHostPort(host, tlsPort),
		Header:     make(http.Header),
		RemoteAddr: conn.RemoteAddr().String(),
	}
	resp := eatConnectResponseWriter{conn}
	s.Proxy.ServeHTTP(resp, connectReq)
}

func encodeUserConfig(cfg *firewall.UserConfig) (string, error) {
	values := url.Values{}
	if cfg.MinPackageAgeIsSet {
		values.Set("min_package_age", fmt.Sprintf("%dms", cfg.MinPackageAge.Milliseconds()))
	}
	return values.Encode(), nil
}

// parseBasicAuth decodes a base64 "user:pass" payload. Unlike
// net/http.Request.BasicAuth, this never requires the scheme prefix to be
// present in the value passed in.
func parseBasicAuth(b64 string) (username, password string, ok bool) {
	raw, err := decodeBase64(b64)
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return raw, "", true
	}
	return raw[:idx], raw[idx+1:], true
}

// eatConnectResponseWriter drops the goproxy response to the HTTP CONNECT
// tunnel creation so the hijacked conn can be re-served as plain bytes.
type eatConnectResponseWriter struct {
	net.Conn
}

func (tc eatConnectResponseWriter) Header() http.Header {
	panic("unexpected Header() call")
}

func (tc eatConnectResponseWriter) Write(buf []byte) (int, error) {
	if bytes.Equal(buf, []byte("HTTP/1.0 200 OK\r\n\r\n")) {
		return len(buf), nil
	}
	return tc.Conn.Write(buf)
}

func (tc eatConnectResponseWriter) WriteHeader(code int) {
	panic("unexpected WriteHeader() call")
}

func (tc eatConnectResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return tc, bufio.NewReadWriter(bufio.NewReader(tc), bufio.NewWriter(tc)), nil
}

// prereadConn re-exposes bytes already consumed into a bufio.Reader via Peek.
type prereadConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *prereadConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// singleConnListener lets net/http.Server.Serve drive exactly one
// already-accepted connection, used for the plain-HTTP proxy fallback path.
type singleConnListener struct {
	conn net.Conn
	used bool
	mu   sync.Mutex
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used {
		return nil, errors.New("singleConnListener: already accepted")
	}
	l.used = true
	return l.conn, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

func decodeBase64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
