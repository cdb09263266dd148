// Package netlog implements an optional, toggleable HAR-like diagnostic
// recorder hung off the proxy's request/response pipeline. It never
// mutates traffic and never affects firewall semantics; it only observes.
package netlog

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elazarl/goproxy"
)

// Entry is one recorded request/response pair, loosely modeled on a HAR
// entry's essential fields.
type Entry struct {
	Method     string    `json:"method"`
	Scheme     string    `json:"scheme"`
	Host       string    `json:"host"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// NetworkActivityLog is a bounded, togglable in-memory recording of
// proxied HTTP traffic, exposed over the meta server's /har/toggle
// endpoint (enable/disable) and readable for diagnostics.
type NetworkActivityLog struct {
	// Enabled gates whether new entries are recorded; toggled at runtime
	// without restarting the proxy.
	Enabled atomic.Bool

	maxEntries int
	mu         sync.Mutex
	Entries    []Entry
}

// CaptureActivityLog wires request/response observer hooks into t that
// append to the returned log whenever Enabled is true. Its request hook
// never returns a response and its response hook returns resp unchanged,
// so it can never itself change the outcome of a request. Start times are
// kept by goproxy session id, leaving ctx.UserData (which the firewall
// hooks read) untouched.
func CaptureActivityLog(t *goproxy.ProxyHttpServer, maxEntries int) *NetworkActivityLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	log := &NetworkActivityLog{maxEntries: maxEntries}

	type startKey struct{}
	var starts sync.Map

	t.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if !log.Enabled.Load() {
			return req, nil
		}
		starts.Store(ctx.Session, requestStart{at: time.Now(), method: req.Method, scheme: schemeOf(req), host: hostOf(req)})
		return req, nil
	})

	t.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		v, ok := starts.LoadAndDelete(ctx.Session)
		if !ok || !log.Enabled.Load() {
			return resp
		}
		start := v.(requestStart)
		entry := Entry{
			Method:     start.method,
			Scheme:     start.scheme,
			Host:       start.host,
			StartedAt:  start.at,
			DurationMs: time.Since(start.at).Milliseconds(),
		}
		if ctx.Req != nil {
			entry.Path = ctx.Req.URL.Path
		}
		if resp != nil {
			entry.StatusCode = resp.StatusCode
		}
		log.append(entry)
		return resp
	})

	return log
}

type requestStart struct {
	at     time.Time
	method string
	scheme string
	host   string
}

func schemeOf(req *http.Request) string {
	if req.URL.Scheme != "" {
		return req.URL.Scheme
	}
	return "http"
}

func hostOf(req *http.Request) string {
	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		return req.Host
	}
	if (port == "80" && schemeOf(req) == "http") || (port == "443" && schemeOf(req) == "https") {
		return host
	}
	return req.Host
}

func (l *NetworkActivityLog) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, e)
	if len(l.Entries) > l.maxEntries {
		l.Entries = l.Entries[len(l.Entries)-l.maxEntries:]
	}
}

// Snapshot returns a copy of the currently recorded entries.
func (l *NetworkActivityLog) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.Entries))
	copy(out, l.Entries)
	return out
}

// Toggle flips Enabled and returns the new state.
func (l *NetworkActivityLog) Toggle() bool {
	for {
		old := l.Enabled.Load()
		if l.Enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
