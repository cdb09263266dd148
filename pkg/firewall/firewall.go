package firewall

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/metrics"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
)

// Firewall composes an ordered list of Rules plus the blocked-event
// recording/notification side effects triggered on every block decision.
type Firewall struct {
	rules    []Rule
	onBlock  func(ctx context.Context, artifact Artifact)
}

// New builds a Firewall over rules, evaluated in the given order. onBlock,
// if non-nil, is invoked (synchronously, before the blocked response is
// returned) whenever any rule blocks a request; callers wire this to the
// blocked-events store and notifier.
func New(rules []Rule, onBlock func(ctx context.Context, artifact Artifact)) *Firewall {
	return &Firewall{rules: rules, onBlock: onBlock}
}

// MatchDomain reports whether any owned rule targets host.
func (f *Firewall) MatchDomain(host string) bool {
	for _, r := range f.rules {
		if r.MatchDomain(host) {
			return true
		}
	}
	return false
}

// EvaluateRequest threads req through every rule in order. The first Block
// short-circuits: the blocked-event side effect fires and a rendered
// *http.Response is returned instead of a forwardable request.
func (f *Firewall) EvaluateRequest(ctx context.Context, req *http.Request, cfg *UserConfig) (*http.Request, *http.Response) {
	metrics.ProxiedRequestsTotal.Inc()
	current := req
	for _, r := range f.rules {
		if !r.MatchDomain(current.URL.Hostname()) && !r.MatchDomain(current.Host) {
			continue
		}
		next, block, err := r.EvaluateRequest(current, cfg)
		if err != nil {
			log.Ctx(ctx).Warn().Str("rule", r.ProductName()).Err(err).Msg("rule evaluation error, allowing")
			continue
		}
		if block != nil {
			metrics.BlockedRequestsTotal.WithLabelValues(block.Artifact.Product).Inc()
			if f.onBlock != nil {
				f.onBlock(ctx, block.Artifact)
			}
			msg := blockMessage(block.Artifact)
			return current, RenderBlockedResponse(current, msg)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// EvaluateResponse folds resp through every rule's response evaluator in
// order, for the rule whose domain matches req's host.
func (f *Firewall) EvaluateResponse(ctx context.Context, resp *http.Response, req *http.Request, cfg *UserConfig) *http.Response {
	host := req.URL.Hostname()
	current := resp
	for _, r := range f.rules {
		if !r.MatchDomain(host) && !r.MatchDomain(req.Host) {
			continue
		}
		next, err := r.EvaluateResponse(current, req, cfg)
		if err != nil {
			log.Ctx(ctx).Warn().Str("rule", r.ProductName()).Err(err).Msg("response rewrite error, passing through original")
			continue
		}
		current = next
	}
	return current
}

// GeneratePACScript asks every rule to register its domains, then renders
// the script bound to proxyAddr.
func (f *Firewall) GeneratePACScript(proxyAddr string) string {
	g := pac.NewGenerator()
	for _, r := range f.rules {
		r.CollectPACDomains(g)
	}
	return g.Script(proxyAddr)
}

func blockMessage(a Artifact) string {
	if a.Version != "" {
		return "blocked: " + a.Product + " package " + a.Identifier + "@" + a.Version + " is known malware"
	}
	return "blocked: " + a.Product + " package " + a.Identifier + " is known malware"
}
