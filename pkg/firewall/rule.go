package firewall

import (
	"net/http"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
)

// Rule is one ecosystem's firewall logic: which domains it owns, how it
// parses a request into an artifact identity, and how it decides to block
// or rewrite. Every method must tolerate adversarial/malformed input
// without panicking; when in doubt, a Rule allows.
type Rule interface {
	// ProductName is the human-readable ecosystem name used in Artifact
	// and in blocked-event payloads, e.g. "npm".
	ProductName() string

	// MatchDomain reports whether host belongs to this rule's target set.
	MatchDomain(host string) bool

	// CollectPACDomains registers this rule's target domains with g.
	CollectPACDomains(g *pac.Generator)

	// EvaluateRequest inspects req (and any per-user override in cfg). It
	// returns either a (possibly mutated) request to forward, or a
	// non-nil BlockInfo describing why the request was blocked. At most
	// one of the two return values that matter is populated: on block,
	// the returned *http.Request is ignored.
	EvaluateRequest(req *http.Request, cfg *UserConfig) (*http.Request, *BlockInfo, error)

	// EvaluateResponse inspects/rewrites resp for the matching request
	// req. Implementations that never rewrite return resp unchanged.
	EvaluateResponse(resp *http.Response, req *http.Request, cfg *UserConfig) (*http.Response, error)
}
