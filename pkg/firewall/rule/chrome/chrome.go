// Package chrome implements the firewall rule for Chrome Web Store CRX
// downloads.
package chrome

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/domain"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

var targetDomains = domain.NewSet(
	"clients2.google.com",
	"update.googleapis.com",
	"clients2.googleusercontent.com",
)

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "Chrome Web Store" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	id, ver, ok := parseCRX(req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	lower := strings.ToLower(id)

	entries, found := r.List.FindEntries(lower)
	if !found {
		return req, nil, nil
	}
	observed := padVersion(ver)
	for _, e := range entries {
		if e.Version.Kind == version.KindAny {
			return nil, blockInfo(r.ProductName(), id, ver), nil
		}
		if e.Version.String() != "" && padVersion(e.Version.String()) == observed {
			return nil, blockInfo(r.ProductName(), id, ver), nil
		}
	}
	return req, nil, nil
}

func blockInfo(product, id, ver string) *firewall.BlockInfo {
	return &firewall.BlockInfo{Artifact: firewall.Artifact{Product: product, Identifier: id, Version: ver}}
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

// parseCRX matches "<id>_<v1>_<v2>_<v3>_<v4>.crx" and returns the id and a
// dotted version string.
func parseCRX(path string) (id, ver string, ok bool) {
	segments := strings.Split(path, "/")
	filename := segments[len(segments)-1]
	if !strings.HasSuffix(filename, ".crx") {
		return "", "", false
	}
	base := strings.TrimSuffix(filename, ".crx")
	parts := strings.Split(base, "_")
	if len(parts) != 5 {
		return "", "", false
	}
	return parts[0], strings.Join(parts[1:], "."), true
}

// padVersion pads a dotted numeric version string to 4 components with
// trailing zeros, then returns it for lenient string comparison.
func padVersion(v string) string {
	parts := strings.Split(v, ".")
	for len(parts) < 4 {
		parts = append(parts, "0")
	}
	if len(parts) > 4 {
		parts = parts[:4]
	}
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			parts[i] = strconv.Itoa(n)
		}
	}
	return strings.Join(parts, ".")
}
