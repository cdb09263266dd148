// Package nuget implements the firewall rule for the NuGet v2 and v3
// package download endpoints.
package nuget

import (
	"net/http"
	"strings"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/domain"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

var targetDomains = domain.NewSet(
	"api.nuget.org",
	"www.nuget.org",
)

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "NuGet" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	name, ver, ok := parsePackage(req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	pv := version.ParsePackageVersion(ver)
	if pv.IsNone() {
		return req, nil, nil
	}
	if r.List.HasEntryWithVersion(strings.ToLower(name), pv) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: name, Version: pv.String(),
		}}, nil
	}
	return req, nil, nil
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

// parsePackage tries the v2 shape "/api/v2/package/<name>/<version>" first,
// then the v3-flatcontainer shape
// "/v3-flatcontainer/<name>/<version>/<name>.<version>.nupkg".
func parsePackage(path string) (name, ver string, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	for i := 0; i+4 < len(segments); i++ {
		if strings.EqualFold(segments[i], "api") && strings.EqualFold(segments[i+1], "v2") && strings.EqualFold(segments[i+2], "package") {
			return segments[i+3], segments[i+4], true
		}
	}

	for i, seg := range segments {
		if !strings.EqualFold(seg, "v3-flatcontainer") {
			continue
		}
		if i+3 >= len(segments) {
			continue
		}
		name, ver := segments[i+1], segments[i+2]
		filename := segments[i+3]
		expected := strings.ToLower(name + "." + ver + ".nupkg")
		if strings.ToLower(filename) == expected {
			return name, ver, true
		}
	}
	return "", "", false
}
