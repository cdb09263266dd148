// Package openvsx implements the firewall rule for the Open VSX registry.
package openvsx

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
	"open-vsx.org",
	"marketplace.cursorapi.com",
)

const vsixAssetSuffix = "/microsoft.visualstudio.services.vsixpackage"

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "Open VSX" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	id, ok := parseExtensionID(req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	lower := strings.ToLower(id)
	if r.List.HasEntryWithVersion(lower, version.Any) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: id,
		}}, nil
	}
	return req, nil, nil
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

func parseExtensionID(path string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSuffix(path, "/"))
	if !strings.HasSuffix(trimmed, vsixAssetSuffix) {
		return "", false
	}

	full := strings.Trim(path, "/")
	segments := strings.Split(full, "/")

	findAfter := func(marker []string) (string, bool) {
		for i := 0; i+len(marker) <= len(segments); i++ {
			match := true
			for j, m := range marker {
				if !strings.EqualFold(segments[i+j], m) {
					match = false
					break
				}
			}
			if match && i+len(marker)+1 < len(segments) {
				return segments[i+len(marker)] + "/" + segments[i+len(marker)+1], true
			}
		}
		return "", false
	}

	if id, ok := findAfter([]string{"open-vsx-mirror", "vscode", "asset"}); ok {
		return id, true
	}
	if id, ok := findAfter([]string{"vscode", "asset"}); ok {
		return id, true
	}
	return "", false
}
