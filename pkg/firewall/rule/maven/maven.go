// Package maven implements the firewall rule for Maven Central and the
// Apache Software Foundation repositories.
package maven

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
	"repo.maven.apache.org",
	"repo1.maven.org",
	"central.maven.org",
	"repository.apache.org",
)

// prefixesFor returns the ordered list of path prefixes to try stripping
// for a given host, per-domain.
func prefixesFor(host string) []string {
	switch {
	case domain.Matches(host, "repo.maven.apache.org"), domain.Matches(host, "repo1.maven.org"), domain.Matches(host, "central.maven.org"):
		return []string{"maven2", ""}
	case domain.Matches(host, "repository.apache.org"):
		return []string{"content/repositories/releases", "content/repositories/snapshots", "content/groups/public", ""}
	default:
		return []string{""}
	}
}

var jarExtensions = []string{".jar", ".war", ".aar"}

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "Maven" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	id, ver, ok := parseCoordinate(req.URL.Hostname(), req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	pv := version.ParsePackageVersion(ver)
	if pv.IsNone() {
		return req, nil, nil
	}
	if r.List.HasEntryWithVersion(id, pv) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: id, Version: pv.String(),
		}}, nil
	}
	return req, nil, nil
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

// parseCoordinate strips one of the per-domain prefixes, then parses
// "/<group-with-slashes>/<artifactId>/<version>/<filename>" where filename
// ends in .jar/.war/.aar and, after the extension, starts with
// "<artifactId>-<version>" followed by '-' or '.'.
func parseCoordinate(host, path string) (identifier, ver string, ok bool) {
	trimmed := strings.Trim(path, "/")
	for _, prefix := range prefixesFor(host) {
		rest := trimmed
		if prefix != "" {
			if !strings.HasPrefix(rest, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(rest, prefix+"/")
		}
		if id, v, ok := parseAfterPrefix(rest); ok {
			return id, v, true
		}
	}
	return "", "", false
}

func parseAfterPrefix(path string) (identifier, ver string, ok bool) {
	segments := strings.Split(path, "/")
	if len(segments) < 4 {
		return "", "", false
	}
	filename := segments[len(segments)-1]
	artifactVersion := segments[len(segments)-2]
	artifactID := segments[len(segments)-3]
	groupSegments := segments[:len(segments)-3]
	if len(groupSegments) == 0 {
		return "", "", false
	}

	var ext string
	for _, e := range jarExtensions {
		if strings.HasSuffix(filename, e) {
			ext = e
			break
		}
	}
	if ext == "" {
		return "", "", false
	}
	base := strings.TrimSuffix(filename, ext)
	prefix := artifactID + "-" + artifactVersion
	if !strings.HasPrefix(base, prefix) {
		return "", "", false
	}
	if len(base) > len(prefix) {
		next := base[len(prefix)]
		if next != '-' && next != '.' {
			return "", "", false
		}
	}

	group := strings.Join(groupSegments, ".")
	identifier = strings.ToLower(group + ":" + artifactID)
	return identifier, artifactVersion, true
}
