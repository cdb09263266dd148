// Package pypi implements the firewall rule for the Python Package Index:
// metadata endpoints are never blocked, only file downloads are checked
// against the malware list.
package pypi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/domain"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

var targetDomains = domain.NewSet(
	"pypi.org",
	"files.pythonhosted.org",
	"pypi.python.org",
)

var fileSuffixes = []string{".tar.gz", ".zip", ".tar.bz2", ".tar.xz"}

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "PyPI" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	name, ver, isFile := parseFileDownload(req.URL.Path)
	if !isFile {
		return req, nil, nil // metadata or unrecognized shape: never block
	}

	pv := version.ParsePackageVersion(ver)
	if pv.IsNone() {
		return req, nil, nil
	}
	if r.List.HasEntryWithVersion(name, pv) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: name, Version: pv.String(),
		}}, nil
	}
	return req, nil, nil
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// parseFileDownload decodes each path segment and tries, in order: a
// wheel filename "...-<version>-....whl[.metadata]", or a source
// distribution "<name>-<version>.{tar.gz,zip,tar.bz2,tar.xz}[.metadata]".
// Metadata paths ("/pypi/<name>/json", "/simple/<name>/...") are matched
// first and never treated as file downloads.
func parseFileDownload(path string) (name, ver string, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if s, err := url.PathUnescape(seg); err == nil {
			segments[i] = s
		}
	}

	if len(segments) >= 2 && segments[0] == "pypi" && segments[len(segments)-1] == "json" {
		return "", "", false
	}
	if len(segments) >= 1 && segments[0] == "simple" {
		return "", "", false
	}

	filename := segments[len(segments)-1]
	filename = strings.TrimSuffix(filename, ".metadata")

	if strings.HasSuffix(filename, ".whl") {
		if n, v, ok := parseWheelName(filename); ok {
			return n, v, true
		}
		return "", "", false
	}

	for _, suffix := range fileSuffixes {
		if strings.HasSuffix(filename, suffix) {
			base := strings.TrimSuffix(filename, suffix)
			idx := strings.LastIndex(base, "-")
			if idx < 0 {
				return "", "", false
			}
			return normalizeName(base[:idx]), base[idx+1:], true
		}
	}
	return "", "", false
}

// parseWheelName extracts {distribution}-{version} from a wheel filename
// "distname-version-build?-pytag-abitag-platformtag.whl".
func parseWheelName(filename string) (name, ver string, ok bool) {
	base := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(base, "-")
	if len(parts) < 5 {
		return "", "", false
	}
	return normalizeName(parts[0]), parts[1], true
}
