// Package npm implements the firewall rule for the npm registry: tarball
// downloads are blocked by exact (name, version) malware-list match, and
// package-metadata responses are rewritten to hide versions younger than a
// minimum age.
package npm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/domain"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

const defaultMinPackageAge = 24 * time.Hour

const maxResponseBody = 64 << 20 // 64 MiB; well under the 500 MiB symmetric body limit

var targetDomains = domain.NewSet(
	"registry.npmjs.org",
	"registry.npmjs.com",
	"registry.yarnpkg.com",
)

// Rule implements firewall.Rule for npm.
type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule {
	return &Rule{List: list}
}

func (r *Rule) ProductName() string { return "npm" }

func (r *Rule) MatchDomain(host string) bool { return targetDomains.Matches(host) }

func (r *Rule) CollectPACDomains(g *pac.Generator) {
	g.Register(targetDomains.Domains()...)
}

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	if name, v, ok := parseTarballPath(req.URL.Path); ok {
		pv, err := version.Parse(v)
		if err != nil {
			return req, nil, nil // unparseable version: allow
		}
		if r.List.HasEntryWithVersion(name, version.FromSemver(pv)) {
			return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
				Product: r.ProductName(), Identifier: name, Version: pv.String(),
			}}, nil
		}
		return req, nil, nil
	}

	// Not a tarball request: downgrade the npm install-v1 Accept subtype
	// to plain JSON so the response rewriter below gets a body it can
	// parse.
	accept := req.Header.Get("Accept")
	if strings.Contains(accept, "vnd.npm.install-v1") {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil, nil
}

// parseTarballPath matches ".../<name>/-/<basename>-<version>.tgz". For a
// scoped name "@scope/name" the filename basename is just "name".
func parseTarballPath(path string) (name, ver string, ok bool) {
	if !strings.HasSuffix(path, ".tgz") {
		return "", "", false
	}
	idx := strings.Index(path, "/-/")
	if idx < 0 {
		return "", "", false
	}
	pkgPath := strings.Trim(path[:idx], "/")
	filename := strings.TrimSuffix(path[idx+len("/-/"):], ".tgz")

	segments := strings.Split(pkgPath, "/")
	var basename string
	if len(segments) >= 2 && strings.HasPrefix(segments[0], "@") {
		name = segments[0] + "/" + segments[1]
		basename = segments[1]
	} else {
		name = segments[len(segments)-1]
		basename = name
	}

	prefix := basename + "-"
	if !strings.HasPrefix(filename, prefix) {
		return "", "", false
	}
	ver = filename[len(prefix):]
	if ver == "" {
		return "", "", false
	}
	return strings.ToLower(name), ver, true
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return resp, nil
	}

	minAge := defaultMinPackageAge
	if cfg != nil && cfg.MinPackageAgeIsSet {
		minAge = cfg.MinPackageAge
	}

	body, err := readBodyRestoring(resp, maxResponseBody)
	if err != nil {
		return resp, nil
	}

	rewritten, changed := rewriteMinPackageAge(body, minAge, time.Now())
	if !changed {
		return resp, nil
	}

	resp.Body = asBody(rewritten)
	resp.ContentLength = int64(len(rewritten))
	resp.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	resp.Header.Set("Cache-Control", "no-cache")
	return resp, nil
}

// rewriteMinPackageAge removes version entries younger than minAge from
// both the "time" and "versions" maps, and reassigns dist-tags.latest if
// it pointed at a removed version. The document is decoded generically so
// every other top-level field (name, description, maintainers, readme,
// ...) survives untouched. On any parse failure it returns the original
// body unchanged.
func rewriteMinPackageAge(body []byte, minAge time.Duration, now time.Time) ([]byte, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body, false
	}

	times, ok := doc["time"].(map[string]interface{})
	if !ok {
		return body, false
	}
	versions, _ := doc["versions"].(map[string]interface{})
	distTags, _ := doc["dist-tags"].(map[string]interface{})

	cutoff := now.Add(-minAge)
	removed := make(map[string]bool)

	for key, raw := range times {
		if key == "created" || key == "modified" {
			continue
		}
		ts, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		if t.After(cutoff) {
			removed[key] = true
			delete(times, key)
			delete(versions, key)
		}
	}
	if len(removed) == 0 {
		return body, false
	}

	if latest, ok := distTags["latest"].(string); ok && removed[latest] {
		if best, found := bestRemainingLatest(times); found {
			distTags["latest"] = best
		} else {
			delete(distTags, "latest")
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return body, false
	}
	return out, true
}

// readBodyRestoring reads resp.Body up to limit and puts an equivalent
// reader back so the caller always leaves resp in a servable state. A body
// of limit bytes or more yields an error, and resp.Body then serves the
// bytes already read followed by the unread rest.
func readBodyRestoring(resp *http.Response, limit int64) ([]byte, error) {
	orig := resp.Body
	body, err := io.ReadAll(io.LimitReader(orig, limit))
	if err == nil && int64(len(body)) >= limit {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), orig), orig}
		return body, errors.New("npm: response body exceeds rewrite limit")
	}
	orig.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}

func asBody(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// bestRemainingLatest picks the highest timestamp among keys that start
// with an ASCII digit and contain no '-', as a proxy for "the newest
// non-prerelease, digit-leading version key still present".
func bestRemainingLatest(times map[string]interface{}) (string, bool) {
	var best string
	var bestTs time.Time
	found := false
	for key, raw := range times {
		if key == "created" || key == "modified" {
			continue
		}
		if key == "" || key[0] < '0' || key[0] > '9' {
			continue
		}
		if strings.Contains(key, "-") {
			continue
		}
		ts, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		if !found || t.After(bestTs) {
			found = true
			best = key
			bestTs = t
		}
	}
	return best, found
}
