// Package skillssh implements the firewall rule for Skills.sh skills
// distributed over GitHub's git smart-HTTP protocol.
package skillssh

import (
	"net/http"
	"strings"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/pac"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/domain"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

var targetDomains = domain.NewSet("github.com")

var smartHTTPSuffixes = []string{"/info/refs", "/git-upload-pack", "/git-receive-pack"}

// Formatter indexes a three-part "owner/repo/skill-name" malware entry by
// its "owner/repo" prefix, so any listed skill blocks the whole repo.
func Formatter(entry malwarelist.ListDataEntry) []string {
	name := strings.ToLower(strings.TrimSpace(entry.PackageName))
	parts := strings.SplitN(name, "/", 3)
	if len(parts) < 2 {
		return nil
	}
	return []string{parts[0] + "/" + parts[1]}
}

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "Skills.sh" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	repo, ok := parseRepo(req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	if r.List.HasEntryWithVersion(repo, version.Any) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: repo,
		}}, nil
	}
	return req, nil, nil
}

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	return resp, nil
}

func parseRepo(path string) (string, bool) {
	var matchedSuffix string
	for _, suffix := range smartHTTPSuffixes {
		if strings.HasSuffix(path, suffix) {
			matchedSuffix = suffix
			break
		}
	}
	if matchedSuffix == "" {
		return "", false
	}

	repoPath := strings.TrimSuffix(path, matchedSuffix)
	repoPath = strings.Trim(repoPath, "/")
	repoPath = strings.TrimSuffix(repoPath, ".git")

	segments := strings.Split(repoPath, "/")
	if len(segments) < 2 {
		return "", false
	}
	owner, repo := segments[len(segments)-2], segments[len(segments)-1]
	return strings.ToLower(owner + "/" + repo), true
}
