// Package vscode implements the firewall rule for the Visual Studio Code
// Marketplace: install-asset downloads are blocked on match, and
// marketplace-query JSON responses get a malware badge rewritten in.
package vscode

import (
	"encoding/json"
	"io"
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
	"gallery.vsassets.io",
	"gallerycdn.vsassets.io",
	"marketplace.visualstudio.com",
)

const maxResponseBody = 64 << 20
const maxWalkDepth = 32

type Rule struct {
	List *malwarelist.List
}

func New(list *malwarelist.List) *Rule { return &Rule{List: list} }

func (r *Rule) ProductName() string           { return "VSCode Marketplace" }
func (r *Rule) MatchDomain(host string) bool  { return targetDomains.Matches(host) }
func (r *Rule) CollectPACDomains(g *pac.Generator) { g.Register(targetDomains.Domains()...) }

func isInstallAsset(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".vsix") ||
		strings.HasSuffix(lower, "/microsoft.visualstudio.services.vsixpackage") ||
		strings.Contains(lower, "/microsoft.visualstudio.code.manifest") ||
		strings.Contains(lower, "/microsoft.visualstudio.services.vsixsignature")
}

func (r *Rule) EvaluateRequest(req *http.Request, cfg *firewall.UserConfig) (*http.Request, *firewall.BlockInfo, error) {
	if !isInstallAsset(req.URL.Path) {
		return req, nil, nil
	}
	id, ok := parseExtensionID(req.URL.Path)
	if !ok {
		return req, nil, nil
	}
	if r.List.HasEntryWithVersion(strings.ToLower(id), version.Any) {
		return nil, &firewall.BlockInfo{Artifact: firewall.Artifact{
			Product: r.ProductName(), Identifier: id,
		}}, nil
	}
	return req, nil, nil
}

// parseExtensionID tries each known path shape in order and returns
// "publisher.extension" with original casing preserved.
func parseExtensionID(path string) (string, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	tryPrefix := func(marker []string, pubIdx, extIdx int) (string, bool) {
		for i := 0; i+len(marker) <= len(segments); i++ {
			match := true
			for j, m := range marker {
				if !strings.EqualFold(segments[i+j], m) {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			pi, ei := i+pubIdx, i+extIdx
			if pi < len(segments) && ei < len(segments) {
				return segments[pi] + "." + segments[ei], true
			}
		}
		return "", false
	}

	if id, ok := tryPrefix([]string{"files"}, 1, 2); ok {
		return id, true
	}
	if id, ok := tryPrefix([]string{"_apis", "public", "gallery", "publisher"}, 4, 5); ok {
		return id, true
	}
	if id, ok := tryPrefix([]string{"_apis", "public", "gallery", "publishers"}, 4, 6); ok {
		return id, true
	}
	if id, ok := tryPrefix([]string{"extensions"}, 1, 2); ok {
		return id, true
	}
	return "", false
}

const blockMessage = "This extension has been identified as malware and was removed from the results."

func (r *Rule) EvaluateResponse(resp *http.Response, req *http.Request, cfg *firewall.UserConfig) (*http.Response, error) {
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return resp, nil
	}

	body, err := readAndRestore(resp, maxResponseBody)
	if err != nil {
		return resp, nil
	}

	if !bytesContainAll(body, `"displayName"`) || !bytesContainAny(body, `"publisherName"`, `"publisher"`) || !bytesContainAny(body, `"name"`, `"extensionName"`) {
		return resp, nil
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return resp, nil
	}

	rewritten := walkAndRewrite(doc, r.List, 0)
	if !rewritten {
		return resp, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return resp, nil
	}

	resp.Body = io.NopCloser(strings.NewReader(string(out)))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	resp.Header.Set("Cache-Control", "no-cache")
	return resp, nil
}

func walkAndRewrite(node interface{}, list *malwarelist.List, depth int) bool {
	if depth > maxWalkDepth {
		return false
	}
	changed := false
	switch v := node.(type) {
	case map[string]interface{}:
		if id, ok := extensionIDFromObject(v); ok {
			if list.HasEntryWithVersion(strings.ToLower(id), version.Any) {
				if dn, ok := v["displayName"].(string); ok {
					v["displayName"] = "⛔ MALWARE: " + dn
				}
				v["shortDescription"] = blockMessage
				v["description"] = blockMessage
				changed = true
			}
		}
		for _, child := range v {
			if walkAndRewrite(child, list, depth+1) {
				changed = true
			}
		}
	case []interface{}:
		for _, child := range v {
			if walkAndRewrite(child, list, depth+1) {
				changed = true
			}
		}
	}
	return changed
}

func extensionIDFromObject(obj map[string]interface{}) (string, bool) {
	var publisher, ext string
	if pubObj, ok := obj["publisher"].(map[string]interface{}); ok {
		if pn, ok := pubObj["publisherName"].(string); ok {
			publisher = pn
		} else if pn, ok := pubObj["name"].(string); ok {
			publisher = pn
		}
	}
	if publisher == "" {
		if pn, ok := obj["publisherName"].(string); ok {
			publisher = pn
		} else if pn, ok := obj["publisher"].(string); ok {
			publisher = pn
		}
	}
	if publisher == "" {
		return "", false
	}
	if n, ok := obj["name"].(string); ok {
		ext = n
	} else if n, ok := obj["extensionName"].(string); ok {
		ext = n
	} else {
		return "", false
	}
	if _, ok := obj["displayName"]; !ok {
		return "", false
	}
	if publisher == "" || ext == "" {
		return "", false
	}
	return publisher + "." + ext, true
}

func readAndRestore(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return body, err
}

func bytesContainAll(b []byte, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(string(b), n) {
			return false
		}
	}
	return true
}

func bytesContainAny(b []byte, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(string(b), n) {
			return true
		}
	}
	return false
}
