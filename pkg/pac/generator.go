// Package pac generates the Proxy Auto-Configuration script returned from
// the meta server's /pac endpoint.
package pac

import (
	"fmt"
	"sort"
	"strings"
)

// connectivityProbeDomain is always registered so clients can verify
// reachability through the proxy even before any rule matches traffic.
const connectivityProbeDomain = "proxy.safechain.internal"

// Generator accumulates the target domains each firewall rule wants
// proxied, then emits a FindProxyForURL script covering all of them.
type Generator struct {
	domains map[string]struct{}
}

func NewGenerator() *Generator {
	g := &Generator{domains: make(map[string]struct{})}
	g.Register(connectivityProbeDomain)
	return g
}

// Register adds one or more domains to the PAC script's match set.
func (g *Generator) Register(domains ...string) {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSuffix(d, "."))
		if d == "" {
			continue
		}
		g.domains[d] = struct{}{}
	}
}

// Script renders the JavaScript source. proxyAddr is "host:port" of this
// process's proxy listener. Domains are sorted by descending length so a
// more specific subdomain is matched before its parent.
func (g *Generator) Script(proxyAddr string) string {
	domains := make([]string, 0, len(g.domains))
	for d := range g.domains {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if len(domains[i]) != len(domains[j]) {
			return len(domains[i]) > len(domains[j])
		}
		return domains[i] < domains[j]
	})

	var b strings.Builder
	b.WriteString("function FindProxyForURL(url, host) {\n")
	b.WriteString("  host = host.toLowerCase();\n")
	b.WriteString("  if (host.charAt(host.length - 1) === '.') {\n")
	b.WriteString("    host = host.substring(0, host.length - 1);\n")
	b.WriteString("  }\n")
	for _, d := range domains {
		fmt.Fprintf(&b, "  if (host === %q || host.endsWith(%q)) {\n", d, "."+d)
		fmt.Fprintf(&b, "    return \"PROXY %s; DIRECT\";\n", proxyAddr)
		b.WriteString("  }\n")
	}
	b.WriteString("  return \"DIRECT\";\n")
	b.WriteString("}\n")
	return b.String()
}
