package pac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGeneratorRegistersProbeDomain(t *testing.T) {
	g := NewGenerator()
	script := g.Script("127.0.0.1:3128")
	assert.Contains(t, script, connectivityProbeDomain)
}

func TestScriptOrdersDomainsByDescendingLength(t *testing.T) {
	g := NewGenerator()
	g.Register("npmjs.org", "registry.npmjs.org")

	script := g.Script("127.0.0.1:3128")
	shortIdx := strings.Index(script, `host === "npmjs.org"`)
	longIdx := strings.Index(script, `host === "registry.npmjs.org"`)
	assert.GreaterOrEqual(t, shortIdx, 0)
	assert.GreaterOrEqual(t, longIdx, 0)
	assert.Less(t, longIdx, shortIdx, "more specific domain should be checked first")
}

func TestScriptContainsProxyAddr(t *testing.T) {
	g := NewGenerator()
	g.Register("registry.npmjs.org")
	script := g.Script("127.0.0.1:3128")
	assert.Contains(t, script, "PROXY 127.0.0.1:3128; DIRECT")
}

func TestRegisterNormalizesCaseAndTrailingDot(t *testing.T) {
	g := NewGenerator()
	g.Register("Registry.NPMJS.org.")
	script := g.Script("127.0.0.1:3128")
	assert.Contains(t, script, `"registry.npmjs.org"`)
}

func TestRegisterIgnoresEmptyDomain(t *testing.T) {
	g := NewGenerator()
	g.Register("")
	// Only the probe domain should be registered.
	assert.Len(t, g.domains, 1)
}
