package malwarelist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

func strPtr(s string) *string { return &s }

func TestBuildIndexFindAndVersionLookup(t *testing.T) {
	entries := []ListDataEntry{
		{PackageName: "Left-Pad", Version: strPtr("1.0.0")},
		{PackageName: "left-pad", Version: strPtr("1.0.1")},
		{PackageName: "colourama"}, // no version: matches Any
	}
	idx := buildIndex(entries, LowercaseTrimFormatter)

	got, ok := idx.find("left-pad")
	assert.True(t, ok)
	assert.Len(t, got, 2)

	_, ok = idx.find("does-not-exist")
	assert.False(t, ok)

	assert.True(t, idx.hasEntryWithVersion("left-pad", version.ParsePackageVersion("1.0.0")))
	assert.False(t, idx.hasEntryWithVersion("left-pad", version.ParsePackageVersion("9.9.9")))
	assert.True(t, idx.hasEntryWithVersion("colourama", version.ParsePackageVersion("anything")))
}

func TestIndexFindOnNilIndex(t *testing.T) {
	var idx *index
	_, ok := idx.find("anything")
	assert.False(t, ok)
}

func TestBuildIndexMultipleFormatterKeys(t *testing.T) {
	entries := []ListDataEntry{
		{PackageName: "owner/repo/skill-name"},
	}
	idx := buildIndex(entries, func(e ListDataEntry) []string {
		return []string{"owner/repo"}
	})
	_, ok := idx.find("owner/repo")
	assert.True(t, ok)
}
