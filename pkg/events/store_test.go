package events

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
)

func TestStoreQueryReturnsEventsInRange(t *testing.T) {
	s := NewStore(24*time.Hour, 100)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	npmArtifact := firewall.Artifact{Product: "npm", Identifier: "left-pad", Version: "1.0.0"}
	pypiArtifact := firewall.Artifact{Product: "pypi", Identifier: "colourama", Version: "0.4.6"}

	first := s.Record(npmArtifact, base)
	second := s.Record(pypiArtifact, base.Add(time.Minute))
	_ = s.Record(npmArtifact, base.Add(2*time.Hour))

	got := s.Query(Query{SinceMs: base.UnixMilli(), UntilMs: base.Add(90 * time.Minute).UnixMilli()}, base.Add(2*time.Hour))
	want := []BlockedEvent{first, second}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Query() mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreQueryOrdersSameMillisecondEventsByInsertion(t *testing.T) {
	s := NewStore(time.Hour, 100)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := s.Record(firewall.Artifact{Product: "npm", Identifier: "a"}, now)
	b := s.Record(firewall.Artifact{Product: "npm", Identifier: "b"}, now)

	got := s.Query(Query{SinceMs: now.UnixMilli(), UntilMs: now.UnixMilli()}, now)
	require.Len(t, got, 2)
	assert.Equal(t, a.Artifact.Identifier, got[0].Artifact.Identifier)
	assert.Equal(t, b.Artifact.Identifier, got[1].Artifact.Identifier)
}

func TestStoreQueryLimitKeepsMostRecent(t *testing.T) {
	s := NewStore(time.Hour, 100)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Record(firewall.Artifact{Product: "npm", Identifier: "pkg"}, now.Add(time.Duration(i)*time.Second))
	}

	got := s.Query(Query{SinceMs: now.UnixMilli(), UntilMs: now.Add(time.Hour).UnixMilli(), Limit: 2}, now.Add(time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, now.Add(3*time.Second).UnixMilli(), got[0].TsMs)
	assert.Equal(t, now.Add(4*time.Second).UnixMilli(), got[1].TsMs)
}

func TestStorePruneDropsEntriesOlderThanRetention(t *testing.T) {
	s := NewStore(time.Hour, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Record(firewall.Artifact{Product: "npm", Identifier: "old"}, now)
	// Force a prune by calling it directly; Record only prunes opportunistically.
	s.prune(now.Add(2 * time.Hour))

	got := s.Query(Query{SinceMs: 0, UntilMs: now.Add(2 * time.Hour).UnixMilli()}, now.Add(2*time.Hour))
	assert.Empty(t, got)
}
