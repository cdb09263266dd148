package chrome

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
)

type presetBlobStore struct{ data []byte }

func (s presetBlobStore) Read(name string) ([]byte, bool, error) { return s.data, true, nil }
func (s presetBlobStore) Write(name string, data []byte) error   { return nil }

type noopDoer struct{}

func (noopDoer) Do(req *http.Request) (*http.Response, error) {
	return nil, context.DeadlineExceeded
}

func newSeededList(t *testing.T, entries []malwarelist.ListDataEntry) *malwarelist.List {
	t.Helper()
	raw, err := json.Marshal(malwarelist.CachedList{Entries: entries})
	require.NoError(t, err)
	return malwarelist.New(context.Background(), "https://example.test/malware_chrome_web_store.json", malwarelist.LowercaseTrimFormatter, noopDoer{}, presetBlobStore{data: raw})
}

func strPtr(s string) *string { return &s }

func TestParseCRX(t *testing.T) {
	id, ver, ok := parseCRX("/crx/blobs/abcdefghijklmnopqrstuvwxyzabcdef_1_2_3_4.crx")
	require.True(t, ok)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyzabcdef", id)
	assert.Equal(t, "1.2.3.4", ver)

	_, _, ok = parseCRX("/crx/blobs/notacrxfile.zip")
	assert.False(t, ok)

	_, _, ok = parseCRX("/crx/blobs/toofewparts_1_2.crx")
	assert.False(t, ok)
}

func TestPadVersion(t *testing.T) {
	assert.Equal(t, "1.2.0.0", padVersion("1.2"))
	assert.Equal(t, "1.2.3.4", padVersion("1.2.3.4"))
	assert.Equal(t, "1.2.3.4", padVersion("1.2.3.4.5"))
}

func TestEvaluateRequestBlocksListedVersion(t *testing.T) {
	list := newSeededList(t, []malwarelist.ListDataEntry{{PackageName: "evilextensionid000000000000000", Version: strPtr("1.2.3.4")}})
	r := New(list)

	req := httptest.NewRequest(http.MethodGet, "https://clients2.google.com/crx/blobs/evilextensionid000000000000000_1_2_3_4.crx", nil)
	_, block, err := r.EvaluateRequest(req, nil)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "Chrome Web Store", block.Artifact.Product)
	assert.Equal(t, "evilextensionid000000000000000", block.Artifact.Identifier)
}

func TestEvaluateRequestAllowsDifferentVersion(t *testing.T) {
	list := newSeededList(t, []malwarelist.ListDataEntry{{PackageName: "evilextensionid000000000000000", Version: strPtr("1.2.3.4")}})
	r := New(list)

	req := httptest.NewRequest(http.MethodGet, "https://clients2.google.com/crx/blobs/evilextensionid000000000000000_9_9_9_9.crx", nil)
	_, block, err := r.EvaluateRequest(req, nil)
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestEvaluateRequestBlocksAnyVersionWhenListedWithoutVersion(t *testing.T) {
	list := newSeededList(t, []malwarelist.ListDataEntry{{PackageName: "evilextensionid000000000000000"}})
	r := New(list)

	req := httptest.NewRequest(http.MethodGet, "https://clients2.google.com/crx/blobs/evilextensionid000000000000000_9_9_9_9.crx", nil)
	_, block, err := r.EvaluateRequest(req, nil)
	require.NoError(t, err)
	require.NotNil(t, block)
}

func TestMatchDomain(t *testing.T) {
	r := New(newSeededList(t, nil))
	assert.True(t, r.MatchDomain("clients2.google.com"))
	assert.True(t, r.MatchDomain("update.googleapis.com"))
	assert.False(t, r.MatchDomain("pypi.org"))
}
