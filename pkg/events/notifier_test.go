package events

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
)

// recordingDoer captures every request it sees and signals doneCh after
// each call, so tests can wait on Notify's fire-and-forget goroutine
// without a sleep-based race.
type recordingDoer struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
	doneCh   chan struct{}
}

func newRecordingDoer(status int) *recordingDoer {
	return &recordingDoer{status: status, doneCh: make(chan struct{}, 16)}
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	body, _ := io.ReadAll(req.Body)
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)
	d.mu.Unlock()
	d.doneCh <- struct{}{}
	return &http.Response{StatusCode: d.status, Body: io.NopCloser(nil)}, nil
}

func (d *recordingDoer) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-d.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifier to send a request")
	}
}

func (d *recordingDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func TestNotifyPostsToEndpoint(t *testing.T) {
	doer := newRecordingDoer(http.StatusOK)
	n := NewNotifier("https://reports.example.test/events", doer, "test-agent/1.0")
	defer n.Stop()

	ev := BlockedEvent{TsMs: 1000, Artifact: firewall.Artifact{Product: "npm", Identifier: "evil-pkg", Version: "1.0.0"}}
	n.Notify(context.Background(), ev)
	doer.waitForCall(t)

	require.Equal(t, 1, doer.callCount())
	assert.Equal(t, "https://reports.example.test/events", doer.requests[0].URL.String())
	assert.Equal(t, "application/json", doer.requests[0].Header.Get("Content-Type"))
	assert.Equal(t, "test-agent/1.0", doer.requests[0].Header.Get("User-Agent"))
	assert.Contains(t, string(doer.bodies[0]), "evil-pkg")
}

func TestNotifyDedupsRepeatedArtifactWithinTTL(t *testing.T) {
	doer := newRecordingDoer(http.StatusOK)
	n := NewNotifier("https://reports.example.test/events", doer, "")
	defer n.Stop()

	ev := BlockedEvent{TsMs: 1000, Artifact: firewall.Artifact{Product: "npm", Identifier: "evil-pkg", Version: "1.0.0"}}
	n.Notify(context.Background(), ev)
	doer.waitForCall(t)

	n.Notify(context.Background(), ev)
	// The second Notify for the same artifact is deduped synchronously
	// inside Notify itself, so no second call will ever arrive.
	select {
	case <-doer.doneCh:
		t.Fatal("expected deduped notify to not send a second request")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, doer.callCount())
}

func TestNotifyConcurrentCallsForSameArtifactSendExactlyOnce(t *testing.T) {
	doer := newRecordingDoer(http.StatusOK)
	n := NewNotifier("https://reports.example.test/events", doer, "")
	defer n.Stop()

	ev := BlockedEvent{TsMs: 1000, Artifact: firewall.Artifact{Product: "npm", Identifier: "evil-pkg", Version: "1.0.0"}}

	const callers = 50
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			n.Notify(context.Background(), ev)
		}()
	}
	wg.Wait()

	doer.waitForCall(t)
	// Give any would-be second sender time to arrive before asserting.
	select {
	case <-doer.doneCh:
		t.Fatal("expected only one notification for concurrent calls on the same artifact")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, doer.callCount())
}

func TestNotifyIsNoopWithEmptyEndpoint(t *testing.T) {
	doer := newRecordingDoer(http.StatusOK)
	n := NewNotifier("", doer, "")
	defer n.Stop()

	n.Notify(context.Background(), BlockedEvent{TsMs: 1000, Artifact: firewall.Artifact{Product: "npm", Identifier: "evil-pkg"}})
	select {
	case <-doer.doneCh:
		t.Fatal("expected no request to be sent when endpoint is empty")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, doer.callCount())
}

func TestDedupKeyDistinguishesByProductIdentifierVersion(t *testing.T) {
	a := BlockedEvent{Artifact: firewall.Artifact{Product: "npm", Identifier: "pkg", Version: "1.0.0"}}
	b := BlockedEvent{Artifact: firewall.Artifact{Product: "npm", Identifier: "pkg", Version: "2.0.0"}}
	assert.NotEqual(t, DedupKey(a), DedupKey(b))
	assert.Equal(t, DedupKey(a), DedupKey(BlockedEvent{Artifact: a.Artifact}))
}
