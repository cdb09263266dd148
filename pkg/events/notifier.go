package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/httpclient"
)

const (
	dedupTTL            = 30 * time.Second
	dedupMaxEntries     = 10_000
	permitAcquireWait   = 500 * time.Millisecond
)

// Notifier forwards newly recorded blocked events to an optional external
// reporting endpoint, deduplicating repeats of the same artifact within a
// TTL window and bounding outbound concurrency.
type Notifier struct {
	endpoint  string
	client    httpclient.Doer
	userAgent string

	dedup *ttlcache.Cache[string, struct{}]
	sem   *semaphore.Weighted
}

// NewNotifier constructs a Notifier. endpoint may be empty, in which case
// Notify is a no-op (matching "reporting endpoint optional").
func NewNotifier(endpoint string, client httpclient.Doer, userAgent string) *Notifier {
	concurrency := runtime.NumCPU() * 2
	if concurrency > 64 {
		concurrency = 64
	}
	if concurrency < 1 {
		concurrency = 1
	}

	dedup := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](dedupTTL),
		ttlcache.WithCapacity[string, struct{}](dedupMaxEntries),
	)
	go dedup.Start()

	return &Notifier{
		endpoint:  endpoint,
		client:    client,
		userAgent: userAgent,
		dedup:     dedup,
		sem:       semaphore.NewWeighted(int64(concurrency)),
	}
}

// DedupKey identifies "the same artifact block" for dedup purposes.
func DedupKey(ev BlockedEvent) string {
	return fmt.Sprintf("%s|%s|%s", ev.Artifact.Product, ev.Artifact.Identifier, ev.Artifact.Version)
}

// Notify fires the outbound POST in its own goroutine; the caller waits
// only for the dedup check, while the permit-acquire wait (at most 500ms)
// happens in that goroutine. It never returns an error — all failures are
// logged.
func (n *Notifier) Notify(ctx context.Context, ev BlockedEvent) {
	if n.endpoint == "" {
		return
	}

	key := DedupKey(ev)
	// GetOrSet is the cache's atomic check-and-set: only the caller that
	// actually inserts the key (existed == false) proceeds to send, closing
	// the race where two concurrent blocks of the same artifact both see an
	// empty slot and both fire a notification.
	if _, existed := n.dedup.GetOrSet(key, struct{}{}, ttlcache.WithTTL[string, struct{}](dedupTTL)); existed {
		return
	}

	go n.send(ctx, ev)
}

func (n *Notifier) send(ctx context.Context, ev BlockedEvent) {
	acquireCtx, cancel := context.WithTimeout(ctx, permitAcquireWait)
	defer cancel()

	if err := n.sem.Acquire(acquireCtx, 1); err != nil {
		log.Ctx(ctx).Warn().Str("component", "notifier").Err(err).Msg("dropping blocked-event notification: no concurrency permit")
		return
	}
	defer n.sem.Release(1)

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to marshal blocked event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to build notifier request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		httpclient.LogTransientError(ctx, "notifier", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Ctx(ctx).Warn().Int("status", resp.StatusCode).Msg("blocked-event notification rejected")
	}
}

// Stop releases the dedup cache's background goroutine.
func (n *Notifier) Stop() {
	n.dedup.Stop()
}
