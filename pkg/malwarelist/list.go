package malwarelist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/httpclient"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/metrics"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

const (
	defaultRefreshInterval = 30 * time.Minute
	refreshJitter          = 5 * time.Minute
	minErrorBackoff        = 60 * time.Second
)

// List is a single remote malware list: its source URI, its formatter, and
// the atomically-swapped in-memory index built from the most recent
// successful fetch (or the on-disk cache at startup).
type List struct {
	URI       string
	Formatter EntryFormatter

	client    httpclient.Doer
	blobs     BlobStore
	cacheFile string

	idx  atomic.Pointer[index]
	etag atomic.Pointer[string]

	lastErrBackoff atomic.Int64 // nanoseconds
}

// New constructs a List and performs the startup load: the disk cache is
// used when present (so the firewall has entries to evaluate against
// immediately). New makes no network request; the first fetch, which picks
// up a fresh copy or populates the cache on first run, happens in Run.
func New(ctx context.Context, uri string, formatter EntryFormatter, client httpclient.Doer, blobs BlobStore) *List {
	l := &List{
		URI:       uri,
		Formatter: formatter,
		client:    client,
		blobs:     blobs,
		cacheFile: cacheFilename(uri),
	}
	l.idx.Store(newIndex())

	if raw, ok, err := blobs.Read(l.cacheFile); err != nil {
		log.Ctx(ctx).Warn().Str("list", uri).Err(err).Msg("failed to read cached malware list")
	} else if ok {
		if cached, err := decodeCachedList(raw); err != nil {
			log.Ctx(ctx).Warn().Str("list", uri).Err(err).Msg("failed to decode cached malware list")
		} else {
			l.idx.Store(buildIndex(cached.Entries, formatter))
			if cached.ETag != "" {
				etag := cached.ETag
				l.etag.Store(&etag)
			}
			log.Ctx(ctx).Info().Str("list", uri).Int("entries", len(cached.Entries)).Msg("loaded malware list from cache")
		}
	}

	return l
}

// Run blocks, refreshing the list on a jittered interval until ctx is
// canceled. Callers run this in its own goroutine per list.
func (l *List) Run(ctx context.Context) {
	// Fetch once immediately so a cold cache is populated quickly, then
	// fall into the periodic loop.
	l.refreshOnce(ctx)

	for {
		wait := defaultRefreshInterval + httpclient.Jitter(refreshJitter)
		if backoffNs := l.lastErrBackoff.Load(); backoffNs > 0 {
			wait = time.Duration(backoffNs)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		l.refreshOnce(ctx)
	}
}

func (l *List) refreshOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URI, nil)
	if err != nil {
		log.Ctx(ctx).Error().Str("list", l.URI).Err(err).Msg("failed to build malware list request")
		return
	}
	if etag := l.etag.Load(); etag != nil && *etag != "" {
		req.Header.Set("If-None-Match", *etag)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		l.backoffAfterError(ctx, err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		l.lastErrBackoff.Store(0)
		metrics.MalwareListRefreshTotal.WithLabelValues(l.URI, "not_modified").Inc()
		log.Ctx(ctx).Debug().Str("list", l.URI).Msg("malware list not modified")
		return
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode below
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.MalwareListRefreshTotal.WithLabelValues(l.URI, "error").Inc()
		l.backoffAfterError(ctx, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
		return
	}

	var entries []ListDataEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		metrics.MalwareListRefreshTotal.WithLabelValues(l.URI, "error").Inc()
		l.backoffAfterError(ctx, fmt.Errorf("decode response: %w", err))
		return
	}

	l.idx.Store(buildIndex(entries, l.Formatter))
	l.lastErrBackoff.Store(0)
	metrics.MalwareListRefreshTotal.WithLabelValues(l.URI, "refreshed").Inc()

	newEtag := resp.Header.Get("ETag")
	l.etag.Store(&newEtag)

	raw, err := encodeCachedList(CachedList{ETag: newEtag, Entries: entries})
	if err != nil {
		log.Ctx(ctx).Error().Str("list", l.URI).Err(err).Msg("failed to encode malware list cache")
	} else if err := l.blobs.Write(l.cacheFile, raw); err != nil {
		log.Ctx(ctx).Warn().Str("list", l.URI).Err(err).Msg("failed to persist malware list cache")
	}

	log.Ctx(ctx).Info().Str("list", l.URI).Int("entries", len(entries)).Msg("refreshed malware list")
}

// backoffAfterError logs the failure and schedules the next attempt at
// max(previous backoff / 2, minErrorBackoff) plus jitter, so after an error
// the next attempt comes within minErrorBackoff plus a quarter of it
// instead of after the full refresh interval.
func (l *List) backoffAfterError(ctx context.Context, err error) {
	httpclient.LogTransientError(ctx, "malwarelist:"+l.URI, err)

	prev := time.Duration(l.lastErrBackoff.Load())
	next := prev / 2
	if next < minErrorBackoff {
		next = minErrorBackoff
	}
	next += httpclient.Jitter(next / 4)
	l.lastErrBackoff.Store(int64(next))
}

// FindEntries returns the malware-list entries registered under id.
func (l *List) FindEntries(id string) ([]Entry, bool) {
	return l.idx.Load().find(id)
}

// HasEntryWithVersion reports whether id is listed for version v (or for
// Any, which matches every version).
func (l *List) HasEntryWithVersion(id string, v version.PackageVersion) bool {
	return l.idx.Load().hasEntryWithVersion(id, v)
}
