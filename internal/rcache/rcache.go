// Package rcache implements a bounded in-memory response cache mapping a
// request fingerprint to a cached body, with byte-range slicing on hit. It
// wraps github.com/maypok86/otter/v2 for the hot get/put path and
// weight-aware eviction, in place of a hand-rolled map[string]cacheEntry
// plus manual TTL sweep. The per-entry cap and Range-slicing contract are
// layered on top, since otter only knows about aggregate weight.
package rcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
)

// MaxEntryBytes is the default absolute per-entry cap used when New is
// given a non-positive maxEntryBytes; bodies larger than the effective cap
// are never cached.
const MaxEntryBytes = 10 * 1024 * 1024

// representationHeaders is the stable, sorted projection of request
// headers that participate in the fingerprint. Range is deliberately
// excluded so a ranged and unranged request to the same resource share a
// cache entry.
var representationHeaders = []string{"accept", "accept-encoding", "accept-language"}

// Entry is a single cached response body.
type Entry struct {
	Body       []byte
	Size       int64
	InsertedAt time.Time
}

// Cache is the process-wide response cache.
type Cache struct {
	store *otter.Cache[string, Entry]

	maxEntryBytes int64
	hits          atomic.Int64
	misses        atomic.Int64
	resident      atomic.Int64
}

// New creates a Cache with an aggregate soft cap of capBytes, weighing
// entries by their body size so otter's eviction naturally tracks resident
// bytes rather than entry count. maxEntryBytes bounds any single entry; a
// non-positive value falls back to MaxEntryBytes.
func New(capBytes, maxEntryBytes int64) *Cache {
	if maxEntryBytes <= 0 {
		maxEntryBytes = MaxEntryBytes
	}
	c := &Cache{maxEntryBytes: maxEntryBytes}
	c.store = otter.Must(&otter.Options[string, Entry]{
		MaximumWeight: uint64(capBytes),
		Weigher: func(_ string, v Entry) uint32 {
			return uint32(v.Size)
		},
		OnDeletion: func(e otter.DeletionEvent[string, Entry]) {
			c.resident.Add(-e.Value.Size)
		},
	})
	return c
}

// Fingerprint derives the cache key from the target URL and the stable,
// sorted projection of representation-relevant request headers, notably
// excluding Range.
func Fingerprint(targetURL string, header http.Header) string {
	h := sha256.New()
	h.Write([]byte(targetURL))

	names := make([]string, 0, len(representationHeaders))
	for _, name := range representationHeaders {
		if v := header.Get(name); v != "" {
			names = append(names, name+"="+v)
		}
	}
	sort.Strings(names)
	h.Write([]byte(strings.Join(names, "\x00")))

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry for key, if present.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.store.GetIfPresent(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

// Put stores bytes under key. Entries over the configured per-entry cap are
// rejected outright.
func (c *Cache) Put(key string, body []byte) {
	if int64(len(body)) > c.maxEntryBytes {
		return
	}
	entry := Entry{Body: body, Size: int64(len(body)), InsertedAt: time.Now()}
	c.store.Set(key, entry)
	c.resident.Add(entry.Size)
}

// Clear drops all cache entries, backing the POST /cache/clear admin route.
func (c *Cache) Clear() {
	c.store.InvalidateAll()
	c.resident.Store(0)
}

// Stats is the /cache/stats telemetry snapshot.
type Stats struct {
	EstimatedEntries int64 `json:"estimatedEntries"`
	ResidentBytes    int64 `json:"residentBytes"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
}

// Stats reports the cache's current telemetry.
func (c *Cache) Stats() Stats {
	return Stats{
		EstimatedEntries: int64(c.store.EstimatedSize()),
		ResidentBytes:    c.resident.Load(),
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
	}
}

// RangeResult is the outcome of slicing a cached entry against a Range
// header: a valid header slices the cached body and signals a 206 response
// with the synthetic Content-Range value; an invalid or absent header
// returns the full body.
type RangeResult struct {
	Body         []byte
	Partial      bool
	ContentRange string
}

// SliceRange validates and applies a "bytes=a-b" Range header against a
// cached entry's size: start >= 0, end < size, start <= end; any violation
// returns the full body.
func SliceRange(entry Entry, rangeHeader string) RangeResult {
	start, end, ok := parseByteRange(rangeHeader, entry.Size)
	if !ok {
		return RangeResult{Body: entry.Body}
	}
	return RangeResult{
		Body:         entry.Body[start : end+1],
		Partial:      true,
		ContentRange: contentRangeHeader(start, end, entry.Size),
	}
}

func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	var startStr, endStr = parts[0], parts[1]
	if startStr == "" {
		return 0, 0, false
	}
	s, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}

	e := size - 1
	if endStr != "" {
		parsedEnd, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		e = parsedEnd
	}

	if e >= size || s > e {
		return 0, 0, false
	}
	return s, e, true
}

func contentRangeHeader(start, end, size int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(size, 10)
}
