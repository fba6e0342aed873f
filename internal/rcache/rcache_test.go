package rcache

import (
	"net/http"
	"testing"
)

func TestFingerprint_StableAcrossHeaderOrder(t *testing.T) {
	url := "https://cdn.example.com/index.m3u8"

	h1 := http.Header{}
	h1.Set("Accept", "*/*")
	h1.Set("Accept-Language", "en-US")

	h2 := http.Header{}
	h2.Set("Accept-Language", "en-US")
	h2.Set("Accept", "*/*")

	if Fingerprint(url, h1) != Fingerprint(url, h2) {
		t.Error("Fingerprint() differs by header-set insertion order, want a stable sorted projection")
	}
}

func TestFingerprint_IgnoresRangeHeader(t *testing.T) {
	url := "https://cdn.example.com/seg0.ts"

	h1 := http.Header{}
	h2 := http.Header{}
	h2.Set("Range", "bytes=0-100")

	if Fingerprint(url, h1) != Fingerprint(url, h2) {
		t.Error("Fingerprint() differs when only Range changes, want Range excluded from the key")
	}
}

func TestFingerprint_DiffersByURL(t *testing.T) {
	h := http.Header{}
	a := Fingerprint("https://cdn.example.com/a.ts", h)
	b := Fingerprint("https://cdn.example.com/b.ts", h)
	if a == b {
		t.Error("Fingerprint() collides for two different URLs")
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := New(1 << 20, 0)
	body := []byte("segment bytes")
	c.Put("key1", body)

	entry, ok := c.Get("key1")
	if !ok {
		t.Fatal("Get() = miss, want a hit after Put")
	}
	if string(entry.Body) != string(body) {
		t.Errorf("entry.Body = %q, want %q", entry.Body, body)
	}

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
}

func TestCache_MissIncrementsMissCounter(t *testing.T) {
	c := New(1 << 20, 0)
	if _, ok := c.Get("absent"); ok {
		t.Error("Get() = hit for a key never put")
	}
	if c.Stats().Misses != 1 {
		t.Errorf("Misses = %d, want 1", c.Stats().Misses)
	}
}

func TestCache_RejectsOversizedEntry(t *testing.T) {
	c := New(1 << 30, 0)
	oversized := make([]byte, MaxEntryBytes+1)
	c.Put("too-big", oversized)

	if _, ok := c.Get("too-big"); ok {
		t.Error("Get() = hit for an entry over MaxEntryBytes, want it rejected by Put")
	}
}

func TestCache_ClearRemovesEntries(t *testing.T) {
	c := New(1 << 20, 0)
	c.Put("key1", []byte("data"))
	c.Clear()

	if _, ok := c.Get("key1"); ok {
		t.Error("Get() = hit after Clear(), want the entry gone")
	}
	if c.Stats().ResidentBytes != 0 {
		t.Errorf("ResidentBytes = %d, want 0 after Clear()", c.Stats().ResidentBytes)
	}
}

func TestSliceRange_ValidPartialRange(t *testing.T) {
	entry := Entry{Body: []byte("0123456789"), Size: 10}
	res := SliceRange(entry, "bytes=2-5")
	if !res.Partial {
		t.Fatal("SliceRange() = not partial, want a valid range honored")
	}
	if string(res.Body) != "2345" {
		t.Errorf("Body = %q, want %q", res.Body, "2345")
	}
	if res.ContentRange != "bytes 2-5/10" {
		t.Errorf("ContentRange = %q, want %q", res.ContentRange, "bytes 2-5/10")
	}
}

func TestSliceRange_OpenEndedRange(t *testing.T) {
	entry := Entry{Body: []byte("0123456789"), Size: 10}
	res := SliceRange(entry, "bytes=7-")
	if !res.Partial {
		t.Fatal("SliceRange() = not partial, want an open-ended range honored")
	}
	if string(res.Body) != "789" {
		t.Errorf("Body = %q, want %q", res.Body, "789")
	}
}

func TestSliceRange_InvalidRangeReturnsFullBody(t *testing.T) {
	entry := Entry{Body: []byte("0123456789"), Size: 10}
	res := SliceRange(entry, "bytes=8-3")
	if res.Partial {
		t.Error("SliceRange() = partial for start > end, want rejected as invalid")
	}
	if string(res.Body) != "0123456789" {
		t.Errorf("Body = %q, want the full body on an invalid range", res.Body)
	}
}

func TestSliceRange_OutOfBoundsRejected(t *testing.T) {
	entry := Entry{Body: []byte("0123456789"), Size: 10}
	res := SliceRange(entry, "bytes=0-99")
	if res.Partial {
		t.Error("SliceRange() = partial for an out-of-bounds end, want rejected as invalid")
	}
}
