// Package ctypearbiter decides the content type the proxy reports to the
// client for a given response, arbitrating between what the upstream
// declared, what the bytes themselves look like, and what the requested
// URL implies, layering several substring/signature checks into a single
// ordered decision.
package ctypearbiter

import (
	"mediaproxy/internal/mimeclass"
	"mediaproxy/internal/tsniff"
)

const (
	tsMIME       = "video/mp2t"
	m3u8MIME     = "application/vnd.apple.mpegurl"
	fallbackMIME = "application/octet-stream"
)

// Decide returns the content type to report for a response body fetched
// from rawURL with upstream-declared contentType, peeking at up to the
// first bytes of the body for transport-stream sniffing.
//
// Order: a positive transport-stream sniff wins outright, even over a
// declared type claiming otherwise; next, a ".m3u8" URL whose declared type
// doesn't already read as an HLS manifest is corrected to one; next, a
// disguised segment (non-media extension, segment-shaped basename) is
// reported as video/mp2t regardless of what it arrived labeled as; next,
// the upstream's own declared type is trusted if present; next, the MIME
// type registered for the URL's extension is used if there is one; and
// finally, application/octet-stream is the last resort.
func Decide(rawURL, contentType string, bodyPeek []byte) string {
	if tsniff.IsTransportStream(bodyPeek) {
		return tsMIME
	}

	if mimeclass.IsM3U8(rawURL, "") && !mimeclass.IsM3U8("", contentType) {
		return m3u8MIME
	}

	if mimeclass.IsDisguisedSegment(rawURL) {
		return tsMIME
	}

	if contentType != "" {
		return contentType
	}

	if t := mimeclass.TypeForExtension(rawURL); t != "" {
		return t
	}

	return fallbackMIME
}
