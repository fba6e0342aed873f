// Package mimeclass maps URL extensions to media MIME types and recognizes
// transport-stream segments disguised under misleading extensions,
// recognizing content categories from naming patterns rather than
// trusting a single signal.
package mimeclass

import (
	"path"
	"strings"

	"github.com/grafana/regexp"
)

// extensionTypes mirrors the extension table a media CDN proxy needs:
// playlists, segments, and the subtitle/image formats nested inside them.
var extensionTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".m3u":  "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".mp3":  "audio/mpeg",
	".vtt":  "text/vtt",
	".srt":  "text/plain",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".js":   "application/javascript",
	".css":  "text/css",
	".html": "text/html",
	".key":  "application/octet-stream",
}

// disguisedSegmentPatterns match basenames that are actually MPEG-TS
// segments published under a non-media extension. Anchored to the basename
// rather than the full URL so query strings never interfere.
var disguisedSegmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)seg-?\d+`),
	regexp.MustCompile(`(?i)segment-?\d+`),
	regexp.MustCompile(`(?i)chunk-?\d+`),
	regexp.MustCompile(`(?i)-v\d+-a\d+`),
}

// nonMediaDisguiseExtensions is the set of extensions a disguised segment
// can wear; a .ts or .mp4 match is not a disguise, it is just the truth.
var nonMediaDisguiseExtensions = map[string]bool{
	".js":   true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".css":  true,
	".html": true,
}

// streamingFormatExtensions is the fast-path extension set the proxy
// pipeline uses to bypass the cache and stream directly.
var streamingFormatExtensions = map[string]bool{
	".ts":   true,
	".m3u8": true,
	".mp4":  true,
	".mp3":  true,
	".m4s":  true,
}

func extOf(rawURL string) string {
	u := rawURL
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		u = u[:idx]
	}
	return strings.ToLower(path.Ext(u))
}

func basenameOf(rawURL string) string {
	u := rawURL
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		u = u[:idx]
	}
	return path.Base(u)
}

// TypeForExtension returns the MIME type registered for a URL's extension,
// or "" if the extension is unknown.
func TypeForExtension(rawURL string) string {
	return extensionTypes[extOf(rawURL)]
}

// IsM3U8 reports whether the URL or a declared content type names an HLS
// manifest.
func IsM3U8(rawURL, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	ext := extOf(rawURL)
	return ext == ".m3u8" || ext == ".m3u"
}

// IsTsSegment reports whether the URL names a plain (non-disguised)
// transport-stream segment.
func IsTsSegment(rawURL string) bool {
	return extOf(rawURL) == ".ts"
}

// IsDisguisedSegment reports whether a basename matches a segment-naming
// pattern served under a non-media extension, including the legacy special
// case of ".jpg" paths carrying both "segment-" and "-v1-a1" markers.
func IsDisguisedSegment(rawURL string) bool {
	ext := extOf(rawURL)
	base := basenameOf(rawURL)

	if strings.Contains(rawURL, "segment-") && strings.Contains(rawURL, "-v1-a1") && ext == ".jpg" {
		return true
	}

	if !nonMediaDisguiseExtensions[ext] {
		return false
	}
	for _, pat := range disguisedSegmentPatterns {
		if pat.MatchString(base) {
			return true
		}
	}
	return false
}

// IsStreamingFormat reports whether the URL's extension is in the proxy
// pipeline's fast-path streaming set.
func IsStreamingFormat(rawURL string) bool {
	return streamingFormatExtensions[extOf(rawURL)]
}

// NeedsM3U8Rewriting reports whether a response for this URL/content-type
// combination should be routed through the playlist rewriter.
func NeedsM3U8Rewriting(rawURL, contentType string) bool {
	return IsM3U8(rawURL, contentType)
}

// IsAudioSegment reports whether the URL or content type identifies an
// audio segment that must pass through byte-for-byte unmodified.
func IsAudioSegment(rawURL, contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "audio/mp4" || ct == "audio/aac" {
		return true
	}
	ext := extOf(rawURL)
	if ext == ".aac" {
		return true
	}
	return strings.Contains(strings.ToLower(rawURL), "mp4a.40")
}

// IsVTT reports whether the URL or content type names a WebVTT subtitle
// track.
func IsVTT(rawURL, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "vtt") {
		return true
	}
	return extOf(rawURL) == ".vtt"
}
