// Package admission validates a client-supplied target URL before it enters
// the proxy pipeline: shape, length, and an optional host allow-list,
// rejecting anything unsafe to dial before it ever reaches the network.
package admission

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// DefaultMaxURLLength is the default maximum admitted URL length when no configuration value is
// supplied.
const DefaultMaxURLLength = 2048

// Result is the outcome of admitting a target URL. URL carries the resolved
// target string (with https:// prepended or base64 decoded, as applicable)
// so the caller doesn't need to redo source-specific transforms.
type Result struct {
	Valid    bool
	Hostname string
	URL      string
	Reason   string
}

func reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Admit validates rawURL: non-empty, within
// maxLen, and, if an absolute http/https URL, its host checked against a
// non-empty allowlist. Path-only and relative inputs are accepted without
// host validation, since they are resolved internally by the caller.
func Admit(rawURL string, maxLen int, allowlist []string) Result {
	if maxLen <= 0 {
		maxLen = DefaultMaxURLLength
	}

	if rawURL == "" {
		return reject("empty URL")
	}
	if len(rawURL) > maxLen {
		return reject("URL exceeds maximum length")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return reject("URL does not parse")
	}

	// Path-only, relative, and scheme-relative inputs are accepted as-is
	// with no allowlist check; a scheme-relative input's host is not
	// checked either.
	if u.Scheme == "" {
		return Result{Valid: true, URL: rawURL}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return reject("unsupported URL scheme")
	}
	if u.Host == "" {
		return reject("URL missing host")
	}

	if len(allowlist) > 0 && !hostAllowed(u.Hostname(), allowlist) {
		return reject("host not in allow-list")
	}

	return Result{Valid: true, Hostname: u.Hostname(), URL: rawURL}
}

func hostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, allowed := range allowlist {
		if strings.ToLower(strings.TrimSpace(allowed)) == host {
			return true
		}
	}
	return false
}

// FromQuery admits the "url" query-parameter form of a target URL.
func FromQuery(raw string, maxLen int, allowlist []string) Result {
	return Admit(raw, maxLen, allowlist)
}

// FromInlinePath admits the inline-path-parameter form, prefixing
// "https://" when the candidate has no scheme.
func FromInlinePath(raw string, maxLen int, allowlist []string) Result {
	candidate := raw
	if candidate != "" && !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	return Admit(candidate, maxLen, allowlist)
}

// FromBase64Path decodes a base64 path parameter and admits the result.
func FromBase64Path(encoded string, maxLen int, allowlist []string) Result {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return reject("URL does not parse")
		}
	}
	return Admit(string(decoded), maxLen, allowlist)
}
