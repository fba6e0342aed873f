// Package domaintpl matches an upstream hostname against an ordered list of
// templates supplying synthesized request headers (Origin, Referer,
// User-Agent), generalizing an ordered compiled-pattern matcher (the same
// shape as a per-source include/exclude stream filter) from include/exclude
// stream filters to per-host header synthesis, and using a concurrent map
// for the per-hostname header cache.
package domaintpl

import (
	"math/rand"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	"github.com/puzpuzpuz/xsync/v3"
)

// dropSet is unconditionally removed from any synthesized header map to
// avoid poisoning upstream caching.
var dropSet = map[string]bool{
	"cache-control": true,
	"pragma":        true,
}

// userAgents is the small fixed rotation used for synthesized requests,
// covering the common VLC / smart-TV / browser / ExoPlayer clients a media
// CDN expects to see.
var userAgents = []string{
	"VLC/3.0.18 LibVLC/3.0.18",
	"Mozilla/5.0 (Smart TV; Linux) AppleWebKit/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"ExoPlayerLib/2.18.1",
}

// Template is a single entry in the registry: a host pattern (glob or
// regexp) paired with static headers and an optional per-URL derivation
// function for Origin/Referer.
type Template struct {
	Name        string
	HostPattern string
	Headers     map[string]string
	Derive      func(target *url.URL) map[string]string

	compiled *regexp.Regexp
}

// Registry holds an ordered list of templates; lookup is linear and the
// first match wins. The last entry should be a catch-all.
type Registry struct {
	templates []*Template
	cache     *xsync.MapOf[string, map[string]string]
}

// New builds a registry seeded with generic built-in templates (no
// source-specific CDN knowledge is available here) and compiles every
// host pattern up front.
func New() *Registry {
	r := &Registry{
		cache: xsync.NewMapOf[string, map[string]string](),
	}
	r.Register(&Template{
		Name:        "m3u8-hosts",
		HostPattern: `(?i).*\.m3u8\.[a-z]+$`,
		Headers:     map[string]string{"Accept": "*/*"},
	})
	r.Register(&Template{
		Name:        "generic-cdn",
		HostPattern: `(?i)^(cdn|media|stream)[0-9a-z.-]*$`,
		Headers:     map[string]string{"Accept": "*/*", "Connection": "keep-alive"},
	})
	r.Register(&Template{
		Name:        "catch-all",
		HostPattern: `^.*$`,
		Headers:     map[string]string{"Accept": "*/*", "Connection": "keep-alive"},
		Derive: func(target *url.URL) map[string]string {
			return map[string]string{
				"Origin":  target.Scheme + "://" + target.Host,
				"Referer": target.Scheme + "://" + target.Host + "/",
			}
		},
	})
	return r
}

// Register appends a template to the end of the ordered list, compiling its
// host pattern. Glob-style patterns (containing "*" and none of the
// characters ()[]{}|^$+?\) are translated to an anchored regexp in which
// "." is literal; anything else is compiled as-is.
func (r *Registry) Register(t *Template) {
	t.compiled = regexp.MustCompile(toRegexPattern(t.HostPattern))
	r.templates = append(r.templates, t)
}

func toRegexPattern(pattern string) string {
	if !looksLikeGlob(pattern) {
		return pattern
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return b.String()
}

func looksLikeGlob(pattern string) bool {
	return strings.Contains(pattern, "*") && !strings.ContainsAny(pattern, `()[]{}|^$+?\`)
}

// match finds the first template whose pattern matches hostname.
func (r *Registry) match(hostname string) *Template {
	for _, t := range r.templates {
		if t.compiled.MatchString(hostname) {
			return t
		}
	}
	return nil
}

// HeadersFor returns the synthesized header map for target, using the
// per-hostname cache when the template has no URL-dependent derivation.
// Templates with a Derive function are recomputed per call since their
// output depends on the full target URL, not just the host.
func (r *Registry) HeadersFor(target *url.URL) map[string]string {
	hostname := target.Hostname()
	t := r.match(hostname)
	if t == nil {
		return map[string]string{}
	}

	if t.Derive == nil {
		if cached, ok := r.cache.Load(hostname); ok {
			return cloneHeaders(cached)
		}
	}

	headers := cloneHeaders(t.Headers)
	if t.Derive != nil {
		for k, v := range t.Derive(target) {
			headers[k] = v
		}
	}
	headers["User-Agent"] = r.randomUserAgent()

	for k := range dropSet {
		delete(headers, strings.ToLower(k))
		for hk := range headers {
			if strings.ToLower(hk) == k {
				delete(headers, hk)
			}
		}
	}

	if t.Derive == nil {
		r.cache.Store(hostname, cloneHeaders(headers))
	}
	return headers
}

// randomUserAgent uses the math/rand package-level functions rather than a
// Registry-owned *rand.Rand: HeadersFor runs on one goroutine per exchange,
// and a shared *rand.Rand is not safe for concurrent use, while the
// top-level rand functions are.
func (r *Registry) randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
