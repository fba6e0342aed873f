// Package subtitle rewrites image references embedded in WebVTT subtitle
// text (thumbnail cues, image-based captions) so they route back through
// the proxy, using the same ResolveReference-based URL resolution as
// internal/playlist and grafana/regexp, compiled once at package init, for
// the match.
package subtitle

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"

	"mediaproxy/internal/logger"
)

// imagePattern matches a bare image reference by extension, deliberately
// loose since VTT cue payloads carry arbitrary surrounding text.
var imagePattern = regexp.MustCompile(`(?i)[^\s"']+?\.(jpg|jpeg|png|gif|webp)`)

// Options configures a single rewrite pass.
type Options struct {
	ProxyBaseURL string
	TargetURL    string
	URLParamName string
}

// Rewrite replaces every image reference in vttText with a proxied URL. If
// the target URL fails to parse, the input is returned unmodified.
func Rewrite(vttText string, opts Options) string {
	base, err := url.Parse(opts.TargetURL)
	if err != nil {
		logger.Warn("{subtitle - Rewrite} cannot parse target URL %s: %v", opts.TargetURL, err)
		return vttText
	}

	matches := dedupe(imagePattern.FindAllString(vttText, -1))
	if len(matches) == 0 {
		return vttText
	}

	out := vttText
	for _, ref := range matches {
		rel, err := url.Parse(ref)
		if err != nil {
			continue
		}
		absolute := base.ResolveReference(rel).String()
		proxied := proxyURL(absolute, opts)
		out = strings.ReplaceAll(out, ref, proxied)
	}
	return out
}

func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func proxyURL(absoluteURL string, opts Options) string {
	v := url.Values{}
	v.Set(opts.URLParamName, absoluteURL)
	return opts.ProxyBaseURL + "?" + v.Encode()
}
