// Package playlist walks an HLS manifest and replaces every nested resource
// reference with a proxied URL so players keep flowing traffic back through
// this proxy.
//
// grafov/m3u8 (github.com/grafov/m3u8) is attempted first as a structural
// validity gate — a manifest grafov can decode into a MasterPlaylist or
// MediaPlaylist is known-good HLS, attribute-aware access and all. The
// actual substitution pass still walks the raw text line by line with a
// bufio.Scanner, the same way a master-playlist scanner reads line by
// line: every output line must be either byte-identical to the input or
// exactly
// "<proxyBase>?<param>=<encoded>", which only a line-preserving rewrite can
// guarantee; each line keeps its original line ending. When grafov's decode
// fails or panics (a manifest it rejects but that still opens with #EXTM3U),
// the identical line-scanning path serves as the fallback.
package playlist

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"mediaproxy/internal/logger"
)

// Options configures a single rewrite pass.
type Options struct {
	ProxyBaseURL        string
	TargetURL           string
	URLParamName        string
	PreserveQueryParams bool
}

// uriAttrTags carries a URI attribute and needs attribute-aware resolution
// rather than whole-line replacement.
var uriAttrTags = []string{
	"#EXT-X-KEY:",
	"#EXT-X-MAP:",
	"#EXT-X-MEDIA:",
	"#EXT-X-I-FRAME-STREAM-INF:",
}

// Rewrite transforms m3u8Text, replacing nested URI references with proxied
// equivalents. If the input does not contain #EXTM3U (case-insensitive), it
// is returned unchanged with a logged warning.
func Rewrite(m3u8Text string, opts Options) string {
	if !strings.Contains(strings.ToUpper(m3u8Text), "#EXTM3U") {
		logger.Warn("{playlist - Rewrite} input lacks #EXTM3U, passing through unchanged")
		return m3u8Text
	}

	decodeErr := func() (err error) {
		// grafov panics on some malformed manifests (e.g. a URI attribute tag
		// before any segment); treat that as an ordinary decode failure.
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("decoder panic: %v", rec)
			}
		}()
		_, _, err = m3u8.DecodeFrom(strings.NewReader(m3u8Text), true)
		return err
	}()
	if decodeErr != nil {
		logger.Debug("{playlist - Rewrite} grafov decode failed, falling back to line scanner: %v", decodeErr)
	}

	base, err := url.Parse(opts.TargetURL)
	if err != nil {
		logger.Warn("{playlist - Rewrite} cannot parse target URL %s: %v", opts.TargetURL, err)
		return m3u8Text
	}

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(m3u8Text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// Split after each "\n" so every token keeps its own line ending ("\n",
	// "\r\n", or none on a final unterminated line).
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			return i + 1, data[:i+1], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	})

	expectURILine := false
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimRight(raw, "\r\n")

		rewritten, nextExpectsURI := rewriteLine(line, base, opts, expectURILine)
		out.WriteString(rewritten)
		out.WriteString(raw[len(line):])
		expectURILine = nextExpectsURI
	}

	return out.String()
}

func rewriteLine(line string, base *url.URL, opts Options, expectURILine bool) (string, bool) {
	trimmed := strings.TrimSpace(line)

	if tag, ok := uriAttrTag(trimmed); ok {
		return rewriteAttrLine(line, tag, base, opts), false
	}

	if strings.HasPrefix(trimmed, "#EXTINF:") {
		return line, true
	}

	if expectURILine && trimmed != "" && !strings.HasPrefix(trimmed, "#") {
		return proxyURL(resolve(base, trimmed), opts), false
	}

	if !strings.HasPrefix(trimmed, "#") && trimmed != "" && looksLikeStandaloneURI(trimmed) {
		// Master-playlist variant URIs follow #EXT-X-STREAM-INF rather than
		// #EXTINF; treat any non-tag, non-empty line as a URI candidate when
		// it wasn't already claimed by the EXTINF lookahead above.
		return proxyURL(resolve(base, trimmed), opts), false
	}

	return line, false
}

func looksLikeStandaloneURI(s string) bool {
	return !strings.Contains(s, " ") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func uriAttrTag(line string) (string, bool) {
	for _, tag := range uriAttrTags {
		if strings.HasPrefix(line, tag) {
			return tag, true
		}
	}
	return "", false
}

// rewriteAttrLine resolves and replaces the URI="..." attribute on a tag
// line, leaving every other attribute untouched.
func rewriteAttrLine(line, tag string, base *url.URL, opts Options) string {
	const attrKey = "URI=\""
	idx := strings.Index(line, attrKey)
	if idx == -1 {
		return line
	}
	start := idx + len(attrKey)
	end := strings.Index(line[start:], "\"")
	if end == -1 {
		return line
	}
	end += start

	original := line[start:end]
	proxied := proxyURL(resolve(base, original), opts)

	return line[:start] + proxied + line[end:]
}

func resolve(base *url.URL, ref string) string {
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}

func proxyURL(absoluteURL string, opts Options) string {
	v := url.Values{}
	v.Set(opts.URLParamName, absoluteURL)
	return opts.ProxyBaseURL + "?" + v.Encode()
}
