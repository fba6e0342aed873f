package playlist

import (
	"strings"
	"testing"
)

func testOpts() Options {
	return Options{
		ProxyBaseURL: "https://proxy.example.com/",
		TargetURL:    "https://origin.example.com/live/index.m3u8",
		URLParamName: "url",
	}
}

func TestRewrite_NonManifestPassesThroughUnchanged(t *testing.T) {
	in := "not a playlist at all"
	if out := Rewrite(in, testOpts()); out != in {
		t.Errorf("Rewrite() = %q, want the input returned unchanged", out)
	}
}

func TestRewrite_MediaPlaylistSegmentsProxied(t *testing.T) {
	in := "#EXTM3U\n#EXTINF:10,\nsegment0.ts\n#EXTINF:10,\nsegment1.ts\n#EXT-X-ENDLIST"
	out := Rewrite(in, testOpts())

	lines := strings.Split(out, "\n")
	if lines[0] != "#EXTM3U" {
		t.Fatalf("first line = %q, want #EXTM3U preserved byte-identical", lines[0])
	}
	if !strings.HasPrefix(lines[2], "https://proxy.example.com/?url=") {
		t.Errorf("segment line = %q, want a proxied URL", lines[2])
	}
	if !strings.Contains(lines[2], "segment0.ts") {
		t.Errorf("proxied URL %q does not reference the resolved segment", lines[2])
	}
	if lines[len(lines)-1] != "#EXT-X-ENDLIST" {
		t.Errorf("last line = %q, want #EXT-X-ENDLIST preserved byte-identical", lines[len(lines)-1])
	}
}

func TestRewrite_MasterPlaylistVariantURIsProxied(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nlow/index.m3u8\n"
	out := Rewrite(in, testOpts())

	if !strings.Contains(out, "https://proxy.example.com/?url=") {
		t.Errorf("Rewrite() = %q, want the variant URI proxied", out)
	}
	if !strings.Contains(out, "low%2Findex.m3u8") && !strings.Contains(out, "low/index.m3u8") {
		t.Errorf("Rewrite() = %q, want the resolved variant URL present somewhere in the proxied value", out)
	}
}

func TestRewrite_KeyURIAttributeRewrittenInPlace(t *testing.T) {
	in := `#EXTM3U` + "\n" + `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x00` + "\n" + `segment0.ts`
	out := Rewrite(in, testOpts())

	lines := strings.Split(out, "\n")
	keyLine := lines[1]
	if !strings.HasPrefix(keyLine, "#EXT-X-KEY:METHOD=AES-128,URI=\"") {
		t.Fatalf("key line = %q, want the tag and METHOD attribute preserved", keyLine)
	}
	if !strings.Contains(keyLine, "https://proxy.example.com/") {
		t.Errorf("key line = %q, want the URI attribute rewritten", keyLine)
	}
	if !strings.HasSuffix(keyLine, `",IV=0x00`) {
		t.Errorf("key line = %q, want the trailing IV attribute preserved untouched", keyLine)
	}
}

func TestRewrite_AbsoluteSegmentURIPassedThroughProxy(t *testing.T) {
	in := "#EXTM3U\n#EXTINF:10,\nhttps://other.example.com/segment0.ts\n"
	out := Rewrite(in, testOpts())
	if !strings.Contains(out, "other.example.com") {
		t.Errorf("Rewrite() = %q, want the absolute segment URL preserved through resolution", out)
	}
}
