package subtitle

import (
	"strings"
	"testing"
)

func testOpts() Options {
	return Options{
		ProxyBaseURL: "https://proxy.example.com/",
		TargetURL:    "https://origin.example.com/subs/en.vtt",
		URLParamName: "url",
	}
}

func TestRewrite_NoImageReferencesUnchanged(t *testing.T) {
	in := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHello world\n"
	if out := Rewrite(in, testOpts()); out != in {
		t.Errorf("Rewrite() = %q, want the input unchanged when there are no image refs", out)
	}
}

func TestRewrite_RelativeImageReferenceProxied(t *testing.T) {
	in := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nthumb0001.jpg\n"
	out := Rewrite(in, testOpts())
	// The proxied value percent-encodes the resolved URL, which still ends in
	// "thumb0001.jpg", so check that the bare reference line is gone.
	if strings.Contains(out, "\nthumb0001.jpg\n") {
		t.Errorf("Rewrite() = %q, original reference should have been replaced", out)
	}
	if !strings.Contains(out, "https://proxy.example.com/?url=https%3A%2F%2Forigin.example.com%2Fsubs%2Fthumb0001.jpg") {
		t.Errorf("Rewrite() = %q, want a proxied URL substituted", out)
	}
}

func TestRewrite_DuplicateReferencesAllReplaced(t *testing.T) {
	in := "a.png b.png a.png"
	out := Rewrite(in, testOpts())
	pa := "https://proxy.example.com/?url=https%3A%2F%2Forigin.example.com%2Fsubs%2Fa.png"
	pb := "https://proxy.example.com/?url=https%3A%2F%2Forigin.example.com%2Fsubs%2Fb.png"
	if want := pa + " " + pb + " " + pa; out != want {
		t.Errorf("Rewrite() = %q, want every occurrence of every match replaced: %q", out, want)
	}
}

func TestRewrite_InvalidTargetURLReturnsInputUnmodified(t *testing.T) {
	in := "thumb.jpg"
	out := Rewrite(in, Options{ProxyBaseURL: "https://proxy.example.com/", TargetURL: "://not a url", URLParamName: "url"})
	if out != in {
		t.Errorf("Rewrite() = %q, want the unmodified input when the target URL fails to parse", out)
	}
}
