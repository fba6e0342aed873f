// Package decompress decodes a response body across gzip, deflate, zstd,
// and brotli behind a single call, auto-detecting by magic bytes when no
// encoding is declared and falling back across codecs on failure. It uses
// klauspost/compress for gzip/flate/zstd and andybalholm/brotli for brotli,
// matching how other HLS/DASH proxies in the wild decode
// Content-Encoding: br with that exact package.
package decompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding identifies a content-encoding the engine knows how to decode.
type Encoding string

const (
	None    Encoding = ""
	Gzip    Encoding = "gzip"
	Brotli  Encoding = "br"
	Zstd    Encoding = "zstd"
	Deflate Encoding = "deflate"
)

var fallbackOrder = []Encoding{Zstd, Gzip, Brotli, Deflate}

var (
	gzipMagic = []byte{0x1F, 0x8B}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// Decompress decodes input according to declared, which may be empty, in
// which case the input is auto-detected by magic bytes, falling through to
// brotli then deflate for formats without reliable magic. On total failure
// the original bytes are returned unchanged and ok is false, letting the
// caller decide whether to trust them as-is (the pipeline's policy is
// silent pass-through with a logged warning).
func Decompress(input []byte, declared Encoding) (out []byte, usedEncoding Encoding, ok bool) {
	if declared != None {
		if decoded, err := decodeWith(input, declared); err == nil {
			return decoded, declared, true
		}
		for _, enc := range fallbackOrder {
			if enc == declared {
				continue
			}
			if decoded, err := decodeWith(input, enc); err == nil {
				return decoded, enc, true
			}
		}
		return input, None, false
	}

	detected := detectByMagic(input)
	if detected != None {
		if decoded, err := decodeWith(input, detected); err == nil {
			return decoded, detected, true
		}
	}

	for _, enc := range []Encoding{Brotli, Deflate} {
		if decoded, err := decodeWith(input, enc); err == nil {
			return decoded, enc, true
		}
	}

	return input, None, false
}

func detectByMagic(input []byte) Encoding {
	if bytes.HasPrefix(input, gzipMagic) {
		return Gzip
	}
	if bytes.HasPrefix(input, zstdMagic) {
		return Zstd
	}
	return None
}

func decodeWith(input []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(input))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(input))
		defer r.Close()
		return io.ReadAll(r)
	case Zstd:
		r, err := zstd.NewReader(bytes.NewReader(input))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(input))
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("decompress: unknown encoding %q", enc)
	}
}

// ParseEncoding maps a Content-Encoding header value to an Encoding,
// returning None for anything unrecognized.
func ParseEncoding(header string) Encoding {
	switch header {
	case "gzip", "x-gzip":
		return Gzip
	case "br":
		return Brotli
	case "zstd":
		return Zstd
	case "deflate":
		return Deflate
	default:
		return None
	}
}
