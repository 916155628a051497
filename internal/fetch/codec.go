package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// Decompress tries to decompress data according to the declared
// Content-Encoding. Servers behind CDNs routinely misdeclare the encoding, so
// every matching codec is tried in order and a failure falls through to the
// next one. If nothing applies or everything fails, the input bytes are
// returned unchanged; Decompress never errors.
func Decompress(data []byte, contentEncoding string) []byte {
	enc := strings.ToLower(contentEncoding)
	if enc == "" || len(data) == 0 {
		return data
	}

	if strings.Contains(enc, "gzip") {
		if out, err := gunzip(data); err == nil {
			return out
		}
	}
	if strings.Contains(enc, "br") {
		if out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data))); err == nil {
			return out
		}
	}
	if strings.Contains(enc, "deflate") {
		if out, err := inflateZlib(data); err == nil {
			return out
		}
		// Some servers send raw deflate streams without the zlib framing.
		if out, err := inflateRaw(data); err == nil {
			return out
		}
	}
	return data
}

// SniffDecompress attempts decompression without trusting any declared
// encoding, keyed off magic bytes where possible. Used when a 200 response
// carries a suspicious (near-empty or binary-looking) payload.
func SniffDecompress(data []byte) []byte {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		if out, err := gunzip(data); err == nil {
			return out
		}
	}
	if len(data) >= 1 && data[0] == 0x78 {
		if out, err := inflateZlib(data); err == nil {
			return out
		}
	}
	if out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data))); err == nil && len(out) > 0 {
		return out
	}
	if out, err := inflateRaw(data); err == nil && len(out) > 0 {
		return out
	}
	return data
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflateRaw(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// decodeLadder holds the fallback encodings tried when no charset is declared
// or the declared one fails. ISO 8859-1 maps every byte to a rune, so the
// ladder cannot run out.
var decodeLadder = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// Decode converts response bytes to text. A declared charset is tried first;
// otherwise valid UTF-8 is taken as-is and the remaining encodings are walked
// in order. Decode never fails: the last rung can decode any byte sequence.
func Decode(data []byte, charset string) string {
	if charset != "" {
		if enc, err := htmlindex.Get(strings.ToLower(charset)); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				return string(out)
			}
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	for _, enc := range decodeLadder {
		if out, err := enc.NewDecoder().Bytes(data); err == nil {
			return string(out)
		}
	}
	return string(data)
}

// charsetFromContentType extracts the charset parameter from a Content-Type
// header value, or "" when absent or unparsable.
func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}
