package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompressRoundTrips(t *testing.T) {
	t.Parallel()

	original := []byte("<html><body>Breestraat 12, Leiden — € 1450 per month</body></html>")

	cases := []struct {
		name     string
		encoding string
		payload  []byte
	}{
		{"gzip", "gzip", gzipBytes(t, original)},
		{"brotli", "br", brotliBytes(t, original)},
		{"zlib deflate", "deflate", zlibBytes(t, original)},
		{"raw deflate", "deflate", rawDeflateBytes(t, original)},
		{"gzip with charset suffix", "gzip, identity", gzipBytes(t, original)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, original, Decompress(tc.payload, tc.encoding))
		})
	}
}

func TestDecompressDegradesToInput(t *testing.T) {
	t.Parallel()

	garbage := []byte{0xde, 0xad, 0xbe, 0xef}
	require.Equal(t, garbage, Decompress(garbage, "gzip"))
	require.Equal(t, garbage, Decompress(garbage, ""))

	plain := []byte("not compressed at all")
	require.Equal(t, plain, Decompress(plain, "br"))
}

func TestSniffDecompressFindsGzipWithoutHeader(t *testing.T) {
	t.Parallel()

	original := []byte("page content that the server gzipped but never declared")
	require.Equal(t, original, SniffDecompress(gzipBytes(t, original)))
	require.Equal(t, original, SniffDecompress(zlibBytes(t, original)))
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	text := "Geméubileerde studio in Leiden — €1.250"
	payload := gzipBytes(t, []byte(text))
	require.Equal(t, text, Decode(Decompress(payload, "gzip"), "utf-8"))
}

func TestDecodeDeclaredCharset(t *testing.T) {
	t.Parallel()

	// "Molenstraat" with an e-acute, encoded as Latin-1.
	enc, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("Molenstraat één"))
	require.NoError(t, err)
	require.Equal(t, "Molenstraat één", Decode(enc, "iso-8859-1"))
}

func TestDecodeNeverFails(t *testing.T) {
	t.Parallel()

	// Invalid UTF-8 with a bogus declared charset still decodes.
	data := []byte{0xff, 0xfe, 0x41, 0x80}
	out := Decode(data, "definitely-not-a-charset")
	require.NotEmpty(t, out)

	out = Decode(data, "")
	require.NotEmpty(t, out)
}

func TestCharsetFromContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "utf-8", charsetFromContentType("text/html; charset=UTF-8"))
	require.Equal(t, "iso-8859-1", charsetFromContentType("text/html; charset=ISO-8859-1"))
	require.Equal(t, "", charsetFromContentType("text/html"))
	require.Equal(t, "", charsetFromContentType(""))
}
