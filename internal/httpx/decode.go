package httpx

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"mime"
	"strings"
)

// Decompress wraps rc according to the Content-Encoding value. Recognized
// encodings are gzip and deflate (zlib-wrapped, as produced by standard
// servers); anything else passes through untouched. The returned ReadCloser
// closes both the decompressor and the underlying body.
func Decompress(rc io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		zr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &decodedBody{r: zr, closers: []io.Closer{zr, rc}}, nil
	case "deflate":
		zr, err := zlib.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		return &decodedBody{r: zr, closers: []io.Closer{zr, rc}}, nil
	default:
		return rc, nil
	}
}

// IsJSON reports whether a Content-Type header value denotes a JSON body,
// including structured suffix types like application/problem+json.
func IsJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

type decodedBody struct {
	r       io.Reader
	closers []io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
