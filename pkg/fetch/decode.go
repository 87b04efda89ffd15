package fetch

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody wraps resp body according to its Content-Encoding.
// Needed because requests set Accept-Encoding explicitly, which turns off net/http's transparent gzip.
// Closing the returned reader closes the underlying body.
func DecodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		return &decodedBody{Reader: gz, closers: []io.Closer{gz, body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, nil
	case "deflate":
		fl := flate.NewReader(body)
		return &decodedBody{Reader: fl, closers: []io.Closer{fl, body}}, nil
	default:
		return body, nil // Unknown coding, hand the bytes over as-is
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
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
