package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

func testAppConfig() *config.AppConfig {
	cfg := config.NewDefaultConfig()
	cfg.PageJitterMin = 0
	cfg.PageJitterMax = 0
	cfg.MaxRetries = 0
	return &cfg
}

func newTestDirectFetcher(cfg *config.AppConfig) *DirectFetcher {
	requester := NewFetcher(testClient(), testPolicy(cfg.MaxRetries), testLogger())
	return NewDirectFetcher(requester, cfg, NewPacer(testLogger()), testLogger())
}

func TestDirectFetcher_ParsesAndSetsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/albums/", http.StatusFound)
	})
	mux.HandleFunc("/albums/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "navigate", r.Header.Get("Sec-Fetch-Mode"))
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><a href="one.html">One</a></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f := newTestDirectFetcher(testAppConfig())
	doc, err := f.Fetch(context.Background(), server.URL+"/old", nil)
	require.NoError(t, err)

	assert.Equal(t, "/albums/", doc.Url.Path, "document base must follow redirects")
	assert.Equal(t, 1, doc.Find("a").Length())
}

func TestDirectFetcher_DecodesCompressedBodies(t *testing.T) {
	page := `<html><body><a href="x.mp3">x</a></body></html>`

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write([]byte(page))
	gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write([]byte(page))
	bw.Close()

	bodies := map[string][]byte{"gzip": gz.Bytes(), "br": br.Bytes()}

	for encoding, body := range bodies {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				w.Write(body)
			}))
			t.Cleanup(server.Close)

			doc, err := newTestDirectFetcher(testAppConfig()).Fetch(context.Background(), server.URL, nil)
			require.NoError(t, err)
			href, _ := doc.Find("a").Attr("href")
			assert.Equal(t, "x.mp3", href)
		})
	}
}

func TestDirectFetcher_StatusErrorIsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	_, err := newTestDirectFetcher(testAppConfig()).Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetchFailure)
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	assert.Equal(t, "HTTP_404", utils.CategorizeError(err))
}

func TestBrowserFetcher_UsesHeldResource(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, 0, testLogger())
	f := NewBrowserFetcher(pool, testLogger())

	held := &fakeResource{id: "held", html: `<html><body><a href="/a.mp3">a</a></body></html>`}
	doc, err := f.Fetch(context.Background(), "http://example.com/dir/page", held)
	require.NoError(t, err)

	assert.Equal(t, "example.com", doc.Url.Host)
	assert.Equal(t, 1, doc.Find("a").Length())
	assert.Equal(t, int32(0), factory.created.Load(), "held resource must be used instead of the pool")
}

func TestBrowserFetcher_BorrowsAndReturnsResource(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, 0, testLogger())
	f := NewBrowserFetcher(pool, testLogger())

	_, err := f.Fetch(context.Background(), "http://example.com/", nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "http://example.com/", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), factory.created.Load())
	assert.Equal(t, 1, pool.Stats().Idle)
	assert.Equal(t, 0, pool.Stats().CheckedOut)
}

func TestBrowserFetcher_RenderFailure(t *testing.T) {
	pool := NewResourcePool((&fakeFactory{}).New, 1, 0, testLogger())
	f := NewBrowserFetcher(pool, testLogger())

	res := &fakeResource{id: "r", renderFn: func(string) (string, error) {
		return "", errors.New("wait for body: context deadline exceeded")
	}}
	_, err := f.Fetch(context.Background(), "http://example.com/", res)
	assert.ErrorIs(t, err, utils.ErrFetchFailure)
}

func TestBrowserFetcher_PoolExhausted(t *testing.T) {
	factory := &fakeFactory{}
	factory.fail.Store(true)
	f := NewBrowserFetcher(NewResourcePool(factory.New, 1, 0, testLogger()), testLogger())

	_, err := f.Fetch(context.Background(), "http://example.com/", nil)
	assert.ErrorIs(t, err, utils.ErrResourceUnavailable)
}

func TestNewPageFetcher_Modes(t *testing.T) {
	cfg := testAppConfig()
	requester := NewFetcher(testClient(), testPolicy(0), testLogger())

	f, err := NewPageFetcher(models.FetchModeDirect, cfg, requester, nil, testLogger())
	require.NoError(t, err)
	assert.Nil(t, f.Pool())

	_, err = NewPageFetcher(models.FetchModeChrome, cfg, requester, nil, testLogger())
	assert.ErrorIs(t, err, utils.ErrSetupFailure)

	pool := NewResourcePool((&fakeFactory{}).New, 1, 0, testLogger())
	f, err = NewPageFetcher(models.FetchModeChrome, cfg, requester, pool, testLogger())
	require.NoError(t, err)
	assert.Same(t, pool, f.Pool())

	_, err = NewPageFetcher(models.FetchModeFirefox, cfg, requester, pool, testLogger())
	assert.ErrorIs(t, err, utils.ErrSetupFailure)
	assert.True(t, utils.IsFatal(err))
}

func TestDecodeBody_IdentityAndUnknown(t *testing.T) {
	for _, enc := range []string{"", "identity", "zstd"} {
		body, err := DecodeBody(io.NopCloser(strings.NewReader("plain")), enc)
		require.NoError(t, err)
		b, _ := io.ReadAll(body)
		assert.Equal(t, "plain", string(b), "encoding %q", enc)
	}

	_, err := DecodeBody(io.NopCloser(strings.NewReader("not gzip")), "gzip")
	assert.Error(t, err)
}
