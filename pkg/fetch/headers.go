package fetch

import "net/http"

// DefaultUserAgent is a current desktop Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PageHeaders returns the header set a desktop browser sends for a top-level navigation
func PageHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	return h
}

// DownloadHeaders returns the header set used for file transfers linked from a crawled page
func DownloadHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}

// NewRequest builds a request carrying a copy of headers
func NewRequest(method, rawURL string, headers http.Header) (*http.Request, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	return req, nil
}
