package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
)

// NewClient creates the HTTP client shared by page fetches and downloads.
// It has no overall Timeout: page fetches bound themselves per request and downloads
// stream for as long as the body keeps arriving.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	log.Debug("Initializing HTTP client...")

	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		ResponseHeaderTimeout:  cfg.Timeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			// Explicit headers are not copied across hosts by net/http; keep the browser-like set
			for k, v := range via[0].Header {
				if _, ok := req.Header[k]; !ok {
					req.Header[k] = v
				}
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
