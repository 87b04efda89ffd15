package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError  = errors.New("other HTTP error (non-2xx)")

	ErrFetchFailure        = errors.New("page fetch failed")                 // Network, status, parse or render failure for a page
	ErrResourceUnavailable = errors.New("no fetch resource available")       // Pool at capacity and creation failed or not allowed
	ErrDownloadFailure     = errors.New("download failed")                   // Transfer or write error in the download sink
	ErrSetupFailure        = errors.New("required fetch capability missing") // Fatal, aborts the run
	ErrConfigValidation    = errors.New("configuration validation error")

	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrPoolClosed       = errors.New("resource pool closed")
)

// IsFatal reports whether err must abort the whole run rather than a single task
func IsFatal(err error) bool {
	return errors.Is(err, ErrSetupFailure) || errors.Is(err, ErrConfigValidation)
}

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrSetupFailure):
		return "Setup_CapabilityMissing"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrPoolClosed):
		return "Resource_PoolClosed"
	case errors.Is(err, ErrResourceUnavailable):
		return "Resource_Unavailable"
	case errors.Is(err, ErrRetryFailed):
		return categorizeRetryFailure(err)
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"404", "403", "401", "429"} {
			if strings.Contains(errMsg, "status "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	if category := categorizeNetwork(err); category != "" {
		return "Network_" + category
	}

	// Bare fetch/download sentinels without a more specific cause
	if errors.Is(err, ErrFetchFailure) {
		return "Fetch_Other"
	}
	if errors.Is(err, ErrDownloadFailure) {
		return "Download_Other"
	}
	return "Unknown"
}

func categorizeRetryFailure(underlying error) string {
	if underlying == nil {
		return "RetryFailed_Unknown"
	}
	if errors.Is(underlying, ErrServerHTTPError) {
		return "RetryFailed_HTTPServer"
	}
	if errors.Is(underlying, ErrClientHTTPError) {
		return "RetryFailed_HTTPClient"
	}
	if category := categorizeNetwork(underlying); category != "" {
		return "RetryFailed_" + category
	}
	return "RetryFailed_NetworkOther"
}

// categorizeNetwork returns "" when err does not look like a network error
func categorizeNetwork(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"), strings.Contains(lowerErrMsg, "deadline exceeded"):
		return "Timeout"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "DNSLookup"
	case strings.Contains(lowerErrMsg, "tls"), strings.Contains(lowerErrMsg, "certificate"):
		return "TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "BrokenPipe"
	}
	return ""
}
