package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"SetupFailure", ErrSetupFailure, "Setup_CapabilityMissing"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ResourceUnavailable", ErrResourceUnavailable, "Resource_Unavailable"},
		{"PoolClosed", ErrPoolClosed, "Resource_PoolClosed"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"ClientHTTPError", ErrClientHTTPError, "HTTP_4xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"FetchFailure", ErrFetchFailure, "Fetch_Other"},
		{"DownloadFailure", ErrDownloadFailure, "Download_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "FetchWrapping404",
			err:      fmt.Errorf("%w: %w: status 404 Not Found", ErrFetchFailure, ErrClientHTTPError),
			expected: "HTTP_404",
		},
		{
			name:     "RetryFailedServer",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)),
			expected: "RetryFailed_HTTPServer",
		},
		{
			name:     "RetryFailedConnectionRefused",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused")),
			expected: "RetryFailed_ConnectionRefused",
		},
		{
			name:     "DownloadPermission",
			err:      fmt.Errorf("%w: %w: %w", ErrDownloadFailure, ErrFilesystem, os.ErrPermission),
			expected: "Filesystem_Permission",
		},
		{
			name:     "ResourceWrappingCreation",
			err:      fmt.Errorf("%w: creating browser: exec: not found", ErrResourceUnavailable),
			expected: "Resource_Unavailable",
		},
		{
			name:     "ParsingHTML",
			err:      fmt.Errorf("%w: parsing HTML from page", ErrParsing),
			expected: "Content_ParsingHTML",
		},
		{
			name:     "ContextCanceled",
			err:      fmt.Errorf("%w: %w", ErrFetchFailure, context.Canceled),
			expected: "System_ContextCanceled",
		},
		{
			name:     "DownloadTimeout",
			err:      fmt.Errorf("%w: read: i/o timeout", ErrDownloadFailure),
			expected: "Network_Timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("chrome: %w", ErrSetupFailure)) {
		t.Error("wrapped ErrSetupFailure should be fatal")
	}
	if IsFatal(fmt.Errorf("%w: 404", ErrFetchFailure)) {
		t.Error("fetch failures are contained per task")
	}
	if IsFatal(ErrResourceUnavailable) {
		t.Error("resource failures are contained per task")
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"track01.mp3", "track01.mp3"},
		{"My Song (Live).flac", "My Song (Live).flac"},
		{`a<b>c:d"e/f\g|h?i*j.mp3`, "a_b_c_d_e_f_g_h_i_j.mp3"},
		{"  spaced.ogg  ", "spaced.ogg"},
		{"tab\tname.mp3", "tab_name.mp3"},
		{"", ""},
		{".", ""},
		{"..", ""},
		{"   ", ""},
		{"日本語.mp3", "日本語.mp3"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename_TruncateKeepsExtension(t *testing.T) {
	long := strings.Repeat("ü", 150) + ".mp3" // 300 bytes of stem
	got := SanitizeFilename(long)

	if len(got) > maxFilenameLength {
		t.Fatalf("expected at most %d bytes, got %d", maxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".mp3") {
		t.Errorf("extension lost: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}
