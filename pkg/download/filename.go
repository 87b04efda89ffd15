package download

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// FilenameFromDisposition extracts the filename parameter of a Content-Disposition header.
// Malformed headers fall back to a plain "filename=" split, as browsers tolerate them.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := strings.Trim(params["filename"], `"'`); name != "" {
			return path.Base(strings.ReplaceAll(name, "\\", "/"))
		}
	}
	_, after, found := strings.Cut(header, "filename=")
	if !found {
		return ""
	}
	if i := strings.IndexByte(after, ';'); i >= 0 {
		after = after[:i]
	}
	return strings.Trim(strings.TrimSpace(after), `"'`)
}

// FilenameFromURL returns the percent-decoded last path segment of rawURL
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.EscapedPath())
	if base == "/" || base == "." {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		return decoded
	}
	return base
}

// DeriveFilename picks the destination name: Content-Disposition, then URL segment, then file_<unix>
func DeriveFilename(disposition, rawURL string, now time.Time) string {
	if name := utils.SanitizeFilename(FilenameFromDisposition(disposition)); name != "" {
		return name
	}
	if name := utils.SanitizeFilename(FilenameFromURL(rawURL)); name != "" {
		return name
	}
	return fmt.Sprintf("file_%d", now.Unix())
}
