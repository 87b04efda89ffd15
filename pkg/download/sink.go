// Package download persists matched links to the output directory.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/fetch"
	applog "github.com/Sriram-PR/recursive-dl/pkg/log"
	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

const headTimeout = 30 * time.Second

// Sink downloads files, skipping destinations that already exist
type Sink struct {
	requester    fetch.Requester
	client       *http.Client // HEAD probes, not retried
	headers      http.Header
	timeout      time.Duration
	showProgress bool
	console      *applog.Console
	locks        *KeyLock
	log          *logrus.Entry
	now          func() time.Time
}

// NewSink creates a Sink. client is used for the HEAD filename lookup, requester for the transfer.
func NewSink(requester fetch.Requester, client *http.Client, cfg *config.AppConfig, console *applog.Console, log *logrus.Entry) *Sink {
	sinkLog := log.WithField("component", "download")
	return &Sink{
		requester:    requester,
		client:       client,
		headers:      fetch.DownloadHeaders(cfg.UserAgent),
		timeout:      cfg.DownloadTimeout,
		showProgress: cfg.ShowProgress,
		console:      console,
		locks:        NewKeyLock(sinkLog),
		log:          sinkLog,
		now:          time.Now,
	}
}

// Download saves rawURL into outputDir.
// An existing destination counts as success without a transfer. Failures wrap ErrDownloadFailure.
func (s *Sink) Download(ctx context.Context, rawURL, outputDir string) (models.DownloadStatus, error) {
	dlLog := s.log.WithField("url", rawURL)

	if s.console.Verbose() {
		s.console.Printf("Getting file info for: %s", FilenameFromURL(rawURL))
	}
	name := DeriveFilename(s.probeDisposition(ctx, rawURL, dlLog), rawURL, s.now())

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return s.fail(name, dlLog, fmt.Errorf("%w: %w: create %s: %w", utils.ErrDownloadFailure, utils.ErrFilesystem, outputDir, err))
	}
	dest := filepath.Join(outputDir, name)

	if err := s.locks.Lock(ctx, dest); err != nil {
		return s.fail(name, dlLog, fmt.Errorf("%w: %w", utils.ErrDownloadFailure, err))
	}
	defer s.locks.Unlock(dest)

	if _, err := os.Stat(dest); err == nil {
		s.console.Printf("✓ %s", name)
		dlLog.WithField("path", dest).Debug("Destination exists, skipping")
		return models.DownloadStatusExists, nil
	}

	s.console.Printf("⬇ %s", name)
	written, err := s.transfer(ctx, rawURL, dest, name)
	if err != nil {
		return s.fail(name, dlLog, err)
	}
	dlLog.WithFields(logrus.Fields{"path": dest, "bytes": written}).Debug("Saved")
	return models.DownloadStatusSaved, nil
}

func (s *Sink) fail(name string, dlLog *logrus.Entry, err error) (models.DownloadStatus, error) {
	s.console.Printf("✗ Failed: %s - %v", name, err)
	dlLog.WithError(err).WithField("error_type", utils.CategorizeError(err)).Warn("Download failed")
	return models.DownloadStatusFailure, err
}

// probeDisposition issues a HEAD request and returns Content-Disposition, "" on any failure
func (s *Sink) probeDisposition(ctx context.Context, rawURL string, dlLog *logrus.Entry) string {
	req, err := fetch.NewRequest(http.MethodHead, rawURL, s.headers)
	if err != nil {
		return ""
	}
	headCtx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	resp, err := s.client.Do(req.WithContext(headCtx))
	if err != nil {
		dlLog.WithError(err).Debug("HEAD request failed, naming from URL")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ""
	}
	return resp.Header.Get("Content-Disposition")
}

// transfer streams the body into a temp file beside dest and renames it into place
func (s *Sink) transfer(ctx context.Context, rawURL, dest, name string) (int64, error) {
	req, err := fetch.NewRequest(http.MethodGet, rawURL, s.headers)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrRequestCreation, err)
	}

	// timeout bounds silence on the connection, not the whole transfer
	getCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stall *time.Timer
	if s.timeout > 0 {
		stall = time.AfterFunc(s.timeout, cancel)
		defer stall.Stop()
	}

	resp, err := s.requester.FetchWithRetry(getCtx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", utils.ErrDownloadFailure, err)
	}
	if stall != nil {
		resp.Body = &stallReader{ReadCloser: resp.Body, timer: stall, timeout: s.timeout}
	}
	body, err := fetch.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrResponseBodyRead, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	if s.showProgress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(s.console.Writer()),
			progressbar.OptionSetDescription(name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(tmp, bar)
	}

	written, copyErr := io.Copy(w, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return written, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrResponseBodyRead, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrFilesystem, closeErr)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return written, fmt.Errorf("%w: %w: %w", utils.ErrDownloadFailure, utils.ErrFilesystem, err)
	}
	committed = true
	return written, nil
}

// stallReader pushes the stall deadline back every time bytes arrive
type stallReader struct {
	io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func (r *stallReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
