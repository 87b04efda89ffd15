package models

// Stage is the state of a crawl task as it moves through the dispatcher
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageResolving   Stage = "resolving"
	StageEmpty       Stage = "empty"       // No links matched, contributes 0
	StageRecursing   Stage = "recursing"   // Delegates to child tasks and sums them
	StageDownloading Stage = "downloading" // Delegates each link to the download sink
	StageFailed      Stage = "failed"      // Fetch or resource failure, contributes 0
)

// String implements fmt.Stringer for logging
func (s Stage) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// DownloadStatus describes a successful download sink call
type DownloadStatus string

const (
	DownloadStatusUnset   DownloadStatus = ""
	DownloadStatusSaved   DownloadStatus = "saved"   // Body streamed to disk
	DownloadStatusExists  DownloadStatus = "exists"  // Destination present, transfer skipped
	DownloadStatusFailure DownloadStatus = "failure" // Returned together with a non-nil error
)

// String implements fmt.Stringer for logging
func (s DownloadStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// Succeeded reports whether the status counts towards the download total
func (s DownloadStatus) Succeeded() bool {
	return s == DownloadStatusSaved || s == DownloadStatusExists
}
