package models

// MediaType represents the type of media (movie, episode or show)
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeShow    MediaType = "show"
)

// WatchStatus tells whether a match has been checked against the remote history
type WatchStatus int

const (
	WatchUnknown WatchStatus = iota // not checked yet, always triggers a remote check
	WatchAbsent                     // checked, no record in the remote history
	WatchPresent                    // checked, WatchedAt holds the remote record time
)

// UpdateKind distinguishes the two ways items are folded back into a sync store
type UpdateKind string

const (
	UpdateRefresh UpdateKind = "refresh" // full reload of already loaded items
	UpdateConfirm UpdateKind = "confirm" // incremental confirmation after a commit
)

// CorrectionSource represents who supplied a correction
type CorrectionSource string

const (
	CorrectionSourceUser  CorrectionSource = "user"
	CorrectionSourceCrowd CorrectionSource = "crowd"
)
