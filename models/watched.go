package models

import "time"

// WatchedRating is the user's verdict recorded alongside a watched movie.
type WatchedRating string

const (
	RatingNone     WatchedRating = ""
	RatingDisliked WatchedRating = "disliked"
	RatingGood     WatchedRating = "good"
	RatingLoved    WatchedRating = "loved"
)

// WatchedMovieRecord is a base entry returned by the watched-movie backend.
type WatchedMovieRecord struct {
	ID        string        `json:"id,omitempty"`
	TMDBID    int64         `json:"tmdbId"`
	Title     string        `json:"title,omitempty"`
	Rating    WatchedRating `json:"rating,omitempty"`
	Mood      string        `json:"mood,omitempty"`
	WatchedAt *time.Time    `json:"watchedAt,omitempty"` // nil when the backend sent none
}

// EnrichedWatchedMovie is a watched record merged with its TMDB details.
// FullDetails is nil when the lookup failed for this record.
type EnrichedWatchedMovie struct {
	WatchedMovieRecord
	FullDetails *MovieDetails `json:"fullDetails"`
}

// LoadState is the snapshot exposed to the view layer.
type LoadState struct {
	Items      []EnrichedWatchedMovie `json:"items"`
	Loading    bool                   `json:"loading"`
	Error      *string                `json:"error"`
	Username   string                 `json:"username,omitempty"`
	Generation uint64                 `json:"generation"`
	UpdatedAt  *time.Time             `json:"updatedAt,omitempty"` // nil until a cycle commits
}

// HasError reports whether the last finished cycle failed.
func (s LoadState) HasError() bool {
	return s.Error != nil && *s.Error != ""
}

// Clone returns a copy whose Items slice does not alias the receiver's.
func (s LoadState) Clone() LoadState {
	out := s
	if s.Items != nil {
		out.Items = make([]EnrichedWatchedMovie, len(s.Items))
		copy(out.Items, s.Items)
	}
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	if s.UpdatedAt != nil {
		at := *s.UpdatedAt
		out.UpdatedAt = &at
	}
	return out
}
