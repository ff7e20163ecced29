package models

// Basic metadata structures for movie details and images.

type Image struct {
	URL    string `json:"url"`
	Type   string `json:"type"` // poster, backdrop
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MovieDetails is the TMDB payload attached to a watched movie.
type MovieDetails struct {
	ID             string  `json:"id"` // tmdb:movie:<id>
	TMDBID         int64   `json:"tmdbId"`
	IMDBID         string  `json:"imdbId,omitempty"`
	Title          string  `json:"title"`
	OriginalTitle  string  `json:"originalTitle,omitempty"`
	Overview       string  `json:"overview"`
	Tagline        string  `json:"tagline,omitempty"`
	Year           int     `json:"year,omitempty"`
	ReleaseDate    string  `json:"releaseDate,omitempty"`
	RuntimeMinutes int     `json:"runtimeMinutes,omitempty"`
	Genres         []Genre `json:"genres,omitempty"`
	VoteAverage    float64 `json:"voteAverage,omitempty"`
	Popularity     float64 `json:"popularity,omitempty"`
	Language       string  `json:"language,omitempty"`
	Poster         *Image  `json:"poster,omitempty"`
	Backdrop       *Image  `json:"backdrop,omitempty"`
}
