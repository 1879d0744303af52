// Package media defines the shared media item snapshot used by the rule
// evaluator, the scanner, and the Plex inventory client.
package media

import "time"

// Type represents the kind of library item a rule targets.
type Type string

const (
	TypeMovie    Type = "movie"
	TypeTVSeries Type = "tv_series"
	TypeEpisode  Type = "episode"
)

// Valid reports whether t is a known media type.
func (t Type) Valid() bool {
	switch t {
	case TypeMovie, TypeTVSeries, TypeEpisode:
		return true
	}
	return false
}

// Item is a point-in-time snapshot of one library item together with its
// watch metrics. RatingKey is the stable external identifier assigned by
// the media server.
type Item struct {
	RatingKey     string     `json:"ratingKey"`
	Type          Type       `json:"type"`
	Title         string     `json:"title"`
	Year          int        `json:"year,omitempty"`
	Poster        string     `json:"poster,omitempty"`
	PlayCount     int64      `json:"playCount"`
	FileSize      int64      `json:"fileSize"` // bytes
	Bitrate       int64      `json:"bitrate"`  // kbps
	Resolution    string     `json:"resolution,omitempty"`
	Genres        []string   `json:"genres,omitempty"`
	FilePath      string     `json:"filePath,omitempty"`
	AddedAt       time.Time  `json:"addedAt"`
	LastWatchedAt *time.Time `json:"lastWatchedAt,omitempty"` // nil = never watched
}
