package plex

// LibrarySection is one library on the Plex server.
type LibrarySection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"` // "movie" or "show"
}

// mediaContainer is the envelope Plex wraps around every response.
type mediaContainer struct {
	MediaContainer struct {
		Size      int             `json:"size"`
		TotalSize int             `json:"totalSize"`
		Directory []sectionEntry  `json:"Directory"`
		Metadata  []metadataEntry `json:"Metadata"`
	} `json:"MediaContainer"`
}

type sectionEntry struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// metadataEntry is one item row from /library/sections/{key}/all or
// /library/metadata/{key}. Fields we never read are omitted.
type metadataEntry struct {
	RatingKey    string       `json:"ratingKey"`
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Year         int          `json:"year"`
	Thumb        string       `json:"thumb"`
	ViewCount    int64        `json:"viewCount"`
	LastViewedAt int64        `json:"lastViewedAt"` // unix seconds, 0 = never
	AddedAt      int64        `json:"addedAt"`      // unix seconds
	Genre        []tagEntry   `json:"Genre"`
	Media        []mediaEntry `json:"Media"`
}

type tagEntry struct {
	Tag string `json:"tag"`
}

type mediaEntry struct {
	Bitrate         int64       `json:"bitrate"` // kbps
	VideoResolution string      `json:"videoResolution"`
	Part            []partEntry `json:"Part"`
}

type partEntry struct {
	File string `json:"file"`
	Size int64  `json:"size"` // bytes
}
