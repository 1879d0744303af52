// Package plex talks to a Plex Media Server. It provides the library
// inventory stream consumed by scans and the item deletion call used by
// the deletion executor.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

const (
	userAgent = "PlexWrapped"
	product   = "PlexWrapped"

	// defaultPageSize is the container size requested per inventory page.
	defaultPageSize = 200
)

// Plex numeric type filters for /library/sections/{key}/all.
const (
	plexTypeMovie   = 1
	plexTypeShow    = 2
	plexTypeEpisode = 4
)

// Client handles communication with a Plex Media Server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
	clientID   string
	version    string
	pageSize   int
}

// NewClient creates a new Plex API client for one server.
func NewClient(baseURL, token string, httpClient *http.Client, logger zerolog.Logger, version string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "plex-client").Logger(),
		clientID:   uuid.New().String(),
		version:    version,
		pageSize:   defaultPageSize,
	}
}

func (c *Client) getHeaders() map[string]string {
	return map[string]string{
		"X-Plex-Client-Identifier": c.clientID,
		"X-Plex-Product":           product,
		"X-Plex-Version":           c.version,
		"X-Plex-Platform":          runtime.GOOS,
		"X-Plex-Platform-Version":  runtime.GOARCH,
		"X-Plex-Device":            runtime.GOOS,
		"X-Plex-Device-Name":       product,
		"X-Plex-Token":             c.token,
		"Accept":                   "application/json",
		"User-Agent":               userAgent,
	}
}

func (c *Client) doRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.getHeaders() {
		req.Header.Set(key, value)
	}

	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, url string, container *mediaContainer) error {
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("plex returned status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(container); err != nil {
		return fmt.Errorf("failed to decode plex response: %w", err)
	}
	return nil
}

// TestConnection checks that the server answers on /identity.
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/identity", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Sections returns the movie and show libraries on the server.
func (c *Client) Sections(ctx context.Context) ([]LibrarySection, error) {
	var container mediaContainer
	if err := c.getJSON(ctx, c.baseURL+"/library/sections", &container); err != nil {
		return nil, fmt.Errorf("failed to get library sections: %w", err)
	}

	var sections []LibrarySection
	for _, dir := range container.MediaContainer.Directory {
		if dir.Type != "movie" && dir.Type != "show" {
			continue
		}
		sections = append(sections, LibrarySection{Key: dir.Key, Title: dir.Title, Type: dir.Type})
	}
	return sections, nil
}

// ListItems streams every item of the given type across all matching
// sections. Pages are fetched lazily as the iterator advances.
func (c *Client) ListItems(ctx context.Context, mediaType media.Type) (*ItemIterator, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}

	var sectionType string
	var plexType int
	switch mediaType {
	case media.TypeMovie:
		sectionType, plexType = "movie", plexTypeMovie
	case media.TypeTVSeries:
		sectionType, plexType = "show", plexTypeShow
	case media.TypeEpisode:
		sectionType, plexType = "show", plexTypeEpisode
	default:
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}

	var keys []string
	for _, s := range sections {
		if s.Type == sectionType {
			keys = append(keys, s.Key)
		}
	}

	return &ItemIterator{
		client:    c,
		mediaType: mediaType,
		plexType:  plexType,
		sections:  keys,
		total:     -1,
	}, nil
}

// ItemIterator walks one media type section by section, page by page.
// Next returns (nil, nil) once every section is exhausted.
type ItemIterator struct {
	client    *Client
	mediaType media.Type
	plexType  int
	sections  []string
	buffer    []metadataEntry
	pos       int
	start     int
	total     int // -1 until the first page of the current section lands
	closed    bool
}

// Next returns the next library item, or (nil, nil) at end of stream.
func (it *ItemIterator) Next(ctx context.Context) (*media.Item, error) {
	if it.closed {
		return nil, fmt.Errorf("iterator is closed")
	}

	for it.pos >= len(it.buffer) {
		if err := it.fetchPage(ctx); err != nil {
			return nil, err
		}
		if it.closed {
			return nil, nil
		}
	}

	entry := it.buffer[it.pos]
	it.pos++
	return it.client.mapItem(entry, it.mediaType), nil
}

// fetchPage loads the next container page, advancing to the next section
// when the current one is exhausted. Sets closed once no sections remain.
func (it *ItemIterator) fetchPage(ctx context.Context) error {
	for {
		if len(it.sections) == 0 {
			it.closed = true
			return nil
		}
		if it.total >= 0 && it.start >= it.total {
			it.sections = it.sections[1:]
			it.start = 0
			it.total = -1
			continue
		}

		url := fmt.Sprintf("%s/library/sections/%s/all?type=%d&X-Plex-Container-Start=%d&X-Plex-Container-Size=%d",
			it.client.baseURL, it.sections[0], it.plexType, it.start, it.client.pageSize)

		var container mediaContainer
		if err := it.client.getJSON(ctx, url, &container); err != nil {
			return fmt.Errorf("failed to list section items: %w", err)
		}

		mc := container.MediaContainer
		it.total = mc.TotalSize
		if it.total == 0 || len(mc.Metadata) == 0 {
			it.sections = it.sections[1:]
			it.start = 0
			it.total = -1
			continue
		}

		it.start += len(mc.Metadata)
		it.buffer = mc.Metadata
		it.pos = 0
		return nil
	}
}

// Close releases the iterator. Safe to call more than once.
func (it *ItemIterator) Close() error {
	it.closed = true
	it.buffer = nil
	return nil
}

// mapItem converts one Plex metadata row into the shared snapshot form.
func (c *Client) mapItem(entry metadataEntry, mediaType media.Type) *media.Item {
	item := &media.Item{
		RatingKey: entry.RatingKey,
		Type:      mediaType,
		Title:     entry.Title,
		Year:      entry.Year,
		Poster:    entry.Thumb,
		PlayCount: entry.ViewCount,
		AddedAt:   time.Unix(entry.AddedAt, 0).UTC(),
	}

	if entry.LastViewedAt > 0 {
		t := time.Unix(entry.LastViewedAt, 0).UTC()
		item.LastWatchedAt = &t
	}

	for _, g := range entry.Genre {
		item.Genres = append(item.Genres, g.Tag)
	}

	// Shows carry no Media entries; sizes and stream details apply to
	// movies and episodes.
	if len(entry.Media) > 0 {
		item.Bitrate = entry.Media[0].Bitrate
		item.Resolution = entry.Media[0].VideoResolution
		for _, m := range entry.Media {
			for _, p := range m.Part {
				item.FileSize += p.Size
				if item.FilePath == "" {
					item.FilePath = p.File
				}
			}
		}
	}

	return item
}

// GetItem fetches one item's full metadata by rating key.
func (c *Client) GetItem(ctx context.Context, ratingKey string) (*media.Item, error) {
	var container mediaContainer
	url := fmt.Sprintf("%s/library/metadata/%s", c.baseURL, ratingKey)
	if err := c.getJSON(ctx, url, &container); err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", ratingKey, err)
	}

	entries := container.MediaContainer.Metadata
	if len(entries) == 0 {
		return nil, fmt.Errorf("item %s not found", ratingKey)
	}

	entry := entries[0]
	mediaType := media.TypeMovie
	switch entry.Type {
	case "show":
		mediaType = media.TypeTVSeries
	case "episode":
		mediaType = media.TypeEpisode
	}
	return c.mapItem(entry, mediaType), nil
}

// DeleteItem removes an item from the server, including its files when
// the server is configured to allow deletion. It reports whether files
// were removed and how many bytes that reclaimed. Items without media
// parts are catalog-only entries; those delete with filesDeleted false.
func (c *Client) DeleteItem(ctx context.Context, ratingKey string) (filesDeleted bool, reclaimedBytes int64, err error) {
	// Fetch part sizes first; the metadata is gone after the delete.
	item, err := c.GetItem(ctx, ratingKey)
	if err != nil {
		return false, 0, err
	}

	url := fmt.Sprintf("%s/library/metadata/%s", c.baseURL, ratingKey)
	resp, err := c.doRequest(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to delete item %s: %w", ratingKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return false, 0, fmt.Errorf("failed to delete item %s: status %d, body: %s", ratingKey, resp.StatusCode, string(body))
	}

	if item.FileSize == 0 {
		c.logger.Info().Str("ratingKey", ratingKey).Msg("deleted catalog-only item")
		return false, 0, nil
	}

	c.logger.Info().
		Str("ratingKey", ratingKey).
		Int64("reclaimedBytes", item.FileSize).
		Msg("deleted item and files")
	return true, item.FileSize, nil
}
