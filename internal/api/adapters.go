package api

import (
	"context"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
	"github.com/mchestr/plex-wrapped-sub007/internal/plex"
	"github.com/mchestr/plex-wrapped-sub007/internal/scan"
)

// plexInventory adapts the Plex client to the scanner's inventory
// dependency.
type plexInventory struct {
	client *plex.Client
}

func (p plexInventory) ListItems(ctx context.Context, mediaType media.Type) (scan.ItemIterator, error) {
	iter, err := p.client.ListItems(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	return iter, nil
}
