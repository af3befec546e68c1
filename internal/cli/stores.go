package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/config"
	"github.com/wem-technology/ios-webxr-sub000/internal/session"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
)

// anchorBackend is the configured persistent anchor store.
type anchorBackend interface {
	session.AnchorStore
	io.Closer
}

type anchorDeleter interface {
	DeleteAnchor(ctx context.Context, id string) (bool, error)
}

// fileBackend adapts the JSON file store, which holds no resources.
type fileBackend struct {
	*store.FileStore
}

func (fileBackend) Close() error { return nil }

// openAnchorStore opens the backend named by cfg.Driver. The SQLite store is
// also returned so callers can reach recordings; it is nil for json.
func openAnchorStore(cfg config.StoreConfig) (anchorBackend, *store.Store, error) {
	switch cfg.Driver {
	case "json":
		return fileBackend{store.NewFileStore(cfg.Path)}, nil, nil
	case "sqlite", "":
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openRecordingStore opens the SQLite store; recordings have no JSON backend.
func openRecordingStore(cfg config.StoreConfig) (*store.Store, error) {
	if cfg.Driver == "json" {
		return nil, fmt.Errorf("recordings need the sqlite store driver, not %q", cfg.Driver)
	}
	return store.Open(cfg.Path)
}

func listAnchorIDs(ctx context.Context, b anchorBackend) ([]string, error) {
	anchors, err := b.LoadAnchors(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(anchors))
	for id := range anchors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// deleteAnchorID removes one anchor, rewriting the whole map when the backend
// has no row-level delete.
func deleteAnchorID(ctx context.Context, b anchorBackend, id string) (bool, error) {
	if d, ok := b.(anchorDeleter); ok {
		return d.DeleteAnchor(ctx, id)
	}
	anchors, err := b.LoadAnchors(ctx)
	if err != nil {
		return false, err
	}
	id = store.NormalizeID(id)
	if _, ok := anchors[id]; !ok {
		return false, nil
	}
	delete(anchors, id)
	return true, b.SaveAnchors(ctx, anchors)
}
