package zarr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/mipmapper/storage"
)

// GroupMetadata is the zarr.json document of a group.  Attributes are left raw so
// callers can decode them into their own types.
type GroupMetadata struct {
	ZarrFormat int             `json:"zarr_format"`
	NodeType   string          `json:"node_type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// ReadGroup returns the metadata of the group at the path or nil if there is none.
func ReadGroup(ctx context.Context, store storage.Store, p string) (*GroupMetadata, error) {
	p = cleanPath(p)
	b, err := store.Get(ctx, storage.JoinKey(p, MetadataKey))
	if err != nil {
		return nil, fmt.Errorf("reading group metadata for %s: %w", p, err)
	}
	if b == nil {
		return nil, nil
	}
	var meta GroupMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("%w for group %s: %v", ErrBadMetadata, p, err)
	}
	if meta.NodeType != "group" {
		return nil, fmt.Errorf("%w: node at %s is %q, not a group", ErrBadMetadata, p, meta.NodeType)
	}
	return &meta, nil
}

// WriteGroup writes group metadata with the given attributes, replacing any existing
// group document at the path.
func WriteGroup(ctx context.Context, store storage.Store, p string, attributes interface{}) error {
	p = cleanPath(p)
	meta := GroupMetadata{ZarrFormat: FormatVersion, NodeType: "group"}
	if attributes != nil {
		b, err := json.Marshal(attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes of group %s: %w", p, err)
		}
		meta.Attributes = b
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := store.Set(ctx, storage.JoinKey(p, MetadataKey), b); err != nil {
		return fmt.Errorf("writing group metadata for %s: %w", p, err)
	}
	return nil
}
