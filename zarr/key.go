package zarr

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkKeyEncoding is the chunk_key_encoding of an array, mapping grid coordinates to
// store keys relative to the array path.
type ChunkKeyEncoding struct {
	Name          string            `json:"name"`
	Configuration *KeyEncodingConfig `json:"configuration,omitempty"`
}

// KeyEncodingConfig is the configuration of a chunk key encoding.
type KeyEncodingConfig struct {
	Separator string `json:"separator"`
}

// DefaultKeyEncoding returns the "default" encoding, e.g., "c/0/1/2/3".
func DefaultKeyEncoding() ChunkKeyEncoding {
	return ChunkKeyEncoding{Name: "default", Configuration: &KeyEncodingConfig{Separator: "/"}}
}

// V2KeyEncoding returns the "v2" encoding, e.g., "0.1.2.3".
func V2KeyEncoding() ChunkKeyEncoding {
	return ChunkKeyEncoding{Name: "v2", Configuration: &KeyEncodingConfig{Separator: "."}}
}

func (e ChunkKeyEncoding) separator() string {
	if e.Configuration != nil && e.Configuration.Separator != "" {
		return e.Configuration.Separator
	}
	if e.Name == "v2" {
		return "."
	}
	return "/"
}

func (e ChunkKeyEncoding) validate() error {
	switch e.Name {
	case "default", "v2":
	default:
		return fmt.Errorf("unsupported chunk key encoding %q", e.Name)
	}
	if sep := e.separator(); sep != "/" && sep != "." {
		return fmt.Errorf("unsupported chunk key separator %q", sep)
	}
	return nil
}

// EncodeKey returns the key of the chunk at the grid coordinates.
func (e ChunkKeyEncoding) EncodeKey(coords []int) string {
	sep := e.separator()
	parts := make([]string, 0, len(coords)+1)
	if e.Name != "v2" {
		parts = append(parts, "c")
	} else if len(coords) == 0 {
		return "0"
	}
	for _, c := range coords {
		parts = append(parts, strconv.Itoa(c))
	}
	return strings.Join(parts, sep)
}
