package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/janelia-flyem/mipmapper/dvid"
)

const (
	// MetadataKey is the name of the metadata document of every node.
	MetadataKey = "zarr.json"

	// FormatVersion is the zarr_format written and accepted.
	FormatVersion = 3
)

// ArrayMetadata is the zarr.json document of an array.
type ArrayMetadata struct {
	ZarrFormat       int                    `json:"zarr_format"`
	NodeType         string                 `json:"node_type"`
	Shape            []int                  `json:"shape"`
	DataType         dvid.DataType          `json:"data_type"`
	ChunkGrid        ChunkGrid              `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding       `json:"chunk_key_encoding"`
	FillValue        FillValue              `json:"fill_value"`
	Codecs           []CodecSpec            `json:"codecs"`
	DimensionNames   []string               `json:"dimension_names,omitempty"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
}

// ChunkGrid is a regular chunk grid.
type ChunkGrid struct {
	Name          string          `json:"name"`
	Configuration ChunkGridConfig `json:"configuration"`
}

type ChunkGridConfig struct {
	ChunkShape []int `json:"chunk_shape"`
}

// RegularGrid returns a regular chunk grid with the given chunk shape.
func RegularGrid(chunkShape []int) ChunkGrid {
	return ChunkGrid{Name: "regular", Configuration: ChunkGridConfig{ChunkShape: chunkShape}}
}

func (m *ArrayMetadata) validate() error {
	if m.ZarrFormat != FormatVersion {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if m.NodeType != "array" {
		return fmt.Errorf("node_type is %q, not an array", m.NodeType)
	}
	if !m.DataType.Valid() {
		return fmt.Errorf("invalid data type %s", m.DataType)
	}
	if m.ChunkGrid.Name != "regular" {
		return fmt.Errorf("unsupported chunk grid %q", m.ChunkGrid.Name)
	}
	chunks := m.ChunkGrid.Configuration.ChunkShape
	if len(chunks) != len(m.Shape) {
		return fmt.Errorf("chunk shape %v has different dimensions than shape %v", chunks, m.Shape)
	}
	for i := range m.Shape {
		if m.Shape[i] < 0 || chunks[i] <= 0 {
			return fmt.Errorf("bad shape %v or chunk shape %v", m.Shape, chunks)
		}
	}
	if m.DimensionNames != nil && len(m.DimensionNames) != len(m.Shape) {
		return fmt.Errorf("%d dimension names given for %d dimensions", len(m.DimensionNames), len(m.Shape))
	}
	return m.ChunkKeyEncoding.validate()
}

// FillValue is the fill_value of an array.  Non-finite floats are encoded with the
// strings "NaN", "Infinity" and "-Infinity".
type FillValue float64

func (f FillValue) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *FillValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "NaN":
			*f = FillValue(math.NaN())
		case "Infinity":
			*f = FillValue(math.Inf(1))
		case "-Infinity":
			*f = FillValue(math.Inf(-1))
		default:
			return fmt.Errorf("unsupported fill_value %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unsupported fill_value %s", b)
	}
	*f = FillValue(v)
	return nil
}
