/*
	This file supports serialization/deserialization and compression of stored values.
*/

package dvid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression is the format of compression for storing data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = 0
	Snappy       Compression = 1
	LZ4          Compression = 2
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	case LZ4:
		return "Go LZ4 compression"
	default:
		return "Unknown compression"
	}
}

// ParseCompression returns a compression given a config name like "snappy".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none", "uncompressed":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	default:
		return Uncompressed, fmt.Errorf("unknown compression %q", name)
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32      Checksum = 1
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

// SerializeData serializes a slice of bytes using optional compression and checksum.
// The format byte comes first, then any checksum, then the data.
func SerializeData(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	var byteData []byte
	switch compress {
	case Uncompressed:
		byteData = data
	case Snappy:
		byteData = snappy.Encode(nil, data)
	case LZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compression: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression: %w", err)
		}
		byteData = buf.Bytes()
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", compress)
	}

	var buffer bytes.Buffer
	buffer.Grow(len(byteData) + 5)
	buffer.WriteByte(byte(EncodeSerializationFormat(compress, checksum)))
	switch checksum {
	case NoChecksum:
	case CRC32:
		var crc [4]byte
		binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(byteData))
		buffer.Write(crc[:])
	default:
		return nil, fmt.Errorf("illegal checksum (%s) during serialization", checksum)
	}
	buffer.Write(byteData)
	return buffer.Bytes(), nil
}

// DeserializeData deserializes a slice of bytes using stored compression and checksum.
func DeserializeData(s []byte) ([]byte, Compression, error) {
	if len(s) == 0 {
		return nil, Uncompressed, fmt.Errorf("can't deserialize empty value")
	}
	compress, checksum := DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]
	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			return nil, compress, fmt.Errorf("serialized value too short for checksum")
		}
		stored := binary.LittleEndian.Uint32(cdata[:4])
		cdata = cdata[4:]
		if computed := crc32.ChecksumIEEE(cdata); computed != stored {
			return nil, compress, fmt.Errorf("bad checksum: stored %x got %x", stored, computed)
		}
	default:
		return nil, compress, fmt.Errorf("illegal checksum in deserializing data")
	}

	switch compress {
	case Uncompressed:
		return cdata, compress, nil
	case Snappy:
		data, err := snappy.Decode(nil, cdata)
		return data, compress, err
	case LZ4:
		data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(cdata)))
		return data, compress, err
	default:
		return nil, compress, fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
}
