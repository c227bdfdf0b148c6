package serialization

import (
	"encoding/binary"
	"fmt"
)

const (
	IndexSignature = "FLANN_INDEX_v1.2"
	IndexVersion   = "1.9.1"

	SignatureSize = 24
	VersionSize   = 16

	// HeaderSize is the exact on disk footprint of IndexHeader.
	HeaderSize = SignatureSize + VersionSize + 4 + 4 + 8 + 8 + 8 + 8
)

// DataType tags the element type of the archived payload. The value is
// carried through the header unchanged.
type DataType int32

// IndexType tags the structure that produced the archived payload,
// carried through unchanged like DataType.
type IndexType int32

// IndexHeader fronts every archive. All fields are stored in host byte
// order, 80 bytes total, no padding between fields.
type IndexHeader struct {
	Signature [SignatureSize]byte
	Version   [VersionSize]byte

	DataType  DataType
	IndexType IndexType

	Rows uint64
	Cols uint64

	// Compression is set to 1 by the writer, FirstBlockSize is filled
	// with the compressed size of the first block once it is known.
	Compression    uint64
	FirstBlockSize uint64
}

func NewIndexHeader(dataType DataType, indexType IndexType, rows, cols uint64) IndexHeader {

	header := IndexHeader{
		DataType:  dataType,
		IndexType: indexType,
		Rows:      rows,
		Cols:      cols,
	}

	copy(header.Signature[:], IndexSignature)
	copy(header.Version[:], IndexVersion)

	return header
}

func (header *IndexHeader) FromBytes(input []byte) error {

	if len(input) < HeaderSize {
		return fmt.Errorf("unable to decode index header from %d bytes", len(input))
	}

	pos := copy(header.Signature[:], input[:SignatureSize])
	pos += copy(header.Version[:], input[pos:pos+VersionSize])

	header.DataType = DataType(binary.NativeEndian.Uint32(input[pos:]))
	header.IndexType = IndexType(binary.NativeEndian.Uint32(input[pos+4:]))

	header.Rows = binary.NativeEndian.Uint64(input[pos+8:])
	header.Cols = binary.NativeEndian.Uint64(input[pos+16:])
	header.Compression = binary.NativeEndian.Uint64(input[pos+24:])
	header.FirstBlockSize = binary.NativeEndian.Uint64(input[pos+32:])

	return nil
}

func (header *IndexHeader) WriteTo(out []byte) (int, error) {

	if len(out) < HeaderSize {
		return 0, fmt.Errorf("unable to encode index header into %d bytes", len(out))
	}

	pos := copy(out, header.Signature[:])
	pos += copy(out[pos:], header.Version[:])

	binary.NativeEndian.PutUint32(out[pos:], uint32(header.DataType))
	binary.NativeEndian.PutUint32(out[pos+4:], uint32(header.IndexType))

	binary.NativeEndian.PutUint64(out[pos+8:], header.Rows)
	binary.NativeEndian.PutUint64(out[pos+16:], header.Cols)
	binary.NativeEndian.PutUint64(out[pos+24:], header.Compression)
	binary.NativeEndian.PutUint64(out[pos+32:], header.FirstBlockSize)

	return HeaderSize, nil
}

// legacyFormat detects archives written before the block stream existed.
// Their signature reads FLANN_INDEX_v1.0 and the whole payload is one
// compressed run.
func (header *IndexHeader) legacyFormat() bool {
	return header.Signature[13] == '1' && header.Signature[15] == '0'
}
