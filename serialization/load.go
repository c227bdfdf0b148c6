package serialization

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/grailbio/base/errors"

	"github.com/AndersHogqvist/flann/compression"
	"github.com/AndersHogqvist/flann/stream"
)

// LoadArchive replays a block stream written by SaveArchive. The header
// is parsed when the archive is opened, reads start on the data behind
// it. Close checks the stream terminator, a short or corrupt archive
// surfaces there at the latest.
//
// Archives with a v1.0 signature predate the block stream, they hold
// one compressed run for the whole payload and are loaded in a single
// piece.
type LoadArchive struct {
	archiveState

	source *stream.Source

	head IndexHeader

	// block is the plaintext being consumed, dict the previous block's
	// plaintext. buf is nil on the whole file fallback path.
	buf    *blockBuffer
	block  []byte
	cursor int
	dict   []byte

	compressed []byte

	debug  bool
	closed bool
	err    error
}

// NewLoadArchive opens an archive on a borrowed reader.
func NewLoadArchive(r io.Reader, cfg *Config) (*LoadArchive, error) {
	return newLoadArchive(stream.NewSource(r), cfg)
}

// OpenLoadArchive opens an archive on a file it owns.
func OpenLoadArchive(path string, cfg *Config) (*LoadArchive, error) {

	source, err := stream.OpenSource(path)
	if err != nil {
		return nil, err
	}

	ar, err := newLoadArchive(source, cfg)
	if err != nil {
		source.Close()
		return nil, err
	}

	return ar, nil
}

func newLoadArchive(source *stream.Source, cfg *Config) (*LoadArchive, error) {

	cfg = cfg.OrDefault()

	ar := &LoadArchive{
		source: source,
		debug:  cfg.Debug,
	}

	var raw [HeaderSize]byte
	if _, err := io.ReadFull(source, raw[:]); err != nil {
		return nil, errors.E(err, "invalid index file, cannot read from disk (header)")
	}

	if err := ar.head.FromBytes(raw[:]); err != nil {
		return nil, err
	}

	if ar.head.legacyFormat() {
		if err := ar.loadWholeFile(raw[:]); err != nil {
			return nil, err
		}
		return ar, nil
	}

	if ar.head.Compression != 1 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("compression type %d not supported", ar.head.Compression))
	}

	ar.buf = newBlockBuffer()
	ar.compressed = make([]byte, compression.Bound(BlockBytes))

	// the first block sits right behind the raw header bytes and its
	// compressed size comes out of the header itself
	half := ar.buf.current()
	copy(half, raw[:])

	dec, err := ar.readBlock(half[HeaderSize:], ar.head.FirstBlockSize, nil)
	if err != nil {
		return nil, err
	}

	ar.block = half[:HeaderSize+dec]
	ar.cursor = HeaderSize
	ar.dict = half[HeaderSize : HeaderSize+dec]

	return ar, nil
}

// Header returns the header parsed when the archive was opened.
func (ar *LoadArchive) Header() *IndexHeader {
	return &ar.head
}

func (ar *LoadArchive) Saving() bool {
	return false
}

// readBlock reads compSz compressed bytes off the stream and inflates
// them into dst.
func (ar *LoadArchive) readBlock(dst []byte, compSz uint64, dict []byte) (int, error) {

	if compSz >= uint64(len(ar.compressed)) {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("requested block size too large: %d", compSz))
	}

	if _, err := io.ReadFull(ar.source, ar.compressed[:compSz]); err != nil {
		return 0, errors.E(err, "invalid index file, cannot read from disk (block)")
	}

	dec, decErr := compression.Decompress(ar.compressed[:compSz], dst, dict)
	if decErr != nil {
		if ar.debug {
			spew.Dump("block bytes failed to decompress ", ar.compressed[:min(int(compSz), 128)])
		}
		return 0, errors.E(errors.Integrity, fmt.Sprintf("invalid index file, cannot decompress block: %s", decErr.Error()))
	}

	return dec, nil
}

// prepare makes sure the next size bytes sit in the current block,
// pulling in the next block when the current one is used up. The writer
// never splits a value across blocks, so a value that still does not
// fit means the read side went out of step with the write side.
func (ar *LoadArchive) prepare(size int) error {

	if ar.cursor+size <= len(ar.block) {
		return nil
	}

	if ar.buf == nil {
		return errors.E(errors.Invalid, "requested to read next block past end of file")
	}

	ar.buf.swap()

	var prefix [8]byte
	if _, err := io.ReadFull(ar.source, prefix[:]); err != nil {
		return errors.E(errors.Invalid, "requested to read next block past end of file")
	}

	compSz := binary.NativeEndian.Uint64(prefix[:])
	if compSz == 0 {
		return errors.E(errors.Invalid, "requested to read next block past end of file")
	}

	half := ar.buf.current()

	dec, err := ar.readBlock(half, compSz, ar.dict)
	if err != nil {
		return err
	}
	if dec == 0 {
		return errors.E(errors.Integrity, "invalid index file, cannot decompress block")
	}

	ar.block = half[:dec]
	ar.cursor = 0
	ar.dict = ar.block

	if size > dec {
		return errors.E(errors.Invalid, fmt.Sprintf("value of %d bytes does not fit the block", size))
	}

	return nil
}

func (ar *LoadArchive) scalar(p []byte) error {
	if ar.err != nil {
		return ar.err
	}

	if err := ar.prepare(len(p)); err != nil {
		ar.err = err
		return err
	}

	copy(p, ar.block[ar.cursor:ar.cursor+len(p)])
	ar.cursor += len(p)

	return nil
}

func (ar *LoadArchive) binary(p []byte) error {
	if ar.err != nil {
		return ar.err
	}

	for len(p) > BlockBytes {
		if err := ar.prepare(BlockBytes); err != nil {
			ar.err = err
			return err
		}

		copy(p[:BlockBytes], ar.block[ar.cursor:ar.cursor+BlockBytes])
		ar.cursor += BlockBytes
		p = p[BlockBytes:]
	}

	if err := ar.prepare(len(p)); err != nil {
		ar.err = err
		return err
	}

	copy(p, ar.block[ar.cursor:ar.cursor+len(p)])
	ar.cursor += len(p)

	return nil
}

// loadWholeFile handles the v1.0 layout: everything after the header is
// one compressed run and the header's first block size field holds the
// total uncompressed size, header included.
func (ar *LoadArchive) loadWholeFile(raw []byte) error {

	comp, readErr := io.ReadAll(ar.source)
	if readErr != nil {
		return errors.E(readErr, "invalid index file, cannot read from disk (compressed)")
	}

	if ar.head.Compression != 1 {
		return errors.E(errors.Integrity, fmt.Sprintf("compression type %d not supported", ar.head.Compression))
	}

	if ar.head.FirstBlockSize < HeaderSize {
		return errors.E(errors.Fatal, "error allocating decompression buffer")
	}
	plainSz := ar.head.FirstBlockSize - HeaderSize

	// lz4 cannot expand a block past 255x, sizes the input could never
	// produce are rejected before anything is allocated
	if plainSz > uint64(len(comp))*255+16 {
		return errors.E(errors.Invalid, "unexpected decompression size")
	}

	buffer := make([]byte, HeaderSize+int(plainSz))
	copy(buffer, raw)

	dec, decErr := compression.Decompress(comp, buffer[HeaderSize:], nil)
	if decErr != nil {
		if ar.debug {
			spew.Dump("file bytes failed to decompress ", comp[:min(len(comp), 128)])
		}
		return errors.E(errors.Integrity, fmt.Sprintf("invalid index file, cannot decompress block: %s", decErr.Error()))
	}

	if uint64(dec) != plainSz {
		return errors.E(errors.Invalid, "unexpected decompression size")
	}

	ar.block = buffer
	ar.cursor = HeaderSize

	return nil
}

// Close reads and checks the stream terminator, releases the buffers
// and closes an owned file. The terminator is skipped for v1.0 archives.
// After a failed read Close reports that failure again instead of
// touching the stream.
func (ar *LoadArchive) Close() (topErr error) {
	if ar.closed {
		return nil
	}
	ar.closed = true

	if ar.err != nil {
		topErr = ar.err
	} else if ar.buf != nil {
		var term [8]byte
		if _, err := io.ReadFull(ar.source, term[:]); err != nil {
			topErr = errors.E(err, "invalid index file, cannot read from disk (end)")
		} else if binary.NativeEndian.Uint64(term[:]) != 0 {
			topErr = errors.E(errors.Invalid, "invalid index file, last block not zero length")
		}
	}

	if ar.buf != nil {
		ar.buf.release()
		ar.buf = nil
	}
	ar.block = nil
	ar.dict = nil
	ar.compressed = nil

	closeErr := ar.source.Close()
	if topErr == nil && closeErr != nil {
		topErr = closeErr
	}

	if ar.err == nil {
		ar.err = errors.E(errors.Invalid, "archive closed")
	}

	return topErr
}
