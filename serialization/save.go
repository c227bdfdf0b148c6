package serialization

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/grailbio/base/errors"

	"github.com/AndersHogqvist/flann/compression"
	"github.com/AndersHogqvist/flann/stream"
)

// SaveArchive compresses serialized values into a block stream:
//
//	header[80]  raw bytes, carries the compressed size of block 1
//	block 1     lz4 block
//	repeat:
//	  size      uint64 host order
//	  block n   lz4 block
//	size = 0    terminator
//
// Blocks hold up to BlockBytes of plaintext. A value never straddles a
// block boundary, the writer flushes early instead, so plaintext block
// lengths vary. The reader replays the same rule to stay in step.
type SaveArchive struct {
	archiveState

	sink *stream.Sink

	buf    *blockBuffer
	offset int

	firstBlock bool
	head       IndexHeader

	comp       *compression.BlockCompressor
	compressed []byte

	debug     bool
	blocksOut int
	plainSz   uint64
	compSz    uint64

	closed bool
	err    error
}

// NewSaveArchive starts an archive on a borrowed writer. The header's
// Compression and FirstBlockSize fields must be zero, the archive owns
// them from here on.
func NewSaveArchive(w io.Writer, head *IndexHeader, cfg *Config) (*SaveArchive, error) {
	return newSaveArchive(stream.NewSink(w), head, cfg)
}

// CreateSaveArchive starts an archive on a file it creates and owns.
func CreateSaveArchive(path string, head *IndexHeader, cfg *Config) (*SaveArchive, error) {

	sink, err := stream.CreateSink(path)
	if err != nil {
		return nil, err
	}

	ar, err := newSaveArchive(sink, head, cfg)
	if err != nil {
		sink.Close()
		return nil, err
	}

	return ar, nil
}

func newSaveArchive(sink *stream.Sink, head *IndexHeader, cfg *Config) (*SaveArchive, error) {

	cfg = cfg.OrDefault()

	if head.Compression != 0 {
		return nil, errors.E(errors.Invalid, "header compression field must start out zero")
	}

	ar := &SaveArchive{
		sink:       sink,
		buf:        newBlockBuffer(),
		comp:       compression.NewBlockCompressor(cfg.CompressionLevel),
		compressed: make([]byte, HeaderSize+compression.Bound(BlockBytes)),
		firstBlock: true,
		debug:      cfg.Debug,
	}

	ar.head = *head
	ar.head.Compression = 1

	// the header rides uncompressed in front of the first block, so it
	// occupies the start of the first block's plaintext
	n, err := ar.head.WriteTo(ar.buf.current())
	if err != nil {
		return nil, err
	}
	ar.offset = n

	return ar, nil
}

// Header returns the archive's staged copy of the header. FirstBlockSize
// is filled in once the first block has been flushed.
func (ar *SaveArchive) Header() *IndexHeader {
	return &ar.head
}

func (ar *SaveArchive) Saving() bool {
	return true
}

func (ar *SaveArchive) scalar(p []byte) error {
	if ar.err != nil {
		return ar.err
	}

	if len(p) >= BlockBytes {
		return errors.E(errors.Invalid, fmt.Sprintf("scalar of %d bytes does not fit a block", len(p)))
	}

	if ar.offset+len(p) > BlockBytes {
		if err := ar.flushBlock(); err != nil {
			return err
		}
	}

	copy(ar.buf.current()[ar.offset:], p)
	ar.offset += len(p)

	return nil
}

func (ar *SaveArchive) binary(p []byte) error {
	if ar.err != nil {
		return ar.err
	}

	for len(p) > BlockBytes {
		if err := ar.flushBlock(); err != nil {
			return err
		}

		copy(ar.buf.current(), p[:BlockBytes])
		ar.offset = BlockBytes
		p = p[BlockBytes:]
	}

	if ar.offset+len(p) > BlockBytes {
		if err := ar.flushBlock(); err != nil {
			return err
		}
	}

	copy(ar.buf.current()[ar.offset:], p)
	ar.offset += len(p)

	return nil
}

func (ar *SaveArchive) flushBlock() (topErr error) {

	defer func() {
		if topErr != nil {
			ar.err = topErr
		}
	}()

	plain := ar.buf.current()[:ar.offset]

	var record []byte

	if ar.firstBlock {

		compSz, compErr := ar.comp.Compress(plain[HeaderSize:], ar.compressed[HeaderSize:])
		if compErr != nil {
			return errors.E(errors.Fatal, fmt.Sprintf("error compressing (first block): %s", compErr.Error()))
		}

		// now the compressed size of the first block is known the
		// header can be finalized and written in front of it
		ar.head.FirstBlockSize = uint64(compSz)
		if _, headErr := ar.head.WriteTo(ar.compressed[:HeaderSize]); headErr != nil {
			return headErr
		}

		record = ar.compressed[:HeaderSize+compSz]
		ar.firstBlock = false

		ar.logBlock(len(plain)-HeaderSize, compSz)

	} else {

		compSz, compErr := ar.comp.Compress(plain, ar.compressed[8:])
		if compErr != nil {
			return errors.E(errors.Fatal, fmt.Sprintf("error compressing: %s", compErr.Error()))
		}

		binary.NativeEndian.PutUint64(ar.compressed[:8], uint64(compSz))
		record = ar.compressed[:8+compSz]

		ar.logBlock(len(plain), compSz)
	}

	if _, writeErr := ar.sink.Write(record); writeErr != nil {
		return errors.E(writeErr, "unable to write archive block")
	}

	ar.buf.swap()
	ar.offset = 0

	return nil
}

func (ar *SaveArchive) logBlock(plainSz, compSz int) {

	ar.blocksOut++
	ar.plainSz += uint64(plainSz)
	ar.compSz += uint64(compSz)

	if ar.debug == false {
		return
	}

	ratio := 0.0
	if plainSz > 0 {
		ratio = float64(compSz) / float64(plainSz)
	}

	color.Yellow(" compressed block [%d] %d -> %d [%.2f%%]", ar.blocksOut, plainSz, compSz, ratio*100.0)
}

// Close flushes the pending block, writes the zero terminator and
// releases the buffers. Owned files are closed, borrowed writers are
// left open. Close after a failed write tears down without touching the
// stream again.
func (ar *SaveArchive) Close() (topErr error) {
	if ar.closed {
		return nil
	}
	ar.closed = true

	if ar.err == nil {
		topErr = ar.flushBlock()

		if topErr == nil {
			var term [8]byte
			if _, writeErr := ar.sink.Write(term[:]); writeErr != nil {
				topErr = errors.E(writeErr, "unable to write archive terminator")
			}
		}
	} else {
		topErr = ar.err
	}

	ar.buf.release()
	ar.compressed = nil

	closeErr := ar.sink.Close()
	if topErr == nil && closeErr != nil {
		topErr = closeErr
	}

	if topErr == nil && ar.debug {
		log.Printf(" >> archive written, %d blocks, %d -> %d bytes", ar.blocksOut, ar.plainSz, ar.compSz)
	}

	if ar.err == nil {
		ar.err = errors.E(errors.Invalid, "archive closed")
	}

	return topErr
}
