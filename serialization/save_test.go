package serialization

import (
	"bytes"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestScalarTooLarge(t *testing.T) {

	var buf bytes.Buffer

	head := NewIndexHeader(0, 0, 0, 0)
	ar, err := NewSaveArchive(&buf, &head, nil)
	if err != nil {
		t.Fatalf("unable to create save archive : %s", err.Error())
	}

	big := make([]byte, BlockBytes)
	scalarErr := ar.scalar(big)
	if scalarErr == nil {
		t.Fatalf("oversized scalar accepted")
	}
	if !errors.Is(errors.Invalid, scalarErr) {
		t.Fatalf("oversized scalar error kind: got %v", scalarErr)
	}

	// the rejected value must not have disturbed the stream
	value := uint16(321)
	if err := Value(ar, &value); err != nil {
		t.Fatalf("unable to write after rejected scalar : %s", err.Error())
	}
	if err := ar.Close(); err != nil {
		t.Fatalf("unable to close archive : %s", err.Error())
	}

	var got uint16
	loadFromBuffer(t, buf.Bytes(), func(lar *LoadArchive) error {
		return Value(lar, &got)
	})

	if got != value {
		t.Fatalf("value after rejected scalar: got %d want %d", got, value)
	}
}

func TestUnsupportedType(t *testing.T) {

	// a struct that neither declares Serialize nor matches any built in
	// wire form has no place in an archive
	type opaque struct {
		a int
		b string
	}

	value := opaque{a: 1, b: "x"}

	ar := NewSizeArchive()
	err := Value(ar, &value)
	if err == nil {
		t.Fatalf("type without a wire form accepted")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("unsupported type error kind: got %v", err)
	}
}

func TestHeaderMustStartUncompressed(t *testing.T) {

	var buf bytes.Buffer

	head := NewIndexHeader(0, 0, 0, 0)
	head.Compression = 1

	_, err := NewSaveArchive(&buf, &head, nil)
	if err == nil {
		t.Fatalf("header with compression already set accepted")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("compression preset error kind: got %v", err)
	}
}

func TestFirstBlockSizeBackfill(t *testing.T) {

	head := NewIndexHeader(0, 0, 0, 0)
	value := uint64(99)
	raw := saveToBuffer(t, &head, func(ar *SaveArchive) error {
		return Value(ar, &value)
	})

	var onDisk IndexHeader
	if err := onDisk.FromBytes(raw); err != nil {
		t.Fatalf("unable to parse written header : %s", err.Error())
	}

	if onDisk.Compression != 1 {
		t.Fatalf("written compression tag: got %d want 1", onDisk.Compression)
	}

	// the header's block size must point exactly at the size prefix of
	// the second block, here the terminator
	expectEnd := HeaderSize + int(onDisk.FirstBlockSize) + 8
	if len(raw) != expectEnd {
		t.Fatalf("first block size does not line up: file %d bytes, expected %d", len(raw), expectEnd)
	}
}

func TestScalarsNeverStraddleBlocks(t *testing.T) {

	head := NewIndexHeader(0, 0, 0, 0)

	// fill the first block up to 4 bytes short of its capacity, then
	// write an 8 byte value, which must move to the next block whole
	pad := make([]byte, BlockBytes-HeaderSize-4)
	for i := range pad {
		pad[i] = byte(i)
	}
	tail := uint64(0x1122334455667788)

	raw := saveToBuffer(t, &head, func(ar *SaveArchive) error {
		if err := Bytes(ar, pad); err != nil {
			return err
		}
		return Value(ar, &tail)
	})

	gotPad := make([]byte, len(pad))
	var gotTail uint64

	loadFromBuffer(t, raw, func(ar *LoadArchive) error {
		if err := Bytes(ar, gotPad); err != nil {
			return err
		}
		return Value(ar, &gotTail)
	})

	if !bytes.Equal(gotPad, pad) {
		t.Fatalf("padding differs after reload")
	}
	if gotTail != tail {
		t.Fatalf("tail value: got %x want %x", gotTail, tail)
	}
}

func TestSaveAfterCloseKeepsQuiet(t *testing.T) {

	var buf bytes.Buffer

	head := NewIndexHeader(0, 0, 0, 0)
	ar, err := NewSaveArchive(&buf, &head, nil)
	if err != nil {
		t.Fatalf("unable to create save archive : %s", err.Error())
	}

	if err := ar.Close(); err != nil {
		t.Fatalf("unable to close archive : %s", err.Error())
	}

	if err := ar.Close(); err != nil {
		t.Fatalf("second close errored : %s", err.Error())
	}
}
