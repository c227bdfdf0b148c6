package serialization

// SizeArchive runs the save dispatch without producing bytes, it only
// counts them. The count covers the serialized values with their
// length prefixes, not the header or the block framing, and ignores
// compression.
type SizeArchive struct {
	archiveState

	size uint64
}

func NewSizeArchive() *SizeArchive {
	return &SizeArchive{}
}

func (ar *SizeArchive) Saving() bool {
	return true
}

func (ar *SizeArchive) scalar(p []byte) error {
	ar.size += uint64(len(p))
	return nil
}

func (ar *SizeArchive) binary(p []byte) error {
	ar.size += uint64(len(p))
	return nil
}

func (ar *SizeArchive) Size() uint64 {
	return ar.size
}

func (ar *SizeArchive) Reset() {
	ar.size = 0
}
