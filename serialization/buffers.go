package serialization

// BlockBytes is the plaintext capacity of one block. Values never
// straddle a block boundary, so blocks on disk hold up to this much.
const BlockBytes = 1024 * 64

// blockBuffer keeps both plaintext halves in a single arena. The
// inactive half stays untouched between swaps, it is the dictionary
// history for the block in flight.
type blockBuffer struct {
	arena  []byte
	halves [2][]byte

	active int
}

func newBlockBuffer() *blockBuffer {
	arena := make([]byte, 2*BlockBytes)

	buf := &blockBuffer{arena: arena}
	buf.halves[0] = arena[0:BlockBytes:BlockBytes]
	buf.halves[1] = arena[BlockBytes : 2*BlockBytes : 2*BlockBytes]

	return buf
}

func (b *blockBuffer) current() []byte {
	return b.halves[b.active]
}

func (b *blockBuffer) swap() {
	b.active = 1 - b.active
}

func (b *blockBuffer) release() {
	b.arena = nil
	b.halves[0] = nil
	b.halves[1] = nil
}
