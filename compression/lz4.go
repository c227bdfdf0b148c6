package compression

import (
	"errors"

	"github.com/pierrec/lz4/v4"
)

// Bound returns the worst case compressed size of an n byte block.
func Bound(n int) int {
	return lz4.CompressBlockBound(n)
}

var hcLevels = [...]lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// BlockCompressor compresses independent lz4 blocks. Each instance owns
// its own match state, so separate instances can run concurrently.
type BlockCompressor struct {
	hc lz4.CompressorHC
}

func NewBlockCompressor(level int) *BlockCompressor {
	if level < 1 || level > 9 {
		level = 9
	}

	return &BlockCompressor{
		hc: lz4.CompressorHC{Level: hcLevels[level]},
	}
}

// Compress encodes src into dst and returns the number of bytes written.
// dst must hold at least Bound(len(src)) bytes. The block format has no
// marker for stored data, so input the matcher gives up on is still
// emitted as a single literal run instead of raw bytes.
func (c *BlockCompressor) Compress(src, dst []byte) (int, error) {
	if len(src) == 0 {
		if len(dst) < 1 {
			return 0, errors.New("output buffer too small")
		}
		dst[0] = 0
		return 1, nil
	}

	n, err := c.hc.CompressBlock(src, dst)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		// incompressible input
		return encodeLiterals(src, dst)
	}

	return n, nil
}

// encodeLiterals writes src as one literal-only sequence: a token with
// literal length 15, length extension bytes, then the bytes themselves.
func encodeLiterals(src, dst []byte) (int, error) {
	if len(dst) < literalLen(len(src)) {
		return 0, errors.New("output buffer too small")
	}

	pos := 0

	if len(src) < 15 {
		dst[pos] = byte(len(src)) << 4
		pos++
	} else {
		dst[pos] = 0xF0
		pos++

		left := len(src) - 15
		for left >= 255 {
			dst[pos] = 255
			pos++
			left -= 255
		}
		dst[pos] = byte(left)
		pos++
	}

	pos += copy(dst[pos:], src)

	return pos, nil
}

func literalLen(n int) int {
	if n < 15 {
		return 1 + n
	}
	return 1 + 1 + (n-15)/255 + n
}

// Decompress decodes one block into dst and returns the plaintext size.
// dict holds the previous block's plaintext for streams whose blocks
// reference their predecessor; pass nil for self contained blocks.
func Decompress(src, dst, dict []byte) (int, error) {
	if len(src) == 1 && src[0] == 0 {
		// canonical empty block
		return 0, nil
	}

	if len(dict) > 0 {
		return lz4.UncompressBlockWithDict(src, dst, dict)
	}

	return lz4.UncompressBlock(src, dst)
}
