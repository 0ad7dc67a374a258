package zipatch

import "fmt"

// Signature opens every patch file.
var Signature = [12]byte{0x91, 'Z', 'I', 'P', 'A', 'T', 'C', 'H', '\r', '\n', 0x1a, '\n'}

// Framing sizes around a chunk payload.
const (
	chunkHeaderSize  = 8
	chunkTrailerSize = 4
)

// DefaultMaxChunkSize bounds the payload a chunk may declare.
const DefaultMaxChunkSize = 256 << 20

// Magic identifies a top-level chunk.
type Magic [4]byte

// Top-level chunk kinds.
var (
	MagicFileHeader      = Magic{'F', 'H', 'D', 'R'}
	MagicApplyOption     = Magic{'A', 'P', 'L', 'Y'}
	MagicAddDirectory    = Magic{'A', 'D', 'I', 'R'}
	MagicDeleteDirectory = Magic{'D', 'E', 'L', 'D'}
	MagicSqpk            = Magic{'S', 'Q', 'P', 'K'}
	MagicEndOfFile       = Magic{'E', 'O', 'F', '_'}
)

// Known reports whether m is a chunk kind this package understands.
func (m Magic) Known() bool {
	switch m {
	case MagicFileHeader, MagicApplyOption, MagicAddDirectory,
		MagicDeleteDirectory, MagicSqpk, MagicEndOfFile:
		return true
	}
	return false
}

func (m Magic) String() string {
	for _, c := range m {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%#x", m[:])
		}
	}
	return string(m[:])
}

// Chunk is one framed, checksum-verified unit of a patch.
type Chunk struct {
	// Index is the chunk's position in the stream, counting skipped chunks.
	Index int
	// Offset is the byte offset of the chunk's magic in the stream.
	Offset   int64
	Magic    Magic
	Payload  []byte
	Checksum uint32
}

// Size returns the framed size of the chunk.
func (c *Chunk) Size() int64 {
	return int64(chunkHeaderSize + len(c.Payload) + chunkTrailerSize)
}
