package sqtype

import (
	"bytes"
	"fmt"
)

// HeaderMagic opens every index and data file.
var HeaderMagic = [8]byte{'S', 'q', 'P', 'a', 'c', 'k', 0, 0}

// HeaderSize is the size of the SqPack header, and of the segment header
// that follows it in index and data files.
const HeaderSize = 1024

// FileType is the kind of SqPack file recorded in its header.
type FileType uint32

const (
	FileTypeSQDB  FileType = 0
	FileTypeData  FileType = 1
	FileTypeIndex FileType = 2
)

// Header is the leading SqPack header shared by index and data files.
type Header struct {
	Platform Platform
	Size     uint32
	Version  uint32
	Type     FileType
}

// Header field offsets.
const (
	headerPlatformOffset = 0x08
	headerSizeOffset     = 0x0c
	headerVersionOffset  = 0x10
	headerTypeOffset     = 0x14
	headerMinLen         = 0x18
)

// ParseHeader decodes the SqPack header at the start of data.
// The platform byte selects the byte order of the remaining fields.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerMinLen {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrParse, headerMinLen, len(data))
	}
	if !bytes.Equal(data[:len(HeaderMagic)], HeaderMagic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrParse, data[:len(HeaderMagic)])
	}
	p := Platform(data[headerPlatformOffset])
	if !p.Valid() {
		return Header{}, fmt.Errorf("%w: unknown platform id %d", ErrParse, uint8(p))
	}
	order := p.ByteOrder()
	return Header{
		Platform: p,
		Size:     order.Uint32(data[headerSizeOffset:]),
		Version:  order.Uint32(data[headerVersionOffset:]),
		Type:     FileType(order.Uint32(data[headerTypeOffset:])),
	}, nil
}

// AppendHeader encodes h as a full HeaderSize-byte block.
func AppendHeader(dst []byte, h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, HeaderMagic[:])
	buf[headerPlatformOffset] = byte(h.Platform)
	order := h.Platform.ByteOrder()
	size := h.Size
	if size == 0 {
		size = HeaderSize
	}
	order.PutUint32(buf[headerSizeOffset:], size)
	order.PutUint32(buf[headerVersionOffset:], h.Version)
	order.PutUint32(buf[headerTypeOffset:], uint32(h.Type))
	return append(dst, buf...)
}
