package zipatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strconv"

	"github.com/meigma/sqpack/internal/dat"
	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/internal/sqtype"
)

// Platform identifies the platform a patch targets.
type Platform = sqtype.Platform

// Operation is a decoded chunk.
type Operation interface {
	// Op returns the operation name used in logs and metrics.
	Op() string

	magic() Magic
	appendPayload(dst []byte) ([]byte, error)
}

// SQPK operation codes.
const (
	sqpkAddData      = 'A'
	sqpkDeleteData   = 'D'
	sqpkExpandData   = 'E'
	sqpkFileOp       = 'F'
	sqpkHeaderUpdate = 'H'
	sqpkIndexUpdate  = 'I'
	sqpkTargetInfo   = 'T'
	sqpkPatchInfo    = 'X'
)

// Fixed SQPK payload sizes, including the 4-byte inner size and op code.
const (
	sqpkPrefixSize     = 5
	addDataHeaderSize  = 28
	deleteDataSize     = 28
	headerUpdateSize   = 16 + sqtype.HeaderSize
	fileOpHeaderSize   = 32
	targetInfoSize     = 128
	patchInfoSize      = 16
	indexUpdateSize    = 40
	applyOptionSize    = 12
	fileHeaderMinSize  = 7
	fileHeaderV3Size   = 7 + 13*4
	directoryMinSize   = 4
	dataUnit           = index.OffsetAlign
	maxFileOpPieceSize = 8 << 20
)

var be = binary.BigEndian

// SegmentID addresses a segment file in a patch.
// Main is the category, Sub holds the expansion in its high byte and the
// chunk in its low byte, and File is the data file number (or the index
// variant for index files).
type SegmentID struct {
	Main uint16
	Sub  uint16
	File uint32
}

// Expansion returns the repository the segment belongs to.
func (s SegmentID) Expansion() uint8 {
	return uint8(s.Sub >> 8)
}

func (s SegmentID) segment() layout.Segment {
	return layout.SegmentFromIDs(s.Main, s.Sub)
}

// DatPath returns the slash-separated path of the data file, relative to the game root.
func (s SegmentID) DatPath(p Platform) string {
	return layout.DatFile(s.segment(), p, s.File)
}

// IndexPath returns the slash-separated path of the index file. File 0
// names the .index table and any other value N names .indexN.
func (s SegmentID) IndexPath(p Platform) string {
	ext := index.KindIndex1.String()
	if s.File != 0 {
		ext += strconv.FormatUint(uint64(s.File), 10)
	}
	return layout.IndexFile(s.segment(), p, ext)
}

func (s SegmentID) String() string {
	return fmt.Sprintf("%s.%d", s.segment(), s.File)
}

func decodeSegmentID(b []byte) SegmentID {
	return SegmentID{Main: be.Uint16(b), Sub: be.Uint16(b[2:]), File: be.Uint32(b[4:])}
}

func appendSegmentID(dst []byte, s SegmentID) []byte {
	dst = be.AppendUint16(dst, s.Main)
	dst = be.AppendUint16(dst, s.Sub)
	return be.AppendUint32(dst, s.File)
}

// AddData writes Data at Offset in a data file, then zeroes DeleteLength
// bytes after it.
type AddData struct {
	Segment      SegmentID
	Offset       uint64
	Data         []byte
	DeleteLength uint64
}

func (*AddData) Op() string   { return "add_data" }
func (*AddData) magic() Magic { return MagicSqpk }

func (o *AddData) appendPayload(dst []byte) ([]byte, error) {
	off, err := units(o.Offset, "offset")
	if err != nil {
		return nil, err
	}
	del, err := units(o.DeleteLength, "delete length")
	if err != nil {
		return nil, err
	}
	if uint64(len(o.Data)) > 1<<32-1 {
		return nil, fmt.Errorf("%w: %d data bytes", sqtype.ErrSizeOverflow, len(o.Data))
	}
	dst = sqpkPrefix(dst, addDataHeaderSize+len(o.Data), sqpkAddData)
	dst = append(dst, 0, 0, 0)
	dst = appendSegmentID(dst, o.Segment)
	dst = be.AppendUint32(dst, off)
	size := uint32(len(o.Data)) //nolint:gosec // checked above
	if size%dataUnit == 0 {
		size /= dataUnit
	}
	dst = be.AppendUint32(dst, size)
	dst = be.AppendUint32(dst, del)
	return append(dst, o.Data...), nil
}

// DeleteData retires Blocks 128-byte units at Offset: the range is zeroed
// and stamped with an empty placeholder header. The file never shrinks.
type DeleteData struct {
	Segment SegmentID
	Offset  uint64
	Blocks  uint32
}

func (*DeleteData) Op() string   { return "delete_data" }
func (*DeleteData) magic() Magic { return MagicSqpk }

func (o *DeleteData) appendPayload(dst []byte) ([]byte, error) {
	return appendBlockRange(dst, sqpkDeleteData, o.Segment, o.Offset, o.Blocks)
}

// ExpandData preallocates Blocks 128-byte units at Offset, growing the
// file as needed. The range is zeroed and stamped like DeleteData.
type ExpandData struct {
	Segment SegmentID
	Offset  uint64
	Blocks  uint32
}

func (*ExpandData) Op() string   { return "expand_data" }
func (*ExpandData) magic() Magic { return MagicSqpk }

func (o *ExpandData) appendPayload(dst []byte) ([]byte, error) {
	return appendBlockRange(dst, sqpkExpandData, o.Segment, o.Offset, o.Blocks)
}

func appendBlockRange(dst []byte, code byte, s SegmentID, offset uint64, blocks uint32) ([]byte, error) {
	off, err := units(offset, "offset")
	if err != nil {
		return nil, err
	}
	dst = sqpkPrefix(dst, deleteDataSize, code)
	dst = append(dst, 0, 0, 0)
	dst = appendSegmentID(dst, s)
	dst = be.AppendUint32(dst, off)
	dst = be.AppendUint32(dst, blocks)
	return append(dst, 0, 0, 0, 0), nil
}

// File kinds of a HeaderUpdate.
const (
	TargetDat   byte = 'D'
	TargetIndex byte = 'I'
)

// Header kinds of a HeaderUpdate.
const (
	HeaderVersion byte = 'V'
	HeaderIndex   byte = 'I'
	HeaderData    byte = 'D'
)

// HeaderUpdate overwrites a 1024-byte header of an index or data file.
// Version headers are written at offset 0, index and data segment headers
// at offset 1024.
type HeaderUpdate struct {
	FileKind   byte
	HeaderKind byte
	Segment    SegmentID
	Header     [sqtype.HeaderSize]byte
}

func (*HeaderUpdate) Op() string   { return "header_update" }
func (*HeaderUpdate) magic() Magic { return MagicSqpk }

// Offset returns where the header is written.
func (o *HeaderUpdate) Offset() int64 {
	if o.HeaderKind == HeaderVersion {
		return 0
	}
	return sqtype.HeaderSize
}

// Path returns the slash-separated file the header belongs to.
func (o *HeaderUpdate) Path(p Platform) string {
	if o.FileKind == TargetIndex {
		return o.Segment.IndexPath(p)
	}
	return o.Segment.DatPath(p)
}

func (o *HeaderUpdate) appendPayload(dst []byte) ([]byte, error) {
	dst = sqpkPrefix(dst, headerUpdateSize, sqpkHeaderUpdate)
	dst = append(dst, o.FileKind, o.HeaderKind, 0)
	dst = appendSegmentID(dst, o.Segment)
	return append(dst, o.Header[:]...), nil
}

// File operation kinds.
const (
	FileAdd       byte = 'A'
	FileRemoveAll byte = 'R'
	FileDelete    byte = 'D'
	FileMakeDir   byte = 'M'
)

// FileOperation changes a loose file under the game root.
//
// FileAdd writes Data at Offset, truncating the file first when Offset is
// 0. FileDelete removes Path. FileRemoveAll removes the repository folder of
// Expansion. FileMakeDir creates Path and its parents.
type FileOperation struct {
	Kind      byte
	Offset    uint64
	FileSize  uint64
	Expansion uint16
	// Path is slash-separated and relative to the game root.
	Path string
	Data []byte
}

func (*FileOperation) Op() string   { return "file_operation" }
func (*FileOperation) magic() Magic { return MagicSqpk }

func (o *FileOperation) appendPayload(dst []byte) ([]byte, error) {
	var blocks []byte
	if o.Kind == FileAdd {
		var err error
		for rest := o.Data; len(rest) > 0; {
			n := min(len(rest), dat.MaxBlockPayload)
			if blocks, err = dat.AppendBlock(blocks, rest[:n], true, binary.LittleEndian); err != nil {
				return nil, err
			}
			rest = rest[n:]
		}
	}
	name := append([]byte(o.Path), 0)
	dst = sqpkPrefix(dst, fileOpHeaderSize+len(name)+len(blocks), sqpkFileOp)
	dst = append(dst, o.Kind, 0, 0)
	dst = be.AppendUint64(dst, o.Offset)
	dst = be.AppendUint64(dst, uint64(len(o.Data)))
	dst = be.AppendUint32(dst, uint32(len(name))) //nolint:gosec // paths are short
	dst = be.AppendUint16(dst, o.Expansion)
	dst = append(dst, 0, 0)
	dst = append(dst, name...)
	return append(dst, blocks...), nil
}

// TargetInfo declares the platform and region a patch was built for.
type TargetInfo struct {
	Platform        Platform
	Region          int16
	Debug           bool
	Version         uint16
	DeletedDataSize uint64
	SeekCount       uint64
}

func (*TargetInfo) Op() string   { return "target_info" }
func (*TargetInfo) magic() Magic { return MagicSqpk }

func (o *TargetInfo) appendPayload(dst []byte) ([]byte, error) {
	dst = sqpkPrefix(dst, targetInfoSize, sqpkTargetInfo)
	dst = append(dst, 0, 0, 0)
	dst = be.AppendUint16(dst, uint16(o.Platform))
	dst = be.AppendUint16(dst, uint16(o.Region)) //nolint:gosec // bit pattern preserved
	var debug uint16
	if o.Debug {
		debug = 1
	}
	dst = be.AppendUint16(dst, debug)
	dst = be.AppendUint16(dst, o.Version)
	dst = binary.LittleEndian.AppendUint64(dst, o.DeletedDataSize)
	dst = binary.LittleEndian.AppendUint64(dst, o.SeekCount)
	return append(dst, make([]byte, targetInfoSize-32)...), nil
}

// PatchInfo carries install metadata. Applying it has no effect.
type PatchInfo struct {
	Status      uint8
	Version     uint8
	InstallSize uint64
}

func (*PatchInfo) Op() string   { return "patch_info" }
func (*PatchInfo) magic() Magic { return MagicSqpk }

func (o *PatchInfo) appendPayload(dst []byte) ([]byte, error) {
	dst = sqpkPrefix(dst, patchInfoSize, sqpkPatchInfo)
	dst = append(dst, o.Status, o.Version, 0)
	return be.AppendUint64(dst, o.InstallSize), nil
}

// Index update commands.
const (
	IndexAdd    byte = 'A'
	IndexDelete byte = 'D'
)

// IndexUpdate rewrites one entry of an index table in place. IndexAdd
// points an existing entry at DataFile and Offset; IndexDelete clears it.
type IndexUpdate struct {
	Command  byte
	Synonym  bool
	Segment  SegmentID
	Hash     uint64
	DataFile uint32
	Offset   uint64
}

func (*IndexUpdate) Op() string   { return "index_update" }
func (*IndexUpdate) magic() Magic { return MagicSqpk }

func (o *IndexUpdate) appendPayload(dst []byte) ([]byte, error) {
	off, err := units(o.Offset, "offset")
	if err != nil {
		return nil, err
	}
	var syn byte
	if o.Synonym {
		syn = 1
	}
	dst = sqpkPrefix(dst, indexUpdateSize, sqpkIndexUpdate)
	dst = append(dst, o.Command, syn, 0)
	dst = appendSegmentID(dst, o.Segment)
	dst = be.AppendUint64(dst, o.Hash)
	dst = be.AppendUint32(dst, o.DataFile)
	dst = be.AppendUint32(dst, off)
	return append(dst, make([]byte, 8)...), nil
}

// FileHeader opens a patch and names it.
type FileHeader struct {
	Version uint8
	Name    string
	// Counts are only present in version 3 headers.
	EntryFiles        uint32
	AddDirectories    uint32
	DeleteDirectories uint32
}

func (*FileHeader) Op() string   { return "file_header" }
func (*FileHeader) magic() Magic { return MagicFileHeader }

func (o *FileHeader) appendPayload(dst []byte) ([]byte, error) {
	var name [4]byte
	copy(name[:], o.Name)
	dst = append(dst, 0, 0, o.Version)
	dst = append(dst, name[:]...)
	if o.Version < 3 {
		return dst, nil
	}
	dst = be.AppendUint32(dst, o.EntryFiles)
	dst = be.AppendUint32(dst, o.AddDirectories)
	dst = be.AppendUint32(dst, o.DeleteDirectories)
	return append(dst, make([]byte, fileHeaderV3Size-fileHeaderMinSize-12)...), nil
}

// Apply options.
const (
	OptionIgnoreMissing     uint32 = 1
	OptionIgnoreOldMismatch uint32 = 2
)

// ApplyOption toggles a patch-wide behavior.
type ApplyOption struct {
	Option uint32
	Value  uint32
}

func (*ApplyOption) Op() string   { return "apply_option" }
func (*ApplyOption) magic() Magic { return MagicApplyOption }

func (o *ApplyOption) appendPayload(dst []byte) ([]byte, error) {
	dst = be.AppendUint32(dst, o.Option)
	dst = append(dst, 0, 0, 0, 0)
	return be.AppendUint32(dst, o.Value), nil
}

// AddDirectory creates a directory under the game root.
type AddDirectory struct {
	Path string
}

func (*AddDirectory) Op() string   { return "add_directory" }
func (*AddDirectory) magic() Magic { return MagicAddDirectory }

func (o *AddDirectory) appendPayload(dst []byte) ([]byte, error) {
	return appendDirectory(dst, o.Path), nil
}

// DeleteDirectory removes an empty directory under the game root.
type DeleteDirectory struct {
	Path string
}

func (*DeleteDirectory) Op() string   { return "delete_directory" }
func (*DeleteDirectory) magic() Magic { return MagicDeleteDirectory }

func (o *DeleteDirectory) appendPayload(dst []byte) ([]byte, error) {
	return appendDirectory(dst, o.Path), nil
}

func appendDirectory(dst []byte, p string) []byte {
	dst = be.AppendUint32(dst, uint32(len(p))) //nolint:gosec // paths are short
	return append(dst, p...)
}

// EndOfFile terminates a patch.
type EndOfFile struct{}

func (*EndOfFile) Op() string                               { return "end_of_file" }
func (*EndOfFile) magic() Magic                             { return MagicEndOfFile }
func (*EndOfFile) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

// units converts a byte count to the 128-byte units patches store.
func units(n uint64, what string) (uint32, error) {
	if n%dataUnit != 0 {
		return 0, fmt.Errorf("%w: %s %d is not a multiple of %d", sqtype.ErrSizeOverflow, what, n, dataUnit)
	}
	u := n / dataUnit
	if u > 1<<32-1 {
		return 0, fmt.Errorf("%w: %s %d", sqtype.ErrSizeOverflow, what, n)
	}
	return uint32(u), nil
}

func sqpkPrefix(dst []byte, size int, code byte) []byte {
	dst = be.AppendUint32(dst, uint32(size)) //nolint:gosec // bounded by chunk size
	return append(dst, code)
}

// decodePool inflates FileOperation blocks.
var decodePool = dat.NewDecompressPool()

// Decode parses a chunk's payload into an Operation.
//
// An SQPK operation code this package does not know returns
// ErrUnknownChunk. A payload too short for its operation returns
// ErrPatchCorrupt.
func Decode(c *Chunk) (Operation, error) {
	b := c.Payload
	switch c.Magic {
	case MagicSqpk:
		return decodeSqpk(b)
	case MagicFileHeader:
		if len(b) < fileHeaderMinSize {
			return nil, short(c.Magic.String(), len(b), fileHeaderMinSize)
		}
		o := &FileHeader{Version: b[2], Name: string(bytes.TrimRight(b[3:7], "\x00"))}
		if o.Version >= 3 && len(b) >= fileHeaderMinSize+12 {
			o.EntryFiles = be.Uint32(b[7:])
			o.AddDirectories = be.Uint32(b[11:])
			o.DeleteDirectories = be.Uint32(b[15:])
		}
		return o, nil
	case MagicApplyOption:
		if len(b) < applyOptionSize {
			return nil, short(c.Magic.String(), len(b), applyOptionSize)
		}
		return &ApplyOption{Option: be.Uint32(b), Value: be.Uint32(b[8:])}, nil
	case MagicAddDirectory, MagicDeleteDirectory:
		p, err := decodeDirectory(b)
		if err != nil {
			return nil, err
		}
		if c.Magic == MagicAddDirectory {
			return &AddDirectory{Path: p}, nil
		}
		return &DeleteDirectory{Path: p}, nil
	case MagicEndOfFile:
		return &EndOfFile{}, nil
	default:
		return nil, fmt.Errorf("%w: chunk %s", ErrUnknownChunk, c.Magic)
	}
}

func decodeDirectory(b []byte) (string, error) {
	if len(b) < directoryMinSize {
		return "", short("directory", len(b), directoryMinSize)
	}
	n := be.Uint32(b)
	if uint64(n) > uint64(len(b)-directoryMinSize) {
		return "", fmt.Errorf("%w: directory name of %d bytes in %d-byte payload", ErrPatchCorrupt, n, len(b))
	}
	return cleanPath(b[directoryMinSize : directoryMinSize+int(n)])
}

func decodeSqpk(b []byte) (Operation, error) {
	if len(b) < sqpkPrefixSize {
		return nil, short("SQPK", len(b), sqpkPrefixSize)
	}
	if inner := be.Uint32(b); uint64(inner) != uint64(len(b)) {
		return nil, fmt.Errorf("%w: SQPK size %d in %d-byte payload", ErrPatchCorrupt, inner, len(b))
	}
	switch code := b[4]; code {
	case sqpkAddData:
		if len(b) < addDataHeaderSize {
			return nil, short("add data", len(b), addDataHeaderSize)
		}
		// The size field counts 128-byte units. A length that is not a
		// whole number of units is stored as a byte count instead.
		data := b[addDataHeaderSize:]
		n := uint64(be.Uint32(b[20:]))
		if n*dataUnit != uint64(len(data)) && n != uint64(len(data)) {
			return nil, fmt.Errorf("%w: add data size %d does not match %d payload bytes", ErrPatchCorrupt, n, len(data))
		}
		return &AddData{
			Segment:      decodeSegmentID(b[8:]),
			Offset:       uint64(be.Uint32(b[16:])) * dataUnit,
			Data:         data,
			DeleteLength: uint64(be.Uint32(b[24:])) * dataUnit,
		}, nil
	case sqpkDeleteData, sqpkExpandData:
		if len(b) < deleteDataSize {
			return nil, short("delete data", len(b), deleteDataSize)
		}
		seg, off, blocks := decodeSegmentID(b[8:]), uint64(be.Uint32(b[16:]))*dataUnit, be.Uint32(b[20:])
		if code == sqpkExpandData {
			return &ExpandData{Segment: seg, Offset: off, Blocks: blocks}, nil
		}
		return &DeleteData{Segment: seg, Offset: off, Blocks: blocks}, nil
	case sqpkHeaderUpdate:
		if len(b) < headerUpdateSize {
			return nil, short("header update", len(b), headerUpdateSize)
		}
		o := &HeaderUpdate{FileKind: b[5], HeaderKind: b[6], Segment: decodeSegmentID(b[8:])}
		switch {
		case o.FileKind != TargetDat && o.FileKind != TargetIndex:
			return nil, fmt.Errorf("%w: header update file kind %q", ErrUnknownChunk, o.FileKind)
		case o.HeaderKind != HeaderVersion && o.HeaderKind != HeaderIndex && o.HeaderKind != HeaderData:
			return nil, fmt.Errorf("%w: header update header kind %q", ErrUnknownChunk, o.HeaderKind)
		}
		copy(o.Header[:], b[16:])
		return o, nil
	case sqpkFileOp:
		return decodeFileOperation(b)
	case sqpkTargetInfo:
		if len(b) < 32 {
			return nil, short("target info", len(b), 32)
		}
		platform := be.Uint16(b[8:])
		if platform > 0xff {
			return nil, fmt.Errorf("%w: target platform %#x", ErrPatchCorrupt, platform)
		}
		return &TargetInfo{
			Platform:        Platform(platform),
			Region:          int16(be.Uint16(b[10:])),   //nolint:gosec // bit pattern preserved
			Debug:           be.Uint16(b[12:]) != 0,
			Version:         be.Uint16(b[14:]),
			DeletedDataSize: binary.LittleEndian.Uint64(b[16:]),
			SeekCount:       binary.LittleEndian.Uint64(b[24:]),
		}, nil
	case sqpkPatchInfo:
		if len(b) < patchInfoSize {
			return nil, short("patch info", len(b), patchInfoSize)
		}
		return &PatchInfo{Status: b[5], Version: b[6], InstallSize: be.Uint64(b[8:])}, nil
	case sqpkIndexUpdate:
		if len(b) < indexUpdateSize-8 {
			return nil, short("index update", len(b), indexUpdateSize-8)
		}
		o := &IndexUpdate{
			Command:  b[5],
			Synonym:  b[6] != 0,
			Segment:  decodeSegmentID(b[8:]),
			Hash:     be.Uint64(b[16:]),
			DataFile: be.Uint32(b[24:]),
			Offset:   uint64(be.Uint32(b[28:])) * dataUnit,
		}
		if o.Command != IndexAdd && o.Command != IndexDelete {
			return nil, fmt.Errorf("%w: index command %q", ErrUnknownChunk, o.Command)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: SQPK operation %q", ErrUnknownChunk, code)
	}
}

func decodeFileOperation(b []byte) (Operation, error) {
	if len(b) < fileOpHeaderSize {
		return nil, short("file operation", len(b), fileOpHeaderSize)
	}
	o := &FileOperation{
		Kind:      b[5],
		Offset:    be.Uint64(b[8:]),
		FileSize:  be.Uint64(b[16:]),
		Expansion: be.Uint16(b[28:]),
	}
	n := uint64(be.Uint32(b[24:]))
	if n > uint64(len(b)-fileOpHeaderSize) {
		return nil, fmt.Errorf("%w: file operation path of %d bytes in %d-byte payload", ErrPatchCorrupt, n, len(b))
	}
	end := fileOpHeaderSize + int(n)

	switch o.Kind {
	case FileAdd, FileDelete, FileMakeDir:
		p, err := cleanPath(b[fileOpHeaderSize:end])
		if err != nil {
			return nil, err
		}
		o.Path = p
	case FileRemoveAll:
	default:
		return nil, fmt.Errorf("%w: file operation %q", ErrUnknownChunk, o.Kind)
	}

	if o.Kind == FileAdd && end < len(b) {
		data, err := dat.DecodePaddedBlocks(decodePool, b[end:], binary.LittleEndian, dat.DefaultMaxBlockSize)
		if err != nil {
			return nil, fmt.Errorf("%w: add file %s: %w", ErrPatchCorrupt, o.Path, err)
		}
		o.Data = data
	}
	if o.Kind == FileAdd && uint64(len(o.Data)) != o.FileSize {
		return nil, fmt.Errorf("%w: add file %s decoded %d bytes, header declares %d", ErrPatchCorrupt, o.Path, len(o.Data), o.FileSize)
	}
	return o, nil
}

// cleanPath validates a NUL-terminated relative path from a patch.
func cleanPath(raw []byte) (string, error) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	p := string(bytes.ReplaceAll(raw, []byte{'\\'}, []byte{'/'}))
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPatchCorrupt)
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == ".." || len(clean) >= 3 && clean[:3] == "../" {
		return "", fmt.Errorf("%w: path %q escapes the game root", ErrPatchCorrupt, p)
	}
	return clean, nil
}

func short(what string, have, want int) error {
	return fmt.Errorf("%w: %s payload is %d bytes, want at least %d", ErrPatchCorrupt, what, have, want)
}
