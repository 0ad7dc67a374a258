// Package zipatch parses and applies ZiPatch files, the incremental update
// format for SqPack archives.
//
// A patch is a 12-byte signature followed by framed chunks:
//
//	magic [4]byte | size uint32 (big-endian) | payload [size]byte | crc32 uint32 (big-endian)
//
// The checksum is the IEEE CRC-32 of the payload. SQPK chunks carry
// archive mutations (AddData, DeleteData, ExpandData, HeaderUpdate,
// FileOperation, IndexUpdate); the stream ends with an EOF_ chunk.
//
// Chunks must be applied in stream order: later operations assume earlier
// ones have landed. There is no rollback. A failed patch leaves chunks
// 0..LastApplied applied and reports how far it got in an *ApplyError.
//
// Apply parses and applies a whole stream:
//
//	res, err := zipatch.Apply(ctx, f, target)
//	var ae *zipatch.ApplyError
//	if errors.As(err, &ae) {
//	    log.Printf("patch stopped after chunk %d", ae.LastApplied)
//	}
//
// Parser and Applier can be used directly to inspect chunks or to apply a
// subset of them.
package zipatch
