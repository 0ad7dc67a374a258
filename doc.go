// Package sqpack reads SqPack game archives and applies ZiPatch updates to them.
//
// A game root holds a sqpack/ folder with one repository per expansion.
// Each repository stores assets in segments: hash tables (.index, .index2)
// that map path hashes to locations in block-compressed data files (.datN).
//
// # Quick Start
//
// Open an archive and extract a file:
//
//	arc, err := sqpack.Open("/games/ffxiv/game")
//	if err != nil {
//	    return err
//	}
//	defer arc.Close()
//
//	data, err := arc.Extract("exd/root.exl")
//
// Archive also implements fs.FS, fs.StatFS and fs.ReadFileFS, so archive
// paths can be read with the standard library:
//
//	data, err := fs.ReadFile(arc, "exd/root.exl")
//
// # Patching
//
// ApplyPatch streams a ZiPatch file into the archive and reloads it:
//
//	f, err := os.Open("H2017.06.06.0000.0001a.patch")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	res, err := arc.ApplyPatch(ctx, f)
//
// Reads must not run while a patch is being applied. The zipatch package
// exposes the parser and applier for callers that need finer control.
//
// # Copying
//
// CopyTo extracts many files into a directory with a worker pool:
//
//	err := arc.CopyTo(ctx, "out", []string{"exd/root.exl", "exd/item.exh"})
//
// # Caching
//
// WithCache stores extracted files, keyed by data file identity and offset:
//
//	c, err := disk.New("/var/cache/sqpack", disk.WithMaxBytes(1<<30))
//	arc, err := sqpack.Open(root, sqpack.WithCache(c))
package sqpack
