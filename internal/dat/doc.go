// Package dat reconstructs files stored in SqPack data files.
//
// A file record starts with a header naming its content type and layout,
// followed by 16-byte-headed blocks that are either raw-deflate compressed
// or stored verbatim. Reader decodes standard, model and texture records,
// checking every block against the sizes the header declares. The Append
// functions produce the same records.
package dat
