// Package index parses SqPack .index and .index2 hash tables.
//
// A table maps a path hash to a packed Location naming the data file and
// the 128-byte aligned offset of the file's header inside it. Lookups are
// map-backed and a miss is reported with ok=false rather than an error.
package index
