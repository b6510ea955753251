// Package workspace loads playgrounds from directories.
//
// A workspace is a directory of sources plus an optional manifest
// (playground.yaml, playground.yml or playground.toml) naming the entry,
// include and exclude globs, the prelude, vendor module sources and the
// asset directory. Watcher turns file system events into debounced batches
// of edits for a live session.
package workspace
