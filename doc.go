// Package amar implements the AMANDA archive (AMAR) format.
//
// The AMAR format is a streaming, record-oriented binary container used to
// multiplex multiple logical files and their per-file attributes into a
// single byte stream. It is designed for sequential media (pipes, tapes,
// sockets) as well as seekable files: a writer never rewrites a byte once
// written, and a reader can reassemble records from arbitrary byte
// boundaries of the underlying stream.
//
// The API for this package is split by concern: Writer and FileHandle /
// AttrHandle build an archive; Reader and EventReader consume one. Both
// sides share the same wire format, described in record.go.
package amar
