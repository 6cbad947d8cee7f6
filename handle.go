package amar

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// FileHandle is owned by the Writer that created it. It tracks the
// cumulative bytes written for this file (including record overhead) and
// the table of attributes opened on it.
type FileHandle struct {
	archive *Writer
	filenum uint16
	size    int64
	attrs   map[uint16]*AttrHandle
}

// Filenum returns the file ID assigned to this handle by NewFile.
func (fh *FileHandle) Filenum() uint16 { return fh.filenum }

// Size returns the cumulative bytes written for this file so far,
// including record preambles.
func (fh *FileHandle) Size() int64 {
	fh.archive.mu.Lock()
	defer fh.archive.mu.Unlock()
	return fh.size
}

// NewAttr opens a new attribute on this file. attrid must be AttrAppStart
// or greater and must not already be open on this file.
func (fh *FileHandle) NewAttr(attrid uint16) (*AttrHandle, error) {
	if attrid < AttrAppStart {
		return nil, newError(KindInvalidArgument, fh.archive.Position(), "attribute id %d is reserved", attrid)
	}
	if _, exists := fh.attrs[attrid]; exists {
		return nil, newError(KindInvalidArgument, fh.archive.Position(), "attribute %d already open on file %d", attrid, fh.filenum)
	}
	attr := &AttrHandle{file: fh, attrid: attrid}
	fh.attrs[attrid] = attr
	return attr, nil
}

// Close closes every attribute on this file that has not yet written EOA
// (emitting empty EOA records for them), writes the file's EOF record, and
// detaches the file from its archive.
func (fh *FileHandle) Close() error {
	return fh.archive.closeFile(fh)
}

// AttrHandle is owned by the FileHandle that created it. It tracks the
// cumulative payload bytes written and whether an EOA record has been
// emitted yet; closing is idempotent once EOA has been written.
type AttrHandle struct {
	file     *FileHandle
	attrid   uint16
	size     int64
	wroteEOA bool
	feed     *errgroup.Group
}

// Attrid returns the attribute ID this handle was opened with.
func (a *AttrHandle) Attrid() uint16 { return a.attrid }

// Size returns the cumulative payload bytes written to this attribute.
func (a *AttrHandle) Size() int64 {
	a.file.archive.mu.Lock()
	defer a.file.archive.mu.Unlock()
	return a.size
}

// AppendBuffer fragments data into records of at most MaxRecordPayload
// bytes each. Only the final record of this call carries EOA, and only if
// eoa is true. The attribute must not have already written EOA.
//
// Each record is written under archive.mu, so this may be called safely
// while an AppendFromReaderAsync feed is in flight on another attribute of
// the same archive.
func (a *AttrHandle) AppendBuffer(data []byte, eoa bool) error {
	if a.wroteEOA {
		return newError(KindInvalidArgument, a.file.archive.Position(), "attribute %d already wrote EOA", a.attrid)
	}

	for len(data) > 0 {
		chunk := data
		recEOA := false
		if len(chunk) > MaxRecordPayload {
			chunk = chunk[:MaxRecordPayload]
		} else if eoa {
			recEOA = true
		}
		if err := a.writeLocked(recEOA, chunk); err != nil {
			return err
		}
		data = data[len(chunk):]
	}

	if eoa && !a.wroteEOA {
		// len(data) was already zero: the canonical empty-EOA record.
		if err := a.writeLocked(true, nil); err != nil {
			return err
		}
	}

	return nil
}

// writeLocked emits one record for this attribute under archive.mu,
// updating the file/attribute byte counters and the EOA flag atomically
// with the write itself. Every record this package ever writes goes
// through here or one of Writer's own locked helpers, so a synchronous
// caller and an AppendFromReaderAsync feed on a different attribute of the
// same archive never race on writeBuffer.
func (a *AttrHandle) writeLocked(eoa bool, chunk []byte) error {
	archive := a.file.archive
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if err := archive.buf.writeRecord(a.file.filenum, a.attrid, eoa, chunk); err != nil {
		return err
	}
	a.file.size += int64(recordSize + len(chunk))
	a.size += int64(len(chunk))
	if eoa {
		a.wroteEOA = true
	}
	return nil
}

// AppendFromReader loops reading up to MaxRecordPayload bytes per record
// until r reports EOF. A short read produces a short record; a short read
// combined with eoa=true flips EOA on the final emitted record. A read
// error terminates the call, but every byte read up to the error has
// already been flushed as records; on error, EOA is not set (the caller
// may retry with a different source). Returns the number of payload bytes
// written.
func (a *AttrHandle) AppendFromReader(r io.Reader, eoa bool) (int64, error) {
	if a.wroteEOA {
		return 0, newError(KindInvalidArgument, a.file.archive.Position(), "attribute %d already wrote EOA", a.attrid)
	}

	archive := a.file.archive
	buf := make([]byte, MaxRecordPayload)
	var written int64

	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr == io.ErrUnexpectedEOF {
			readErr = io.EOF
		}
		short := n < MaxRecordPayload

		if n > 0 || (n == 0 && readErr == io.EOF && eoa) {
			recEOA := eoa && short && readErr == io.EOF
			if err := a.writeLocked(recEOA, buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, newError(KindIOFailure, archive.Position(), "reading attribute payload: %w", readErr)
		}
		if short {
			return written, nil
		}
	}
}

// AppendFromReaderAsync spawns a background goroutine that runs
// AppendFromReader, then closes rc if it implements io.Closer. Close joins
// any outstanding worker before emitting the attribute's terminating
// record. The worker's records interleave with records written
// synchronously for other attributes of the same archive only at record
// boundaries, because every write goes through writeLocked, which holds
// archive.mu for exactly one record.
func (a *AttrHandle) AppendFromReaderAsync(rc io.Reader, eoa bool) {
	a.feed = &errgroup.Group{}
	a.feed.Go(func() error {
		_, err := a.AppendFromReader(rc, eoa)
		if closer, ok := rc.(io.Closer); ok {
			closer.Close()
		}
		return err
	})
}

// Close emits an EOA-only record if one has not already been written, and
// joins any outstanding async feed. Closing an already-closed attribute is
// a no-op.
func (a *AttrHandle) Close() error {
	err := a.closeNoRemove()
	delete(a.file.attrs, a.attrid)
	return err
}

// closeNoRemove waits for any in-flight async feed before touching
// anything: it must not hold archive.mu while waiting, since the feed
// goroutine it's joining needs that same lock to make progress.
func (a *AttrHandle) closeNoRemove() error {
	if a.feed != nil {
		if err := a.feed.Wait(); err != nil {
			return err
		}
		a.feed = nil
	}
	if a.wroteEOA {
		return nil
	}
	return a.writeLocked(true, nil)
}
