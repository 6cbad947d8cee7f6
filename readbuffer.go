package amar

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// seeker is the subset of io.Seeker a read source may optionally support;
// readBuffer probes for it once and latches whether seeking actually works.
type seeker interface {
	Seek(offset int64, whence int) (int64, error)
}

// readBuffer is a grow-and-compact byte window over a source: the window
// lives in an owned region at [offset, offset+length), with capacity bytes
// total allocated. ensureAtLeast grows or compacts as needed; skip discards
// bytes, falling back from seek to read when the source isn't seekable.
type readBuffer struct {
	src    io.Reader
	seek   seeker // nil if src does not implement io.Seeker
	seekOK bool   // latched false on first ESPIPE-like failure

	buf    []byte
	offset int
	length int

	gotEOF      bool
	justLseeked bool

	position int64
}

func newReadBuffer(src io.Reader, initialSize int) *readBuffer {
	rb := &readBuffer{src: src, buf: make([]byte, initialSize)}
	if sk, ok := src.(seeker); ok {
		rb.seek = sk
		rb.seekOK = true
	}
	return rb
}

func (rb *readBuffer) ptr() []byte    { return rb.buf[rb.offset : rb.offset+rb.length] }
func (rb *readBuffer) available() int { return rb.length }

// growFor ensures the backing array has room for n live bytes starting at
// offset 0, reallocating if capacity itself is too small or compacting
// (shifting the live window to offset 0) if there's room but not where the
// window currently sits.
func (rb *readBuffer) growFor(n int) {
	if len(rb.buf) < n {
		newbuf := make([]byte, n)
		copy(newbuf, rb.ptr())
		rb.buf = newbuf
		rb.offset = 0
	} else if len(rb.buf)-rb.offset < n {
		copy(rb.buf, rb.ptr())
		rb.offset = 0
	}
}

// ensureAtLeast reads from the source until at least n bytes are live in
// the window, growing or compacting the backing array as needed. It
// returns false if that many bytes are not available due to EOF or a read
// error (which latches gotEOF permanently). Used by the synchronous
// Reader, which may block on I/O.
func (rb *readBuffer) ensureAtLeast(n int) bool {
	if rb.length >= n {
		return true
	}
	if rb.gotEOF {
		return false
	}

	rb.growFor(n)

	var toRead int
	if rb.justLseeked {
		toRead = n - rb.length
	} else {
		toRead = len(rb.buf) - rb.offset - rb.length
	}
	rb.justLseeked = false

	dst := rb.buf[rb.offset+rb.length : rb.offset+rb.length+toRead]
	read, err := io.ReadFull(rb.src, dst)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		rb.gotEOF = true
	} else if read < toRead {
		rb.gotEOF = true
	}
	rb.length += read

	return rb.length >= n
}

// fillOnce performs exactly one Read call, appending whatever it returns
// to the window (growing the buffer first if it's completely full). It
// never blocks longer than a single call to src.Read. Used by EventReader,
// which is driven by external readiness notification and must not hide a
// second blocking call inside a single wake-up.
func (rb *readBuffer) fillOnce() (n int, err error) {
	if rb.offset+rb.length == len(rb.buf) {
		rb.growFor(len(rb.buf) + rb.length + 1)
	}
	dst := rb.buf[rb.offset+rb.length:]
	n, err = rb.src.Read(dst)
	rb.length += n
	if err == io.EOF {
		rb.gotEOF = true
	}
	return n, err
}

// skip discards n live bytes, advancing the source by seek (preferred, on
// seekable sources) or by repeated reads if n exceeds the live window. On
// the first seek failure that looks like ESPIPE, the source is latched as
// non-seekable and the fallback switches permanently to read-based
// skipping, matching the single-retry behaviour of amar.c's buf_skip_.
func (rb *readBuffer) skip(n int64) bool {
	if n <= int64(rb.length) {
		rb.length -= int(n)
		rb.offset += int(n)
		rb.position += n
		return true
	}

	remaining := n - int64(rb.length)
	rb.position += int64(rb.length)
	rb.length = 0
	rb.offset = 0

	if rb.seekOK {
		if _, err := rb.seek.Seek(remaining, io.SeekCurrent); err == nil {
			rb.position += remaining
			rb.justLseeked = true
			return true
		} else if !looksNotSeekable(err) {
			rb.gotEOF = true
			return false
		}
		// not seekable: latch and fall through to read-based skip
		rb.seekOK = false
	}

	for remaining > 0 {
		toRead := remaining
		if toRead > int64(len(rb.buf)) {
			toRead = int64(len(rb.buf))
		}
		read, err := io.ReadFull(rb.src, rb.buf[:toRead])
		rb.position += int64(read)
		remaining -= int64(read)
		if err != nil || int64(read) < toRead {
			rb.gotEOF = true
			return false
		}
	}
	return true
}

// looksNotSeekable reports whether err indicates the source cannot seek at
// all (a pipe, socket, or similar), as opposed to some other seek failure.
func looksNotSeekable(err error) bool {
	return errors.Is(err, unix.ESPIPE) || errors.Is(err, io.ErrClosedPipe)
}
