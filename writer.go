package amar

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// maxOpenFiles is the largest number of simultaneously open files: the full
// 16-bit ID space minus the magic filenum and minus file ID 0, which this
// implementation reserves as "unallocated" so a zero-value FileHandle is
// never mistaken for a live one.
const maxOpenFiles = 65534

// Writer owns a sink, the coalescing write buffer, the pre-built archive
// header, and the table of currently open files. It emits a header
// immediately on creation and accepts NewFile calls until Close.
type Writer struct {
	buf    *writeBuffer
	hdr    [headerSize]byte
	logger *log.Logger

	mu          sync.Mutex // serializes async attribute feeds against the main writer path
	maxFilenum  uint16
	files       map[uint16]*FileHandle
	headerBytes int64
}

// NewWriter creates a Writer around sink and immediately writes the
// archive header. logger may be nil, in which case writer activity is not
// logged.
func NewWriter(sink io.Writer, logger *log.Logger) (*Writer, error) {
	w := &Writer{
		buf:    newWriteBuffer(sink),
		hdr:    formatHeader(),
		logger: logger,
		files:  make(map[uint16]*FileHandle),
	}
	if err := w.writeHeaderRecord(); err != nil {
		return nil, err
	}
	w.log().Debug("archive writer created")
	return w, nil
}

func (w *Writer) log() *log.Logger {
	if w.logger == nil {
		return discardLogger
	}
	return w.logger
}

// writeHeaderRecord appends a fresh copy of the archive header under
// archive.mu, so it never races a concurrent attribute feed's writes into
// the same buffer.
func (w *Writer) writeHeaderRecord() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.appendHeader(w.hdr[:]); err != nil {
		return err
	}
	w.headerBytes += headerSize
	return nil
}

// Position returns the archive's current logical byte offset: the sum of
// every byte handed to the sink plus every byte still buffered. Reads
// w.mu, since an AppendFromReaderAsync feed may be updating these same
// counters from another goroutine.
func (w *Writer) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.position + int64(w.buf.len)
}

// NewFile allocates a new file ID and writes its filename record.
func (w *Writer) NewFile(filename string) (*FileHandle, error) {
	return w.newFile(filename, false)
}

// NewFileAt behaves like NewFile, but first emits a fresh copy of the
// archive header and reports the archive position at which that header
// was written — useful for callers that concatenate several archives (or
// embed one inside a larger stream) and want to remember where each one
// begins.
func (w *Writer) NewFileAt(filename string) (fh *FileHandle, headerOffset int64, err error) {
	headerOffset = w.Position()
	fh, err = w.newFile(filename, true)
	return fh, headerOffset, err
}

func (w *Writer) newFile(filename string, emitHeader bool) (*FileHandle, error) {
	if len(filename) == 0 {
		return nil, newError(KindInvalidArgument, w.Position(), "filename must not be empty")
	}
	if len(filename) > MaxRecordPayload {
		return nil, newError(KindOutOfSpace, w.Position(), "filename of %d bytes exceeds the %d byte limit", len(filename), MaxRecordPayload)
	}
	if len(w.files) >= maxOpenFiles {
		return nil, newError(KindOutOfSpace, w.Position(), "no more file numbers available")
	}

	filenum := w.allocFilenum()

	if emitHeader {
		if err := w.writeHeaderRecord(); err != nil {
			return nil, err
		}
	}

	fh := &FileHandle{
		archive: w,
		filenum: filenum,
		attrs:   make(map[uint16]*AttrHandle),
	}

	if err := w.writeRecordLocked(filenum, AttrFilename, true, []byte(filename)); err != nil {
		return nil, err
	}
	fh.size += int64(recordSize + len(filename))

	w.files[filenum] = fh
	w.log().Debug("opened file", "filenum", filenum, "filename", filename)
	return fh, nil
}

// allocFilenum performs a linear probe from the last issued value,
// wrapping over the full 16-bit range, skipping both in-use IDs and the
// reserved magic and zero values. Callers must have already verified that
// fewer than maxOpenFiles files are open.
func (w *Writer) allocFilenum() uint16 {
	for {
		w.maxFilenum++
		if w.maxFilenum == magicFilenum || w.maxFilenum == 0 {
			continue
		}
		if _, inUse := w.files[w.maxFilenum]; !inUse {
			return w.maxFilenum
		}
	}
}

// closeFile is called by (*FileHandle).Close; it writes any missing EOA
// records, the EOF record, and removes the file from the open-files table.
func (w *Writer) closeFile(fh *FileHandle) error {
	for _, attr := range fh.attrs {
		if err := attr.closeNoRemove(); err != nil {
			return err
		}
	}
	fh.attrs = make(map[uint16]*AttrHandle)

	if err := w.writeRecordLocked(fh.filenum, AttrEOF, true, nil); err != nil {
		return err
	}
	fh.size += recordSize

	delete(w.files, fh.filenum)
	w.log().Debug("closed file", "filenum", fh.filenum)
	return nil
}

// writeRecordLocked writes one record under archive.mu. It must never be
// called while mu is already held by the calling goroutine (it does not
// nest): callers that need to wait on something else first — such as
// AttrHandle.closeNoRemove joining an async feed — must do so before
// calling this or AttrHandle.writeLocked, which takes the same lock.
func (w *Writer) writeRecordLocked(filenum, attrid uint16, eoa bool, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.writeRecord(filenum, attrid, eoa, data)
}

// Close requires that every opened file has already been closed, then
// flushes the write buffer.
func (w *Writer) Close() error {
	if len(w.files) != 0 {
		return newError(KindInvalidArgument, w.Position(), "cannot close archive with %d file(s) still open", len(w.files))
	}
	if err := w.buf.flush(); err != nil {
		return err
	}
	w.log().Debug("archive writer closed", "bytes", w.Position())
	return nil
}
