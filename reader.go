package amar

import (
	"io"

	"github.com/charmbracelet/log"
)

// AttrCallback receives one hunk of an attribute's payload. attrState is a
// slot the reader owns on the callback's behalf: the callback may set it on
// the first call for a given (file, attribute) and read or replace it on
// later calls; the reader never interprets or frees it. Returning false
// unwinds the read — see Reader.Read / EventReader for how the error is
// surfaced.
type AttrCallback func(filenum uint16, fileState interface{}, attrid uint16, handlerData interface{}, attrState *interface{}, payload []byte, eoa, truncated bool) bool

// AttrHandling describes how one application attribute ID should be
// routed: MinSize is the smallest payload length the reader accumulates
// before invoking Callback; zero means "deliver every record immediately,
// never buffer."
type AttrHandling struct {
	Attrid      uint16
	Callback    AttrCallback
	MinSize     int
	HandlerData interface{}
}

// FileStartFunc is invoked on each filename record. It returns the user's
// per-file state and whether this file should be ignored (its records
// silently skipped).
type FileStartFunc func(filenum uint16, filename string) (fileState interface{}, ignore bool)

// FileFinishFunc is invoked when a file's EOF record arrives, or at
// end-of-stream / truncation with truncated set to true.
type FileFinishFunc func(filenum uint16, fileState interface{}, truncated bool)

// DoneFunc is invoked once processing has finished, successfully or not.
type DoneFunc func(err error)

// Policy is the user-supplied routing table passed to NewReader /
// NewEventReader.
type Policy struct {
	Handlers   []AttrHandling
	FileStart  FileStartFunc
	FileFinish FileFinishFunc
	Done       DoneFunc
}

func (p *Policy) lookup(attrid uint16) *AttrHandling {
	for i := range p.Handlers {
		if p.Handlers[i].Attrid == attrid {
			return &p.Handlers[i]
		}
	}
	return nil
}

type openAttr struct {
	attrid      uint16
	handling    *AttrHandling
	buf         []byte
	attrState   interface{}
	wroteEOA    bool
	passthrough io.Writer
}

type openFile struct {
	filenum   uint16
	fileState interface{}
	ignore    bool
	attrs     map[uint16]*openAttr
}

// demux is the shared record-dispatch state machine (C6) used by both the
// synchronous Reader and the event-driven EventReader: it owns the table
// of open files and attributes, applies the handler policy, and knows how
// to classify and finalize records. It does not itself decide how bytes
// arrive (blocking vs. event-driven) — that is the caller's job.
type demux struct {
	policy       Policy
	logger       *log.Logger
	files        map[uint16]*openFile
	passthroughs map[passthroughKey]io.Writer
	sawHeader    bool
	records      int64
	err          error
}

type passthroughKey struct {
	filenum uint16
	attrid  uint16
}

func newDemux(policy Policy, logger *log.Logger) *demux {
	if logger == nil {
		logger = discardLogger
	}
	return &demux{
		policy:       policy,
		logger:       logger,
		files:        make(map[uint16]*openFile),
		passthroughs: make(map[passthroughKey]io.Writer),
	}
}

// routeToFile arranges for filenum/attrid's payload to be written verbatim
// to w instead of dispatched to a callback. Must be called before the
// file's records are seen, or it only applies to this and later calls for
// the attribute.
func (d *demux) routeToFile(filenum, attrid uint16, w io.Writer) {
	d.passthroughs[passthroughKey{filenum, attrid}] = w
}

// finishAttr invokes the handler one final time with whatever is
// accumulated (possibly zero bytes) and marks EOA written.
func (d *demux) finishAttr(fs *openFile, as *openAttr, truncated bool) bool {
	if as.wroteEOA || as.handling == nil || as.handling.Callback == nil {
		return true
	}
	return as.handling.Callback(fs.filenum, fs.fileState, as.attrid, as.handling.HandlerData, &as.attrState, as.buf, true, truncated)
}

// finishFile finalizes every still-open attribute on fs, then invokes
// FileFinish unless the file was ignored.
func (d *demux) finishFile(fs *openFile, truncated bool) bool {
	if truncated {
		d.logger.Debug("file truncated", "filenum", fs.filenum)
	}
	success := true
	for _, as := range fs.attrs {
		if !d.finishAttr(fs, as, true) {
			success = false
		}
	}
	fs.attrs = nil
	if d.policy.FileFinish != nil && !fs.ignore {
		d.policy.FileFinish(fs.filenum, fs.fileState, truncated)
	}
	return success
}

// endOfStream finalizes every still-open file as truncated and invokes
// Done.
func (d *demux) endOfStream(err error) {
	for _, fs := range d.files {
		d.finishFile(fs, true)
	}
	d.files = make(map[uint16]*openFile)
	d.logger.Debug("end of stream", "records", d.records, "err", err)
	if d.policy.Done != nil {
		d.policy.Done(err)
	}
}

// handleHunk buffers the data and/or calls the handler for an application
// attribute's payload, per the accumulation/fast-path rules in §4.6: a
// record that alone satisfies min-size never touches the accumulation
// buffer; otherwise bytes accumulate until min-size or EOA.
func (d *demux) handleHunk(fs *openFile, as *openAttr, hdl *AttrHandling, payload []byte, eoa bool) bool {
	if hdl.MinSize == 0 || (len(as.buf) == 0 && len(payload) >= hdl.MinSize) {
		ok := hdl.Callback(fs.filenum, fs.fileState, as.attrid, hdl.HandlerData, &as.attrState, payload, eoa, false)
		as.wroteEOA = eoa
		return ok
	}

	if len(as.buf) == 0 {
		d.logger.Debug("accumulating attribute below MinSize", "filenum", fs.filenum, "attrid", as.attrid, "minsize", hdl.MinSize, "got", len(payload))
	}
	as.buf = append(as.buf, payload...)
	if len(as.buf) >= hdl.MinSize || eoa {
		ok := hdl.Callback(fs.filenum, fs.fileState, as.attrid, hdl.HandlerData, &as.attrState, as.buf, eoa, false)
		as.buf = nil
		as.wroteEOA = eoa
		return ok
	}
	return true
}

// dispatchApp handles one application-attribute record: it is shared by
// the synchronous reader (which always has the full record available) and
// the event reader (ditto, since both only call this once a full record's
// payload has been buffered).
func (d *demux) dispatchApp(fs *openFile, rec record, payload []byte) bool {
	if fs == nil || fs.ignore {
		return true
	}

	if w, ok := d.passthroughs[passthroughKey{fs.filenum, rec.attrid}]; ok {
		if len(payload) > 0 {
			if _, err := w.Write(payload); err != nil {
				d.err = newError(KindIOFailure, -1, "routing attribute %d of file %d to destination: %w", rec.attrid, fs.filenum, err)
				return false
			}
		}
		return true
	}

	as := fs.attrs[rec.attrid]

	// fast path: a whole, single-record attribute with no prior state.
	if rec.eoa && as == nil {
		hdl := d.policy.lookup(rec.attrid)
		if hdl == nil || hdl.Callback == nil {
			return true
		}
		var tmp interface{}
		return hdl.Callback(fs.filenum, fs.fileState, rec.attrid, hdl.HandlerData, &tmp, payload, true, false)
	}

	if as == nil {
		as = &openAttr{attrid: rec.attrid, handling: d.policy.lookup(rec.attrid)}
		if fs.attrs == nil {
			fs.attrs = make(map[uint16]*openAttr)
		}
		fs.attrs[rec.attrid] = as
	}

	ok := true
	if as.handling != nil && as.handling.Callback != nil {
		ok = d.handleHunk(fs, as, as.handling, payload, rec.eoa)
	}

	if rec.eoa {
		ok = d.finishAttr(fs, as, false) && ok
		delete(fs.attrs, rec.attrid)
	}
	return ok
}

// Reader consumes an archive synchronously: Read blocks until the source
// reaches EOF or a handler requests early termination, emitting callbacks
// as it goes.
type Reader struct {
	rb *readBuffer
	d  *demux
}

// NewReader constructs a Reader over src, applying policy. logger may be
// nil.
func NewReader(src io.Reader, policy Policy, logger *log.Logger) *Reader {
	return &Reader{rb: newReadBuffer(src, 1024), d: newDemux(policy, logger)}
}

// Position returns the archive's current logical byte offset.
func (r *Reader) Position() int64 { return r.rb.position }

// RouteToFile arranges for filenum/attrid's payload to be written verbatim
// to w instead of dispatched to a callback; no accumulation buffer is ever
// allocated for a routed attribute.
func (r *Reader) RouteToFile(filenum, attrid uint16, w io.Writer) {
	r.d.routeToFile(filenum, attrid, w)
}

// Read processes the entire archive, invoking callbacks as records arrive,
// until EOF or a handler returns false. It returns the first error
// encountered, or nil on a clean end-of-stream.
func (r *Reader) Read() error {
	for {
		cont, err := r.step()
		if err != nil {
			r.d.endOfStream(err)
			return err
		}
		if !cont {
			r.d.endOfStream(nil)
			return nil
		}
	}
}

// step processes exactly one record, or detects clean end-of-stream.
// cont is false only on a clean, final end-of-stream; errors are always
// returned via err.
func (r *Reader) step() (cont bool, err error) {
	if !r.rb.ensureAtLeast(recordSize) {
		// No more data at all: a clean EOF between records requires that
		// there be no dangling partial record, and that we've already
		// seen the archive header.
		if r.rb.available() != 0 {
			return false, newError(KindInvalidArchive, r.rb.position, "archive ended with a partial record")
		}
		if r.d.sawHeader {
			return false, nil
		}
		return false, newError(KindInvalidArchive, r.rb.position, "archive is empty or truncated before its header")
	}

	rec := decodeRecord(r.rb.ptr())

	if rec.filenum == magicFilenum {
		if !r.rb.ensureAtLeast(headerSize) {
			return false, newError(KindInvalidArchive, r.rb.position, "truncated archive header")
		}
		version, perr := parseHeader(r.rb.ptr())
		if perr != nil {
			return false, newError(KindInvalidArchive, r.rb.position, "invalid archive header: %w", perr)
		}
		if version > headerVersion {
			return false, newError(KindInvalidArchive, r.rb.position, "archive version %d is not supported", version)
		}
		r.d.sawHeader = true
		r.rb.skip(headerSize)
		return true, nil
	}

	if rec.size > MaxRecordPayload {
		return false, newError(KindInvalidArchive, r.rb.position, "record payload of %d bytes exceeds the %d byte limit", rec.size, MaxRecordPayload)
	}

	if rec.attrid == AttrFilename && rec.size == 0 {
		// Candidate padding block: only decide once the documented
		// 512-byte window is available. A short tail that never reaches
		// 512 bytes is always an error, even if every byte in it happens
		// to be NUL — only a full 512-byte block is the documented
		// padding convention.
		if !r.rb.ensureAtLeast(512) {
			return false, newError(KindInvalidArchive, r.rb.position, "archive ended with a partial record")
		}
		if allZero(r.rb.ptr()[recordSize:512]) {
			return false, nil
		}
		return false, newError(KindInvalidArchive, r.rb.position, "file %d has an empty filename", rec.filenum)
	}

	if !r.rb.ensureAtLeast(recordSize + int(rec.size)) {
		return false, newError(KindInvalidArchive, r.rb.position, "archive ended with a partial record")
	}

	payload := append([]byte(nil), r.rb.ptr()[recordSize:recordSize+int(rec.size)]...)
	r.rb.skip(recordSize + int64(rec.size))

	return r.d.handleRecord(r.rb.position, rec, payload)
}

// handleRecord dispatches one fully-buffered record: reserved attributes
// (filename/EOF) update the open-file table directly, everything else goes
// through dispatchApp. Shared between Reader and EventReader, which differ
// only in how they get a full record's bytes into hand before calling this.
func (d *demux) handleRecord(pos int64, rec record, payload []byte) (cont bool, err error) {
	d.records++
	if rec.attrid < AttrAppStart {
		switch rec.attrid {
		case AttrEOF:
			if len(payload) != 0 {
				return false, newError(KindInvalidArchive, pos, "file %d has an EOF record with nonzero size", rec.filenum)
			}
			if fs, ok := d.files[rec.filenum]; ok {
				delete(d.files, rec.filenum)
				if !d.finishFile(fs, false) {
					if d.err != nil {
						return false, d.err
					}
					return false, newError(KindInvalidArchive, pos, "handler declined during finish of file %d", rec.filenum)
				}
			}
			return true, nil

		case AttrFilename:
			if prev, ok := d.files[rec.filenum]; ok {
				delete(d.files, rec.filenum)
				d.finishFile(prev, true)
			}
			if !rec.eoa {
				return false, newError(KindInvalidArchive, pos, "filename record for file %d does not have its EOA bit set", rec.filenum)
			}
			fs := &openFile{filenum: rec.filenum}
			if d.policy.FileStart != nil {
				fs.fileState, fs.ignore = d.policy.FileStart(rec.filenum, string(payload))
			}
			d.files[rec.filenum] = fs
			return true, nil

		default:
			return false, newError(KindInvalidArchive, pos, "unknown reserved attribute id %d in file %d", rec.attrid, rec.filenum)
		}
	}

	fs := d.files[rec.filenum]
	if !d.dispatchApp(fs, rec, payload) {
		if d.err != nil {
			return false, d.err
		}
		return false, newError(KindInvalidArchive, pos, "handler for attribute %d of file %d terminated the read", rec.attrid, rec.filenum)
	}
	return true, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
