package amar

import (
	"io"

	"github.com/charmbracelet/log"
)

// Notifier is how an EventReader's caller hooks it into their own event
// loop: Register is called once, with a function the caller must invoke
// every time the source becomes readable; Unregister stops further calls.
// amar.c ties this directly to its own event_create/event_release around a
// file descriptor; this package leaves the event loop itself to the
// caller, so Notifier can be backed by epoll, kqueue, or anything else.
type Notifier interface {
	Register(onReadable func())
	Unregister()
}

type stepResult int

const (
	stepProcessed stepResult = iota
	stepNeedMore
	stepDone
)

// EventReader runs the same record-dispatch state machine as Reader (both
// share *demux), but is driven by external readiness notifications instead
// of blocking reads. Start must be called to begin receiving them; each
// notification performs exactly one Read on the source, then dispatches
// every complete record now available, never blocking beyond that single
// read.
type EventReader struct {
	rb       *readBuffer
	d        *demux
	notifier Notifier
	running  bool
	done     bool
}

// NewEventReader constructs an EventReader over src, applying policy.
// logger may be nil. Call Start to begin processing.
func NewEventReader(src io.Reader, notifier Notifier, policy Policy, logger *log.Logger) *EventReader {
	return &EventReader{
		rb:       newReadBuffer(src, 1024),
		d:        newDemux(policy, logger),
		notifier: notifier,
	}
}

// Position returns the archive's current logical byte offset.
func (er *EventReader) Position() int64 { return er.rb.position }

// RouteToFile arranges for filenum/attrid's payload to be written verbatim
// to w instead of dispatched to a callback; no accumulation buffer is ever
// allocated for a routed attribute.
func (er *EventReader) RouteToFile(filenum, attrid uint16, w io.Writer) {
	er.d.routeToFile(filenum, attrid, w)
}

// Start registers for readiness notifications. It is a no-op if already
// running or already finished.
func (er *EventReader) Start() {
	if er.running || er.done {
		return
	}
	er.running = true
	er.notifier.Register(er.onReadable)
}

// Stop unregisters readiness notifications without discarding any
// accumulated state: a later Start resumes exactly where Stop left off.
func (er *EventReader) Stop() {
	if !er.running {
		return
	}
	er.running = false
	er.notifier.Unregister()
}

// Resume is Start under the name callers reaching for symmetry with Stop
// tend to look for.
func (er *EventReader) Resume() { er.Start() }

// Cancel aborts the read with msg as the resulting error: every open file
// and attribute is finalized as truncated, the done callback fires with
// the error, and readiness notifications are unregistered. Calling Cancel
// after the reader has already finished is a no-op.
func (er *EventReader) Cancel(msg string) {
	if er.done {
		return
	}
	er.finish(newError(KindInvalidArchive, er.rb.position, "%s", msg))
}

func (er *EventReader) finish(err error) {
	if er.running {
		er.notifier.Unregister()
		er.running = false
	}
	er.done = true
	er.d.endOfStream(err)
}

// onReadable is the function registered with the Notifier. It performs
// exactly one Read on the source and then drains as many complete records
// as are now buffered.
func (er *EventReader) onReadable() {
	if er.done {
		return
	}

	_, readErr := er.rb.fillOnce()
	if readErr != nil && readErr != io.EOF {
		er.finish(newError(KindIOFailure, er.rb.position, "reading archive: %w", readErr))
		return
	}

	for {
		res, err := er.tryStep()
		if err != nil {
			er.finish(err)
			return
		}
		switch res {
		case stepDone:
			er.finish(nil)
			return
		case stepProcessed:
			continue
		case stepNeedMore:
			if !er.rb.gotEOF {
				return // wait for the next wake
			}
			if er.rb.available() != 0 {
				er.finish(newError(KindInvalidArchive, er.rb.position, "archive ended with a partial record"))
				return
			}
			if !er.d.sawHeader {
				er.finish(newError(KindInvalidArchive, er.rb.position, "archive is empty or truncated before its header"))
				return
			}
			er.finish(nil)
			return
		}
	}
}

// tryStep attempts to process exactly one record out of whatever is
// currently buffered, without performing any I/O of its own. It grows the
// buffer (but does not fill it) when a record doesn't yet fit, so the next
// onReadable wake reads directly into room for it.
func (er *EventReader) tryStep() (stepResult, error) {
	rb := er.rb

	if rb.available() < recordSize {
		return stepNeedMore, nil
	}

	rec := decodeRecord(rb.ptr())

	if rec.filenum == magicFilenum {
		if rb.available() < headerSize {
			rb.growFor(headerSize)
			return stepNeedMore, nil
		}
		version, perr := parseHeader(rb.ptr())
		if perr != nil {
			return stepProcessed, newError(KindInvalidArchive, rb.position, "invalid archive header: %w", perr)
		}
		if version > headerVersion {
			return stepProcessed, newError(KindInvalidArchive, rb.position, "archive version %d is not supported", version)
		}
		er.d.sawHeader = true
		rb.skip(headerSize)
		return stepProcessed, nil
	}

	if rec.size > MaxRecordPayload {
		return stepProcessed, newError(KindInvalidArchive, rb.position, "record payload of %d bytes exceeds the %d byte limit", rec.size, MaxRecordPayload)
	}

	if rec.attrid == AttrFilename && rec.size == 0 {
		if rb.available() < 512 {
			rb.growFor(512)
			return stepNeedMore, nil
		}
		if allZero(rb.ptr()[recordSize:512]) {
			return stepDone, nil
		}
		return stepProcessed, newError(KindInvalidArchive, rb.position, "file %d has an empty filename", rec.filenum)
	}

	need := recordSize + int(rec.size)
	if rb.available() < need {
		rb.growFor(need)
		return stepNeedMore, nil
	}

	payload := append([]byte(nil), rb.ptr()[recordSize:need]...)
	rb.skip(int64(need))

	cont, err := er.d.handleRecord(rb.position, rec, payload)
	if err != nil {
		return stepProcessed, err
	}
	_ = cont // handleRecord only returns cont=false alongside a non-nil err
	return stepProcessed, nil
}
