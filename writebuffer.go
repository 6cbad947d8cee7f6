package amar

import (
	"io"
	"net"
)

// writeBuffer is the writer's coalescing buffer in front of the sink: a
// single owned byte region that always retains at least recordSize bytes
// of headroom, so a preamble can always be appended without checking for
// overflow first. It escalates to net.Buffers whenever a payload would not
// fit comfortably; net.Buffers issues a single writev(2) only when the sink
// is a network connection, and one Write per buffer for any other sink
// (including *os.File).
type writeBuffer struct {
	sink io.Writer
	buf  []byte
	len  int

	// position is the number of bytes this buffer has ever flushed to
	// the sink; the archive adds the still-buffered bytes on top to get
	// its logical position.
	position int64
}

func newWriteBuffer(sink io.Writer) *writeBuffer {
	return &writeBuffer{sink: sink, buf: make([]byte, WriteBufferSize)}
}

// flush empties the buffer to the sink in one write.
func (b *writeBuffer) flush() error {
	if b.len == 0 {
		return nil
	}
	n, err := b.sink.Write(b.buf[:b.len])
	b.position += int64(n)
	if err != nil {
		return newError(KindIOFailure, b.position, "writing archive buffer: %w", err)
	}
	if n != b.len {
		return newError(KindIOFailure, b.position, "short write: wrote %d of %d bytes", n, b.len)
	}
	b.len = 0
	return nil
}

// appendHeader copies the pre-formatted header record into the buffer,
// flushing first if there isn't enough headroom left.
func (b *writeBuffer) appendHeader(hdr []byte) error {
	if b.len+len(hdr) >= WriteBufferSize-recordSize {
		if err := b.flush(); err != nil {
			return err
		}
	}
	copy(b.buf[b.len:], hdr)
	b.len += len(hdr)
	return nil
}

// writeRecord appends a preamble plus payload to the archive. The preamble
// always lands in the buffer first; if buffering the payload too would
// leave less than one preamble's worth of headroom, the buffered bytes and
// the payload are handed to the sink together via net.Buffers rather than
// the payload being copied in (one writev(2) on a network connection, two
// Write calls on any other sink).
func (b *writeBuffer) writeRecord(filenum, attrid uint16, eoa bool, data []byte) error {
	// the buffer always has room for a new record header
	encodeRecord(b.buf[b.len:], filenum, attrid, uint32(len(data)), eoa)
	b.len += recordSize

	if b.len+len(data) < WriteBufferSize-recordSize {
		// small enough to coalesce
		if len(data) > 0 {
			copy(b.buf[b.len:], data)
		}
		b.len += len(data)
		return nil
	}

	// too big to coalesce: flush buffer and payload in one vectored write
	total := b.len + len(data)
	bufs := net.Buffers{b.buf[:b.len], data}
	n, err := bufs.WriteTo(b.sink)
	b.position += n
	b.len = 0
	if err != nil {
		return newError(KindIOFailure, b.position, "writing large record: %w", err)
	}
	if n != int64(total) {
		return newError(KindIOFailure, b.position, "short vectored write: wrote %d of %d bytes", n, total)
	}
	return nil
}
