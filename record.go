package amar

import (
	"encoding/binary"
	"fmt"
)

// Wire format constants, ported from amar.c verbatim: an 8-byte record
// preamble (filenum, attrid, size-with-EOA-bit) precedes every payload, and
// a 28-byte header record opens every archive.
const (
	recordSize = 8
	headerSize = 28

	// magicFilenum is reserved as the header's filenum; no data file may
	// ever be allocated this ID.
	magicFilenum uint16 = 0x414d // "AM"

	headerMagic   = "AMANDA ARCHIVE FORMAT"
	headerVersion = 1

	// eoaBit is the high bit of the 32-bit size field.
	eoaBit uint32 = 0x80000000

	// MaxRecordPayload is the largest payload a single record may carry:
	// 4 MiB minus one byte, leaving the top bit of size free for EOA.
	MaxRecordPayload = 4*1024*1024 - 1

	// WriteBufferSize is the size of the writer's coalescing buffer.
	WriteBufferSize = 512 * 1024

	// Reserved attribute IDs. IDs below AttrAppStart are reserved for the
	// format itself; application attributes must use AttrAppStart or above.
	AttrFilename uint16 = 0
	AttrEOF      uint16 = 1
	AttrAppStart uint16 = 2
)

// record is the decoded form of the 8-byte preamble.
type record struct {
	filenum uint16
	attrid  uint16
	size    uint32 // payload length only, EOA bit stripped
	eoa     bool
}

// encodeRecord writes the 8-byte preamble for (filenum, attrid, size, eoa)
// into buf, which must have at least recordSize bytes of room.
func encodeRecord(buf []byte, filenum, attrid uint16, size uint32, eoa bool) {
	s := size
	if eoa {
		s |= eoaBit
	}
	binary.BigEndian.PutUint16(buf[0:2], filenum)
	binary.BigEndian.PutUint16(buf[2:4], attrid)
	binary.BigEndian.PutUint32(buf[4:8], s)
}

// decodeRecord reads the 8-byte preamble from buf, which must have at
// least recordSize bytes available.
func decodeRecord(buf []byte) record {
	filenum := binary.BigEndian.Uint16(buf[0:2])
	attrid := binary.BigEndian.Uint16(buf[2:4])
	s := binary.BigEndian.Uint32(buf[4:8])
	r := record{filenum: filenum, attrid: attrid}
	if s&eoaBit != 0 {
		r.eoa = true
		r.size = s &^ eoaBit
	} else {
		r.size = s
	}
	return r
}

// formatHeader builds the pre-formatted 28-byte header record: the magic
// string, a space, the decimal version, NUL-padded to headerSize.
func formatHeader() [headerSize]byte {
	var buf [headerSize]byte
	s := fmt.Sprintf("%s %d", headerMagic, headerVersion)
	copy(buf[:], s)
	return buf
}

// parseHeader extracts the version number from a 28-byte header record's
// text. It does not check the magic filenum; callers classify records by
// filenum before calling this.
func parseHeader(buf []byte) (version int, err error) {
	if len(buf) < headerSize {
		return 0, fmt.Errorf("header record too short: %d bytes", len(buf))
	}
	_, err = fmt.Sscanf(string(buf[:headerSize]), headerMagic+" %d", &version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
