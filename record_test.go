package amar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []record{
		{filenum: 1, attrid: 2, size: 0, eoa: false},
		{filenum: 1, attrid: 2, size: 0, eoa: true},
		{filenum: 0xffff, attrid: 0xffff, size: MaxRecordPayload, eoa: true},
		{filenum: magicFilenum, attrid: AttrFilename, size: 100, eoa: false},
	}

	for _, want := range cases {
		buf := make([]byte, recordSize)
		encodeRecord(buf, want.filenum, want.attrid, want.size, want.eoa)
		got := decodeRecord(buf)
		require.Equal(t, want, got)
	}
}

func TestFormatParseHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	hdr := formatHeader()
	version, err := parseHeader(hdr[:])
	require.NoError(t, err)
	require.Equal(t, headerVersion, version)
}

func TestParseHeaderRejectsGarbage(t *testing.T) {
	t.Parallel()

	var buf [headerSize]byte
	copy(buf[:], "not an amar header at all!!")
	_, err := parseHeader(buf[:])
	require.Error(t, err)
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	_, err := parseHeader([]byte("short"))
	require.Error(t, err)
}
