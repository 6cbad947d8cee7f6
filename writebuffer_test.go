package amar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBufferCoalescesSmallRecords(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	b := newWriteBuffer(&sink)

	require.NoError(t, b.writeRecord(1, AttrAppStart, false, []byte("hello")))
	require.NoError(t, b.writeRecord(1, AttrAppStart, true, []byte("world")))

	// nothing hits the sink until flush, since both records fit comfortably
	require.Equal(t, 0, sink.Len())
	require.NoError(t, b.flush())
	require.Equal(t, 2*recordSize+len("hello")+len("world"), sink.Len())
}

func TestWriteBufferEscapesToVectoredWriteForLargePayload(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	b := newWriteBuffer(&sink)

	require.NoError(t, b.writeRecord(1, AttrAppStart, false, []byte("small")))

	big := bytes.Repeat([]byte{0x42}, WriteBufferSize)
	require.NoError(t, b.writeRecord(1, AttrAppStart, true, big))

	// the large record forced an immediate flush of everything buffered
	require.Equal(t, 0, b.len)
	require.Equal(t, 2*recordSize+len("small")+len(big), sink.Len())

	rec := decodeRecord(sink.Bytes()[recordSize+len("small"):])
	require.Equal(t, uint32(len(big)), rec.size)
	require.True(t, rec.eoa)
}

func TestWriteBufferPositionTracksFlushedBytesOnly(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	b := newWriteBuffer(&sink)
	require.NoError(t, b.writeRecord(1, AttrAppStart, true, []byte("x")))
	require.Equal(t, int64(0), b.position)
	require.NoError(t, b.flush())
	require.Equal(t, int64(recordSize+1), b.position)
}
