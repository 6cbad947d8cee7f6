package amar

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReadBufferEnsureAtLeastGrowsAndFills(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader(bytes.Repeat([]byte{1, 2, 3, 4}, 1024))
	rb := newReadBuffer(src, 8)

	require.True(t, rb.ensureAtLeast(2000))
	require.GreaterOrEqual(t, rb.available(), 2000)
}

func TestReadBufferEnsureAtLeastReportsEOF(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte{1, 2, 3})
	rb := newReadBuffer(src, 8)

	require.False(t, rb.ensureAtLeast(10))
	require.Equal(t, 3, rb.available())
}

func TestReadBufferSkipWithinWindow(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("abcdefgh"))
	rb := newReadBuffer(src, 8)
	require.True(t, rb.ensureAtLeast(8))

	require.True(t, rb.skip(3))
	require.Equal(t, "defgh", string(rb.ptr()))
}

type nonSeekableReader struct {
	r io.Reader
}

func (n *nonSeekableReader) Read(p []byte) (int, error) { return n.r.Read(p) }

func TestReadBufferSkipFallsBackToReadingWhenNotSeekable(t *testing.T) {
	t.Parallel()

	src := &nonSeekableReader{r: bytes.NewReader([]byte("0123456789"))}
	rb := newReadBuffer(src, 4)
	require.True(t, rb.ensureAtLeast(2))

	require.True(t, rb.skip(8))
	require.True(t, rb.ensureAtLeast(0))
}

// espipeReader looks seekable (it implements Seek) but always fails with
// ESPIPE, mimicking a pipe or socket wrapped in an *os.File-like type.
type espipeReader struct {
	r *bytes.Reader
}

func (e *espipeReader) Read(p []byte) (int, error) { return e.r.Read(p) }
func (e *espipeReader) Seek(offset int64, whence int) (int64, error) {
	return 0, unix.ESPIPE
}

func TestReadBufferSkipLatchesNonSeekableAfterESPIPE(t *testing.T) {
	t.Parallel()

	src := &espipeReader{r: bytes.NewReader([]byte("0123456789"))}
	rb := newReadBuffer(src, 4)
	require.True(t, rb.seekOK)

	require.True(t, rb.skip(8))
	require.False(t, rb.seekOK, "first ESPIPE should latch seekOK false")
}

func TestReadBufferFillOnceNeverBlocksBeyondOneRead(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("abcdef"))
	rb := newReadBuffer(src, 3)

	n, err := rb.fillOnce()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, rb.available())
}

func TestReadBufferFillOnceGrowsWhenFull(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("abcdef"))
	rb := newReadBuffer(src, 3)

	_, err := rb.fillOnce()
	require.NoError(t, err)
	// buffer is now completely full; the next fillOnce must grow first
	n, err := rb.fillOnce()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 6, rb.available())
}
