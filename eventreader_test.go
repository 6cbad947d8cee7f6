package amar

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockNotifier is a Notifier driven by hand: Fire invokes whatever callback
// is currently registered, standing in for a real event loop's readiness
// signal.
type mockNotifier struct {
	fn              func()
	registerCount   int
	unregisterCount int
}

func (n *mockNotifier) Register(onReadable func()) {
	n.fn = onReadable
	n.registerCount++
}

func (n *mockNotifier) Unregister() {
	n.fn = nil
	n.unregisterCount++
}

func (n *mockNotifier) Fire() {
	if n.fn != nil {
		n.fn()
	}
}

// chunkedReader hands back at most maxPerRead bytes per Read call, so tests
// can exercise an EventReader across many partial wake-ups the way a real
// socket or pipe would deliver data.
type chunkedReader struct {
	data       []byte
	pos        int
	maxPerRead int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.maxPerRead
	if n > len(p) {
		n = len(p)
	}
	if remaining := len(c.data) - c.pos; n > remaining {
		n = remaining
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func TestEventReaderLifecycleRegistersAndUnregisters(t *testing.T) {
	t.Parallel()

	notifier := &mockNotifier{}
	er := NewEventReader(bytes.NewReader(nil), notifier, Policy{}, nil)

	er.Start()
	require.Equal(t, 1, notifier.registerCount)
	require.NotNil(t, notifier.fn)

	er.Start() // already running: no-op
	require.Equal(t, 1, notifier.registerCount)

	er.Stop()
	require.Equal(t, 1, notifier.unregisterCount)
	require.Nil(t, notifier.fn)

	er.Stop() // already stopped: no-op
	require.Equal(t, 1, notifier.unregisterCount)

	er.Resume()
	require.Equal(t, 2, notifier.registerCount)
}

func TestEventReaderDrainsArchiveAcrossChunkedWakeups(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x7}, 5000)
	archive := writeSimpleArchive(t, "chunked.bin", AttrAppStart, payload)
	src := &chunkedReader{data: archive, maxPerRead: 37}

	var gotPayload []byte
	var gotFilename string
	var done bool
	var doneErr error

	policy := Policy{
		FileStart: func(filenum uint16, filename string) (interface{}, bool) {
			gotFilename = filename
			return nil, false
		},
		Done: func(err error) {
			done = true
			doneErr = err
		},
		Handlers: []AttrHandling{
			{
				Attrid: AttrAppStart,
				Callback: func(filenum uint16, fileState interface{}, attrid uint16, handlerData interface{}, attrState *interface{}, payload []byte, eoa, truncated bool) bool {
					gotPayload = append(gotPayload, payload...)
					return true
				},
			},
		},
	}

	notifier := &mockNotifier{}
	er := NewEventReader(src, notifier, policy, nil)
	er.Start()
	require.NotNil(t, notifier.fn)

	for i := 0; i < 1000 && !done; i++ {
		notifier.Fire()
	}

	require.True(t, done)
	require.NoError(t, doneErr)
	require.Equal(t, "chunked.bin", gotFilename)
	require.Equal(t, payload, gotPayload)
}

func TestEventReaderGrowsBufferAcrossPartialWakeups(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x9}, MaxRecordPayload+2048)
	archive := writeSimpleArchive(t, "big.bin", AttrAppStart, payload)
	// A tiny initial read size all but guarantees growFor is exercised
	// repeatedly before a single record's worth of bytes is ever in hand.
	src := &chunkedReader{data: archive, maxPerRead: 11}

	var gotPayload []byte
	var calls int
	policy := Policy{
		FileStart: func(uint16, string) (interface{}, bool) { return nil, false },
		Handlers: []AttrHandling{
			{
				Attrid: AttrAppStart,
				Callback: func(filenum uint16, fileState interface{}, attrid uint16, handlerData interface{}, attrState *interface{}, payload []byte, eoa, truncated bool) bool {
					calls++
					gotPayload = append(gotPayload, payload...)
					return true
				},
			},
		},
	}

	var done bool
	policy.Done = func(err error) { done = (err == nil) }

	notifier := &mockNotifier{}
	er := NewEventReader(src, notifier, policy, nil)
	er.Start()

	for i := 0; i < 1000000 && !done; i++ {
		notifier.Fire()
	}

	require.True(t, done)
	require.Equal(t, payload, gotPayload)
	require.GreaterOrEqual(t, calls, 2)
}

func TestEventReaderCancelFinalizesOpenFilesAsTruncated(t *testing.T) {
	t.Parallel()

	archive := writeSimpleArchive(t, "cut.bin", AttrAppStart, bytes.Repeat([]byte{0x1}, 200))
	// Hand over only the header and filename record, never the content or
	// EOF record, then cancel mid-stream.
	src := &chunkedReader{data: archive[:headerSize+recordSize+len("cut.bin")], maxPerRead: 4096}

	var truncated bool
	var done bool
	var doneErr error
	policy := Policy{
		FileStart: func(uint16, string) (interface{}, bool) { return nil, false },
		FileFinish: func(filenum uint16, fileState interface{}, wasTruncated bool) {
			truncated = wasTruncated
		},
		Done: func(err error) {
			done = true
			doneErr = err
		},
	}

	notifier := &mockNotifier{}
	er := NewEventReader(src, notifier, policy, nil)
	er.Start()
	notifier.Fire()

	require.False(t, done, "archive isn't exhausted yet, only canceled next")
	er.Cancel("giving up")

	require.True(t, done)
	require.Error(t, doneErr)
	require.True(t, truncated)
	require.Equal(t, 1, notifier.unregisterCount)

	// Canceling again, or firing again, is a no-op.
	er.Cancel("again")
	notifier.Fire()
}
