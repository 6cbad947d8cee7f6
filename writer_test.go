package amar

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWriterEmitsHeaderImmediately(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, headerSize, sink.Len())
	version, err := parseHeader(sink.Bytes())
	require.NoError(t, err)
	require.Equal(t, headerVersion, version)
}

func TestWriterRejectsEmptyFilename(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	_, err = w.NewFile("")
	require.Error(t, err)
	var amarErr *Error
	require.ErrorAs(t, err, &amarErr)
	require.Equal(t, KindInvalidArgument, amarErr.Kind)
}

func TestWriterRejectsOversizedFilename(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	_, err = w.NewFile(strings.Repeat("a", MaxRecordPayload+1))
	require.Error(t, err)
}

func TestWriterCloseRejectsOpenFiles(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	_, err = w.NewFile("a")
	require.NoError(t, err)

	err = w.Close()
	require.Error(t, err)
}

func TestWriterAllocFilenumSkipsMagicAndZero(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	w.maxFilenum = magicFilenum - 1
	fh, err := w.NewFile("x")
	require.NoError(t, err)
	require.NotEqual(t, magicFilenum, fh.Filenum())
	require.NotEqual(t, uint16(0), fh.Filenum())

	require.NoError(t, fh.Close())
	require.NoError(t, w.Close())
}

func TestWriterOutOfFileNumbers(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	for i := 0; i < maxOpenFiles; i++ {
		_, err := w.NewFile("f")
		require.NoError(t, err)
	}

	_, err = w.NewFile("one-too-many")
	require.Error(t, err)
	var amarErr *Error
	require.ErrorAs(t, err, &amarErr)
	require.Equal(t, KindOutOfSpace, amarErr.Kind)
}

func TestWriterNewFileAtReemitsHeader(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w, err := NewWriter(&sink, nil)
	require.NoError(t, err)

	fh, offset, err := w.NewFileAt("second-archive-member")
	require.NoError(t, err)
	require.Equal(t, int64(headerSize), offset)
	require.NoError(t, fh.Close())
	require.NoError(t, w.Close())

	require.Equal(t, 2, bytes.Count(sink.Bytes(), []byte(headerMagic)))
}
