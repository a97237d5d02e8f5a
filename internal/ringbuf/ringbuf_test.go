package ringbuf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	buf := New()
	inputs := [][]byte{[]byte("hello "), []byte("world"), []byte(", ringbuf!")}

	var want bytes.Buffer
	for _, in := range inputs {
		buf.Write(in)
		want.Write(in)
	}

	got := make([]byte, want.Len())
	n := buf.Read(got)
	require.Equal(t, want.Len(), n)
	require.Equal(t, want.Bytes(), got)
}

func TestWriteReadAcrossBlocks(t *testing.T) {
	buf := New()
	payload := bytes.Repeat([]byte("x"), blockSize*3+17)
	buf.Write(payload)
	require.Equal(t, len(payload), buf.Len())

	got := make([]byte, len(payload))
	n := buf.Read(got)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)
}

func TestCommitHeadClampsToAvailable(t *testing.T) {
	buf := New()
	buf.Write([]byte("hi"))
	buf.CommitHead(100)
	require.Equal(t, 0, buf.Len())
	require.Empty(t, buf.PeekHead())
}

func TestPeekHeadNeverExposesUnwrittenBytes(t *testing.T) {
	buf := New()
	buf.Write([]byte("abc"))
	view := buf.PeekHead()
	require.Equal(t, []byte("abc"), view)
}

func TestRewriteChunkPrefix(t *testing.T) {
	buf := New()
	pos := buf.TailPos()
	buf.Write([]byte("xxxx\r\n"))
	buf.Write([]byte("hello"))

	ok := buf.Rewrite(pos, []byte("0005\r\n"), 6)
	require.True(t, ok)

	out := make([]byte, buf.Len())
	buf.Read(out)
	require.Equal(t, "0005\r\nhello", string(out))
}

func TestRewriteOnlyTouchesRequestedBytes(t *testing.T) {
	buf := New()
	pos := buf.TailPos()
	buf.Write([]byte("AAAAAA"))
	buf.Write([]byte("BBBB"))

	ok := buf.Rewrite(pos, []byte("XX"), 2)
	require.True(t, ok)

	out := make([]byte, buf.Len())
	buf.Read(out)
	require.Equal(t, "XXAAAABBBB", string(out))
}

func TestPeekTailReservedContiguousWithBody(t *testing.T) {
	buf := New()
	pos, ptr := buf.PeekTail(6, 5)
	n := copy(ptr, "hello")
	buf.CommitTail(6 + n)

	ok := buf.Rewrite(pos, []byte("0005\r\n"), 6)
	require.True(t, ok)

	out := make([]byte, buf.Len())
	buf.Read(out)
	require.Equal(t, "0005\r\nhello", string(out))
}

func TestResetReleasesBlocks(t *testing.T) {
	buf := New()
	buf.Write(bytes.Repeat([]byte("y"), blockSize*2))
	buf.Reset()
	require.Equal(t, 0, buf.Len())
	require.Empty(t, buf.PeekHead())
}
