package msgheader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := New(1, 1)
	h.UniqueSN = 42
	h.Append([]byte("first"))
	h.Append([]byte("second region"))

	buf := h.Encode()
	require.Len(t, buf, h.TotalSize())

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(42), got.UniqueSN)
	require.Equal(t, uint16(1), got.MsgType)
	require.Equal(t, uint16(1), got.Version)
	require.Equal(t, 2, got.Count())

	p0, ok := got.Item(0)
	require.True(t, ok)
	require.Equal(t, "first", string(p0))
	p1, ok := got.Item(1)
	require.True(t, ok)
	require.Equal(t, "second region", string(p1))
}

func TestRemoveCompactsIndexAndPayloads(t *testing.T) {
	h := New(0, 0)
	h.Append([]byte("a"))
	h.Append([]byte("b"))
	h.Append([]byte("c"))

	require.True(t, h.Remove(1))
	require.Equal(t, 2, h.Count())

	buf := h.Encode()
	got, err := Decode(buf)
	require.NoError(t, err)
	p0, _ := got.Item(0)
	p1, _ := got.Item(1)
	require.Equal(t, "a", string(p0))
	require.Equal(t, "c", string(p1))
}

func TestCopyIsIndependent(t *testing.T) {
	h := New(0, 0)
	h.Append([]byte("original"))

	c := h.Copy()
	c.Append([]byte("extra"))

	require.Equal(t, 1, h.Count())
	require.Equal(t, 2, c.Count())
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsOversizeItemRegion(t *testing.T) {
	h := New(0, 0)
	h.Append([]byte("x"))
	buf := h.Encode()

	// Corrupt the first item's size field to claim more than the
	// buffer actually holds.
	buf[fixedHeaderSize+4] = 0xff
	buf[fixedHeaderSize+5] = 0xff

	_, err := Decode(buf)
	require.Error(t, err)
}
