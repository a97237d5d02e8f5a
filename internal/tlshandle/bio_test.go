package tlshandle

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBIOPairReadBlocksUntilCommit(t *testing.T) {
	p := NewBIOPair()
	done := make(chan struct{})
	var n int
	var err error
	buf := make([]byte, 16)
	go func() {
		n, err = p.readIn(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("readIn returned before any data was committed")
	case <-time.After(50 * time.Millisecond):
	}

	p.CommitIn([]byte("ciphertext"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readIn did not return after CommitIn")
	}
	require.NoError(t, err)
	require.Equal(t, "ciphertext", string(buf[:n]))
}

func TestBIOPairReadReturnsEOFOnClose(t *testing.T) {
	p := NewBIOPair()
	done := make(chan error, 1)
	go func() {
		_, err := p.readIn(make([]byte, 4))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("readIn returned early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.Close()
	select {
	case err := <-done:
		require.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("readIn did not unblock after Close")
	}
}

func TestBIOPairWriteOutNotifiesAndDrains(t *testing.T) {
	p := NewBIOPair()
	notified := make(chan struct{}, 1)
	p.Notify = func() { notified <- struct{}{} }

	n, err := p.writeOut([]byte("record"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("Notify was not called after writeOut")
	}

	require.Equal(t, 6, p.OutLen())
	chunk := p.PeekOut()
	require.Equal(t, "record", string(chunk))
	p.CommitOut(len(chunk))
	require.Equal(t, 0, p.OutLen())
}
