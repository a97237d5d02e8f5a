// Package tlshandle layers a TLS record engine over a raw TCP handle,
// per spec §4.5: a BIO pair bridges the engine's blocking read/write
// calls to the reactor's asynchronous TCP descriptors, so the rest of
// the runtime still sees plaintext in, ciphertext on the wire.
package tlshandle

import (
	"io"
	"sync"

	"github.com/antmuse/antnet/internal/ringbuf"
)

// BIOPair is the paired in/out ciphertext buffer the TLS engine reads
// from and writes to. The naming ("in"/"out") follows the original's
// BIO pair, but what crosses it is always ciphertext — the engine does
// its own record framing and encryption on top.
type BIOPair struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     *ringbuf.Buffer // ciphertext delivered by the network, awaiting the engine
	out    *ringbuf.Buffer // ciphertext produced by the engine, awaiting the network
	closed bool

	// Notify, when set, is called (outside the pair's lock) after bytes
	// are appended to out — the hook the network-side write pump uses to
	// learn there is ciphertext to drain.
	Notify func()
}

// NewBIOPair returns an empty pair.
func NewBIOPair() *BIOPair {
	p := &BIOPair{in: ringbuf.New(), out: ringbuf.New()}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// CommitIn appends ciphertext just read off the network, waking any
// engine goroutine blocked in readIn.
func (p *BIOPair) CommitIn(data []byte) {
	p.mu.Lock()
	p.in.Write(data)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close unblocks any goroutine currently waiting on the in side; it
// does not discard buffered ciphertext already in out.
func (p *BIOPair) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// readIn blocks until ciphertext is available on the in side or the
// pair closes — the WANT_READ wait on the in-BIO.
func (p *BIOPair) readIn(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.in.Len() == 0 {
		return 0, io.EOF
	}
	return p.in.Read(b), nil
}

// writeOut appends ciphertext the engine produced and fires Notify.
func (p *BIOPair) writeOut(b []byte) (int, error) {
	p.mu.Lock()
	p.out.Write(b)
	notify := p.Notify
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return len(b), nil
}

// PeekOut returns a copy of the next contiguous unread chunk of out,
// for the network-side write pump to post as a TCP write.
func (p *BIOPair) PeekOut() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	chunk := p.out.PeekHead()
	if len(chunk) == 0 {
		return nil
	}
	return append([]byte(nil), chunk...)
}

// CommitOut advances out's head by n, once a TCP write of n bytes
// completes.
func (p *BIOPair) CommitOut(n int) {
	p.mu.Lock()
	p.out.CommitHead(n)
	p.mu.Unlock()
}

// OutLen reports how much ciphertext is waiting to go out.
func (p *BIOPair) OutLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Len()
}
