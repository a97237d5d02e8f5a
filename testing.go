package antnet

import (
	"net"
	"sync"
	"sync/atomic"
)

// FakeClock is a manually-advanced clock for deterministic tests of
// timer-driven code (the reactor's timer heap). NowMs has the
// reactor.Clock shape.
type FakeClock struct {
	ms atomic.Int64
}

// NewFakeClock returns a clock starting at the given millisecond value.
func NewFakeClock(startMs int64) *FakeClock {
	c := &FakeClock{}
	c.ms.Store(startMs)
	return c
}

// NowMs returns the current fake time in milliseconds.
func (c *FakeClock) NowMs() int64 { return c.ms.Load() }

// Advance moves the clock forward by deltaMs and returns the new time.
func (c *FakeClock) Advance(deltaMs int64) int64 { return c.ms.Add(deltaMs) }

// Set pins the clock to an absolute millisecond value.
func (c *FakeClock) Set(ms int64) { c.ms.Store(ms) }

// LoopbackPipe is a pair of connected net.Conn endpoints for driving
// net.Conn-shaped code (such as an httpstation.Layer's Conn) in tests
// without a real socket.
type LoopbackPipe struct {
	Client net.Conn
	Server net.Conn
}

// NewLoopbackPipe returns a synchronous in-memory connection pair, the
// same role a dialed loopback TCP socket plays in the echo test
// harnesses, minus the syscalls.
func NewLoopbackPipe() *LoopbackPipe {
	c, s := net.Pipe()
	return &LoopbackPipe{Client: c, Server: s}
}

// Close closes both ends of the pipe.
func (p *LoopbackPipe) Close() {
	_ = p.Client.Close()
	_ = p.Server.Close()
}

// RecordingObserver is an Observer that appends every call to a
// goroutine-safe log, for tests asserting which metrics calls a
// component makes without wiring a full Metrics instance.
type RecordingObserver struct {
	mu    sync.Mutex
	Calls []string
}

func (r *RecordingObserver) record(name string) {
	r.mu.Lock()
	r.Calls = append(r.Calls, name)
	r.mu.Unlock()
}

func (r *RecordingObserver) ObserveRead(uint64, uint64, bool)  { r.record("read") }
func (r *RecordingObserver) ObserveWrite(uint64, uint64, bool) { r.record("write") }
func (r *RecordingObserver) ObserveAccept(uint64, bool)        { r.record("accept") }
func (r *RecordingObserver) ObserveConnect(uint64, bool)       { r.record("connect") }
func (r *RecordingObserver) ObserveRetransmit()                { r.record("retransmit") }
func (r *RecordingObserver) ObserveHandshake(uint64, bool)     { r.record("handshake") }
func (r *RecordingObserver) ObserveQueueDepth(uint32)          { r.record("queue_depth") }

var _ Observer = (*RecordingObserver)(nil)

// Snapshot returns a copy of the recorded call names.
func (r *RecordingObserver) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	copy(out, r.Calls)
	return out
}
