package reactor

import (
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/logging"
	"github.com/antmuse/antnet/internal/timerheap"
)

// Clock abstracts wall-clock access so timer-driven tests can inject a
// deterministic now().
type Clock func() int64

func realClockMs() int64 { return time.Now().UnixMilli() }

// Loop is the reference reactor: a single goroutine that delivers every
// handle callback and every timer tick, fed by a channel of completed
// operations. Blocking socket calls happen on their own goroutines (Go's
// netpoller already makes them non-blocking at the OS level); only the
// callback delivery is serialized onto the loop goroutine, matching the
// "all callbacks for a handle run on the same loop thread" guarantee in
// §5 of the runtime's concurrency model.
type Loop struct {
	clock Clock

	tasks chan func()
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	timers *timerheap.Heap

	observer antnet.Observer

	pinCPU int // -1 means unpinned
}

// SetCPUAffinity pins the goroutine that calls Run to cpuIdx for its
// lifetime. Call before Run; -1 (the default) leaves the loop unpinned.
func (l *Loop) SetCPUAffinity(cpuIdx int) {
	l.pinCPU = cpuIdx
}

// NewLoop returns a Loop using the real wall clock.
func NewLoop() *Loop {
	return NewLoopWithClock(realClockMs)
}

// NewLoopWithClock returns a Loop driven by a caller-supplied clock,
// primarily for deterministic tests of timer-scheduled behavior.
func NewLoopWithClock(clock Clock) *Loop {
	l := &Loop{
		clock:    clock,
		tasks:    make(chan func(), 256),
		stop:     make(chan struct{}),
		observer: antnet.NoOpObserver{},
		pinCPU:   -1,
	}
	l.timers = timerheap.New(l.timerLess)
	return l
}

// SetObserver installs the Observer every Connect/Accept/Read/Write
// completion reports through; passing nil restores the no-op observer.
func (l *Loop) SetObserver(o antnet.Observer) {
	if o == nil {
		o = antnet.NoOpObserver{}
	}
	l.observer = o
}

func (l *Loop) timerLess(a, b *timerheap.Node) bool {
	ha := a.Owner.(*Handle)
	hb := b.Owner.(*Handle)
	return ha.nextFireMs < hb.nextFireMs
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within another Post'ed callback.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.stop:
	}
}

// Run drives the loop until Stop is called. It should be run in its own
// goroutine by the caller (typically one Loop per process worker, per
// the fork-of-single-threaded-loops model in §5). When SetCPUAffinity
// was called, Run locks its calling goroutine to its OS thread and pins
// that thread to the configured CPU for the life of the loop, the same
// way the teacher pins its per-queue I/O goroutine.
func (l *Loop) Run() {
	if l.pinCPU >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var mask unix.CPUSet
		mask.Set(l.pinCPU)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			logging.Warn("reactor: failed to set CPU affinity", "cpu", l.pinCPU, "err", err)
			// continue without affinity - not fatal
		} else {
			logging.Debug("reactor: pinned loop goroutine", "cpu", l.pinCPU)
		}
	}

	for {
		timeout := l.nextTimerDelay()
		var timerC <-chan time.Time
		if timeout >= 0 {
			timerC = time.After(time.Duration(timeout) * time.Millisecond)
		}
		select {
		case <-l.stop:
			return
		case fn := <-l.tasks:
			fn()
		case <-timerC:
			l.fireDueTimers()
		}
	}
}

// Stop halts the loop; pending Posts are dropped.
func (l *Loop) Stop() {
	close(l.stop)
}

func (l *Loop) now() int64 { return l.clock() }

func (l *Loop) nextTimerDelay() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	top := l.timers.Top()
	if top == nil {
		return -1
	}
	h := top.Owner.(*Handle)
	d := h.nextFireMs - l.now()
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) fireDueTimers() {
	now := l.now()
	for {
		l.mu.Lock()
		top := l.timers.Top()
		if top == nil {
			l.mu.Unlock()
			return
		}
		h := top.Owner.(*Handle)
		if h.nextFireMs > now {
			l.mu.Unlock()
			return
		}
		l.timers.RemoveTop()
		l.mu.Unlock()

		h.fireCount++
		code := h.timeFn(h)
		if code == antnet.CodeError {
			l.Close(h)
			continue
		}
		if h.repeat > 0 && h.fireCount >= h.repeat {
			continue // exhausted its repeat budget; do not reschedule
		}
		h.nextFireMs = now + h.periodMs
		l.mu.Lock()
		l.timers.Insert(&h.timerNode)
		l.mu.Unlock()
	}
}

// ArmTimer schedules h's first tick, per the firstDelayMs/periodMs/
// repeat configured via Handle.SetTime.
func (l *Loop) ArmTimer(h *Handle) {
	h.nextFireMs = l.now() + h.firstDelayMs
	h.fireCount = 0
	l.mu.Lock()
	l.timers.Insert(&h.timerNode)
	l.mu.Unlock()
}

// DisarmTimer removes h from the timer heap, e.g. because the handle is
// closing before its next tick.
func (l *Loop) DisarmTimer(h *Handle) {
	l.mu.Lock()
	l.timers.Remove(&h.timerNode)
	l.mu.Unlock()
}

// Connect posts a non-blocking connect; the descriptor's callback fires
// on the loop goroutine once dial completes.
func (l *Loop) Connect(network, addr string, desc *RequestDescriptor) {
	desc.Op = OpConnect
	start := l.now()
	go func() {
		conn, err := net.Dial(network, addr)
		l.Post(func() {
			latency := uint64(l.now() - start)
			if err != nil {
				desc.Err = antnet.WrapError("reactor.Connect", err)
				l.observer.ObserveConnect(latency, false)
				desc.complete()
				return
			}
			l.observer.ObserveConnect(latency, true)
			h := NewHandle(KindTCPConnect)
			h.conn = conn
			h.Local = NewNetAddress(conn.LocalAddr())
			h.Remote = NewNetAddress(conn.RemoteAddr())
			desc.Handle = h
			desc.complete()
		})
	}()
}

// Accept posts a single accept on ln; call Accept again from within the
// descriptor's callback to keep accepting.
func (l *Loop) Accept(ln net.Listener, desc *RequestDescriptor) {
	desc.Op = OpAccept
	start := l.now()
	go func() {
		conn, err := ln.Accept()
		l.Post(func() {
			latency := uint64(l.now() - start)
			if err != nil {
				desc.Err = antnet.WrapError("reactor.Accept", err)
				l.observer.ObserveAccept(latency, false)
				desc.complete()
				return
			}
			l.observer.ObserveAccept(latency, true)
			h := NewHandle(KindTCPAccept)
			h.conn = conn
			h.Local = NewNetAddress(conn.LocalAddr())
			h.Remote = NewNetAddress(conn.RemoteAddr())
			desc.Handle = h
			desc.complete()
		})
	}()
}

// Read posts a read of up to len(desc.Payload) bytes on h.
func (l *Loop) Read(h *Handle, desc *RequestDescriptor) {
	desc.Op = OpRead
	desc.Handle = h
	if h.HasFlag(FlagClosing) {
		desc.Err = antnet.NewError("reactor.Read", antnet.CodeNoReadable, "handle is closing")
		l.Post(desc.complete)
		return
	}
	start := l.now()
	go func() {
		n, err := h.conn.Read(desc.Payload)
		l.Post(func() {
			desc.Used = n
			latency := uint64(l.now() - start)
			if err != nil {
				desc.Err = antnet.WrapError("reactor.Read", err)
				l.observer.ObserveRead(uint64(n), latency, false)
			} else {
				l.observer.ObserveRead(uint64(n), latency, true)
			}
			desc.complete()
		})
	}()
}

// Write posts a write of desc.Payload[:desc.Used] on h.
func (l *Loop) Write(h *Handle, desc *RequestDescriptor) {
	desc.Op = OpWrite
	desc.Handle = h
	if h.HasFlag(FlagClosing) {
		desc.Err = antnet.NewError("reactor.Write", antnet.CodeNoWriteable, "handle is closing")
		l.Post(desc.complete)
		return
	}
	start := l.now()
	go func() {
		n, err := h.conn.Write(desc.Payload[:desc.Used])
		l.Post(func() {
			desc.Used = n
			latency := uint64(l.now() - start)
			if err != nil {
				desc.Err = antnet.WrapError("reactor.Write", err)
				l.observer.ObserveWrite(uint64(n), latency, false)
			} else {
				l.observer.ObserveWrite(uint64(n), latency, true)
			}
			desc.complete()
		})
	}()
}

// Close closes h's underlying connection (if any), disarms its timer if
// armed, and drops the caller's reference.
func (l *Loop) Close(h *Handle) {
	h.Close()
	if h.timeFn != nil {
		l.DisarmTimer(h)
	}
	if h.conn != nil {
		_ = h.conn.Close()
	}
	h.Drop()
}
