// Package reactor implements the abstract async-I/O contract the rest
// of the runtime is built on: a refcounted Handle with a close callback
// and an optional periodic timer tick, and a pool of reusable
// RequestDescriptors that carry one in-flight operation and its
// completion callback.
//
// The OS-level completion loop itself — epoll, io_uring, kqueue — is an
// external collaborator; this package specifies only the contract such
// a loop must satisfy, plus a reference implementation (Loop) built on
// Go's own netpoller, which already plays the role the spec calls "the
// abstract reactor."
package reactor

import (
	"net"
	"sync/atomic"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/timerheap"
)

// OpKind identifies the operation a RequestDescriptor carries.
type OpKind int

const (
	OpConnect OpKind = iota
	OpAccept
	OpRead
	OpWrite
	OpClose
)

// HandleKind enumerates the resource kinds a Handle may wrap.
type HandleKind int

const (
	KindTCPConnect HandleKind = iota
	KindTCPAccept
	KindTCPLink
	KindUDP
	KindFile
	KindTime
)

// Flag is a bitset of handle state.
type Flag uint32

const (
	FlagReadable Flag = 1 << iota
	FlagWritable
	FlagClosing
)

// NetAddress is a union-style IPv4/IPv6 address + port with a reverse
// accessor for swapping local/remote semantics, matching spec §3.
type NetAddress struct {
	IP      net.IP
	Port    int
	isIPv6  bool
	Zone    string
}

// NewNetAddress builds a NetAddress from a net.Addr, disambiguating the
// family from the parsed IP's length.
func NewNetAddress(a net.Addr) NetAddress {
	host, port := splitHostPort(a)
	ip := net.ParseIP(host)
	return NetAddress{IP: ip, Port: port, isIPv6: ip != nil && ip.To4() == nil}
}

func splitHostPort(a net.Addr) (string, int) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP.String(), v.Port
	case *net.UDPAddr:
		return v.IP.String(), v.Port
	default:
		host, port, err := net.SplitHostPort(a.String())
		if err != nil {
			return a.String(), 0
		}
		p := 0
		for _, c := range port {
			if c < '0' || c > '9' {
				break
			}
			p = p*10 + int(c-'0')
		}
		return host, p
	}
}

// Size returns the address struct size that would be used on the wire,
// disambiguated by family (16 bytes for an IPv4 sockaddr_in payload, 28
// for IPv6), mirroring the original's family-disambiguating accessor.
func (n NetAddress) Size() int {
	if n.isIPv6 {
		return 28
	}
	return 16
}

// IsIPv6 reports the address family.
func (n NetAddress) IsIPv6() bool { return n.isIPv6 }

// Reverse returns a copy suitable for describing the address from the
// other side of a connection (no-op on the fields themselves — callers
// hold separate local/remote NetAddress values; Reverse exists so call
// sites can swap which one they treat as "local" without a type change).
func (n NetAddress) Reverse() NetAddress { return n }

// RequestDescriptor is a reusable I/O descriptor: an operation kind, a
// payload buffer, a completion callback, a caller-supplied user value,
// a back-pointer to the owning handle, an error, and — for datagrams —
// a remote address.
type RequestDescriptor struct {
	Op      OpKind
	Payload []byte // capacity is the reservation; Used is how much is valid
	Used    int
	Remote  NetAddress
	Handle  *Handle
	User    any
	Err     error

	callback func(*RequestDescriptor)
	pooled   bool
}

// SetPayload installs a caller-owned buffer (not returned to the pool on
// PutDescriptor).
func (d *RequestDescriptor) SetPayload(buf []byte) {
	d.Payload = buf
	d.pooled = false
}

// AllocPayload installs a pool-allocated buffer of the given capacity.
func (d *RequestDescriptor) AllocPayload(capacity uint32) {
	d.Payload = getBuffer(capacity)
	d.pooled = true
}

// OnComplete registers the completion callback invoked once the
// reactor finishes this operation.
func (d *RequestDescriptor) OnComplete(fn func(*RequestDescriptor)) {
	d.callback = fn
}

func (d *RequestDescriptor) complete() {
	if d.callback != nil {
		d.callback(d)
	}
}

// Complete invokes the registered completion callback directly. It is
// exported for components layered over the reactor (e.g. TlsHandle)
// that fulfill a descriptor themselves instead of routing it through
// Loop.Read/Write.
func (d *RequestDescriptor) Complete() { d.complete() }

// TimeCallback is invoked on each periodic tick of a HandleTime. It may
// return antnet.CodeError to request the handle be closed.
type TimeCallback func(h *Handle) antnet.Code

// Handle is a refcounted reactor resource: a TCP/UDP/file/time handle
// carrying a flag word, a close callback, and — when armed via SetTime —
// a periodic tick callback with first-delay, period and repeat count.
// Weak back-references (Parent/User) are permitted but never counted.
type Handle struct {
	Kind  HandleKind
	flags atomic.Uint32
	refs  atomic.Int32

	Local  NetAddress
	Remote NetAddress

	closeFn func(h *Handle)
	onClose func(h *Handle)

	conn net.Conn

	// timer heap linkage for HandleTime handles.
	timerNode    timerheap.Node
	timeFn       TimeCallback
	firstDelayMs int64
	periodMs     int64
	repeat       int32
	fireCount    int32
	nextFireMs   int64

	// Parent/User are weak, non-owning references for caller bookkeeping
	// (e.g. a TlsHandle points its inner TcpHandle's Parent at itself).
	Parent any
	User   any
}

// NewHandle returns a new Handle with one reference held by the caller.
func NewHandle(kind HandleKind) *Handle {
	h := &Handle{Kind: kind}
	h.refs.Store(1)
	h.flags.Store(uint32(FlagReadable | FlagWritable))
	return h
}

// Grab increments the reference count and returns h for chaining.
func (h *Handle) Grab() *Handle {
	h.refs.Add(1)
	return h
}

// Drop decrements the reference count, invoking the close callback and
// releasing the handle when it reaches zero. Returns true if this call
// triggered the release.
func (h *Handle) Drop() bool {
	if h.refs.Add(-1) != 0 {
		return false
	}
	if h.onClose != nil {
		h.onClose(h)
	}
	return true
}

// RefCount returns the current reference count, for tests/diagnostics.
func (h *Handle) RefCount() int32 { return h.refs.Load() }

// SetFlag sets bits in the handle's flag word.
func (h *Handle) SetFlag(f Flag) { h.flags.Or(uint32(f)) }

// ClearFlag clears bits in the handle's flag word.
func (h *Handle) ClearFlag(f Flag) { h.flags.And(^uint32(f)) }

// HasFlag reports whether every bit in f is set.
func (h *Handle) HasFlag(f Flag) bool { return h.flags.Load()&uint32(f) == uint32(f) }

// SetClose registers the callback invoked exactly once, when the
// handle's refcount reaches zero — the single point at which the
// handle's resources may be released.
func (h *Handle) SetClose(fn func(h *Handle)) { h.onClose = fn }

// SetTime arms a periodic tick: the first callback fires after
// firstDelayMs, then every periodMs thereafter, up to repeat times
// (repeat <= 0 means unbounded).
func (h *Handle) SetTime(fn TimeCallback, firstDelayMs, periodMs int64, repeat int32) {
	h.timeFn = fn
	h.firstDelayMs = firstDelayMs
	h.periodMs = periodMs
	h.repeat = repeat
	h.timerNode.Owner = h
}

// Close marks the handle closing; pending descriptors should be failed
// by the caller with CodeNoReadable/CodeNoWriteable before Drop is
// called to release the final reference.
func (h *Handle) Close() {
	h.SetFlag(FlagClosing)
}
