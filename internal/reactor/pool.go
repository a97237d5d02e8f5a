package reactor

import "sync"

// Buffer size buckets for pooled I/O payloads, the same size-bucketing
// strategy the teacher's queue package uses for its overflow buffers,
// generalized here to cover every payload size a socket read/write
// might need rather than only block-device-sized transfers.
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var bufferPool = struct {
	p4k, p16k, p64k, p256k, p1m sync.Pool
}{
	p4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	p16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// getBuffer returns a pooled buffer of at least the requested size.
func getBuffer(size uint32) []byte {
	switch {
	case size <= size4k:
		return (*bufferPool.p4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*bufferPool.p16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*bufferPool.p64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*bufferPool.p256k.Get().(*[]byte))[:size]
	default:
		return (*bufferPool.p1m.Get().(*[]byte))[:size]
	}
}

// putBuffer returns a buffer to the pool it came from, identified by
// capacity; non-standard capacities (e.g. a caller-supplied buffer) are
// dropped rather than pooled.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		bufferPool.p4k.Put(&buf)
	case size16k:
		bufferPool.p16k.Put(&buf)
	case size64k:
		bufferPool.p64k.Put(&buf)
	case size256k:
		bufferPool.p256k.Put(&buf)
	case size1m:
		bufferPool.p1m.Put(&buf)
	}
}

// descPool recycles RequestDescriptor structs across I/O operations.
var descPool = sync.Pool{New: func() any { return new(RequestDescriptor) }}

// GetDescriptor returns a zeroed, pool-allocated descriptor.
func GetDescriptor() *RequestDescriptor {
	d := descPool.Get().(*RequestDescriptor)
	*d = RequestDescriptor{}
	return d
}

// PutDescriptor releases a descriptor's payload buffer (if pooled) and
// returns the descriptor struct to the pool. Callers must not touch d
// after calling PutDescriptor.
func PutDescriptor(d *RequestDescriptor) {
	if d.pooled {
		putBuffer(d.Payload)
	}
	descPool.Put(d)
}
