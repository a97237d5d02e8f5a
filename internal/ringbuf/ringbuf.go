// Package ringbuf implements a block-linked FIFO byte buffer: a singly
// linked list of fixed-size blocks with independent head (read) and tail
// (write) cursors, each a (block, offset) pair. Blocks are allocated on
// demand at the tail and freed once the head advances past them.
package ringbuf

import "sync"

// blockSize matches the 4 KiB page used throughout the original
// implementation's ring buffer.
const blockSize = 4 * 1024

type block struct {
	data [blockSize]byte
	next *block
}

var blockPool = sync.Pool{New: func() any { return new(block) }}

func getBlock() *block {
	b := blockPool.Get().(*block)
	b.next = nil
	return b
}

func putBlock(b *block) {
	b.next = nil
	blockPool.Put(b)
}

// Pos is a cursor into the buffer: a block pointer plus a byte offset
// within that block. A Pos captured from TailPos or PeekTail remains
// valid for a later Rewrite as long as the head has not advanced past
// the block it references.
type Pos struct {
	block  *block
	offset int
}

// Buffer is a block-linked ring buffer with O(1) amortized write, peek
// and commit operations and no reordering of bytes.
type Buffer struct {
	head Pos // next byte to read
	tail Pos // next byte to write
	size int // total unread bytes between head and tail
}

// New returns an empty Buffer with one block already allocated, mirroring
// the original's eager single-block init().
func New() *Buffer {
	b := &Buffer{}
	first := getBlock()
	b.head = Pos{block: first, offset: 0}
	b.tail = Pos{block: first, offset: 0}
	return b
}

// Reset releases all blocks and returns the buffer to its initial empty
// state with a single fresh block.
func (r *Buffer) Reset() {
	for n := r.head.block; n != nil; {
		next := n.next
		putBlock(n)
		n = next
	}
	first := getBlock()
	r.head = Pos{block: first, offset: 0}
	r.tail = Pos{block: first, offset: 0}
	r.size = 0
}

// Len returns the number of unread bytes currently buffered.
func (r *Buffer) Len() int {
	return r.size
}

// TailPos returns the current tail position, for later use with Rewrite.
func (r *Buffer) TailPos() Pos {
	return r.tail
}

// Write appends data to the tail, allocating new blocks as needed. It
// never disturbs previously written bytes.
func (r *Buffer) Write(data []byte) {
	for len(data) > 0 {
		want := len(data)
		if room := blockSize - r.tail.offset; room > 0 && want > room {
			want = room // fill the current block before growing
		}
		_, ptr := r.PeekTail(0, want)
		n := copy(ptr, data)
		r.CommitTail(n)
		data = data[n:]
	}
}

// PeekTail reserves `reserved` bytes at the current tail for later
// backfill via Rewrite — the returned Pos marks the start of that
// reserved span — then exposes up to `max` writable bytes contiguously
// immediately following the reserved span, allocating a new block first
// if the current one cannot hold reserved+max contiguously. The caller
// must account for the reserved bytes when calling CommitTail: a call
// that writes k bytes into the returned slice commits `reserved+k`
// bytes in total.
func (r *Buffer) PeekTail(reserved, max int) (Pos, []byte) {
	need := reserved + max
	if need > blockSize {
		max = blockSize - reserved
		if max < 0 {
			max = 0
		}
	}
	if blockSize-r.tail.offset < reserved+max {
		r.growTail()
	}
	pos := r.tail
	dataStart := r.tail.offset + reserved
	avail := blockSize - dataStart
	if avail > max {
		avail = max
	}
	return pos, r.tail.block.data[dataStart : dataStart+avail]
}

func (r *Buffer) growTail() {
	nb := getBlock()
	r.tail.block.next = nb
	r.tail.block = nb
	r.tail.offset = 0
}

// CommitTail advances the tail cursor by n bytes following a PeekTail (or
// Write) call. n must fit within the block returned by the preceding
// PeekTail.
func (r *Buffer) CommitTail(n int) {
	r.tail.offset += n
	r.size += n
}

// PeekHead returns a contiguous slice starting at the head cursor, up to
// the end of the current block. It returns an empty slice when the
// buffer holds no unread bytes.
func (r *Buffer) PeekHead() []byte {
	if r.size == 0 {
		return nil
	}
	end := blockSize
	if r.head.block == r.tail.block {
		end = r.tail.offset
	}
	avail := r.head.block.data[r.head.offset:end]
	if len(avail) > r.size {
		avail = avail[:r.size]
	}
	return avail
}

// CommitHead advances the head cursor by n bytes, freeing any block it
// fully traverses. Committing more than Len bytes is clamped to Len,
// matching the original's tolerant read()-past-end behavior.
func (r *Buffer) CommitHead(n int) {
	if n > r.size {
		n = r.size
	}
	r.size -= n
	for n > 0 {
		remain := blockSize - r.head.offset
		if remain > n {
			r.head.offset += n
			return
		}
		n -= remain
		old := r.head.block
		next := old.next
		if next == nil {
			// Last block: keep it and reset its offset so the buffer
			// remains writable without an extra allocation.
			r.head.offset = 0
			r.tail = r.head
			return
		}
		r.head.block = next
		r.head.offset = 0
		putBlock(old)
	}
}

// Read copies up to len(data) unread bytes into data and commits them,
// returning the number of bytes copied.
func (r *Buffer) Read(data []byte) int {
	total := 0
	for total < len(data) {
		chunk := r.PeekHead()
		if len(chunk) == 0 {
			break
		}
		n := copy(data[total:], chunk)
		r.CommitHead(n)
		total += n
	}
	return total
}

// Rewrite overwrites n bytes at a previously captured Pos without
// disturbing the head or tail cursors. Used to back-fill a chunked
// transfer-encoding length prefix once the chunk body size is known. It
// reports false if the write would not fit within the single block pos
// refers to.
func (r *Buffer) Rewrite(pos Pos, data []byte, n int) bool {
	if n < 0 {
		n = len(data)
	}
	if pos.offset+n > blockSize {
		return false
	}
	copy(pos.block.data[pos.offset:pos.offset+n], data[:n])
	return true
}
