// Package msgheader implements the message-header helper format used
// to frame application records over TCP (spec §6): a fixed header
// followed by an index of (offset, size) entries and the payload
// regions those entries describe.
package msgheader

import (
	"encoding/binary"

	"github.com/antmuse/antnet"
)

const (
	fixedHeaderSize = 16 // through index_region_offset
	itemEntrySize   = 8  // u32 offset + u32 size
)

// Item is one indexed payload region.
type Item struct {
	Offset uint32
	Size   uint32
}

// Header is a message framed per the wire format in spec §6. Append,
// Remove and Copy keep the item index and payload regions consistent;
// Encode recomputes every offset and total_size from scratch, so the
// index never needs manual repair after a Remove compacts it.
type Header struct {
	UniqueSN uint32
	MsgType  uint16
	Version  uint16

	items    []Item
	payloads [][]byte
}

// New returns an empty header of the given type and version.
func New(msgType, version uint16) *Header {
	return &Header{MsgType: msgType, Version: version}
}

// Append adds a payload region and returns its index.
func (h *Header) Append(data []byte) int {
	h.items = append(h.items, Item{Size: uint32(len(data))})
	h.payloads = append(h.payloads, data)
	return len(h.items) - 1
}

// Remove deletes the item at index, compacting the remaining items and
// payloads so there is no gap in either list.
func (h *Header) Remove(index int) bool {
	if index < 0 || index >= len(h.items) {
		return false
	}
	h.items = append(h.items[:index], h.items[index+1:]...)
	h.payloads = append(h.payloads[:index], h.payloads[index+1:]...)
	return true
}

// Item returns the payload bytes at index.
func (h *Header) Item(index int) ([]byte, bool) {
	if index < 0 || index >= len(h.payloads) {
		return nil, false
	}
	return h.payloads[index], true
}

// Count reports how many payload regions are present.
func (h *Header) Count() int { return len(h.items) }

// Copy returns a deep copy safe for independent mutation.
func (h *Header) Copy() *Header {
	c := &Header{UniqueSN: h.UniqueSN, MsgType: h.MsgType, Version: h.Version}
	c.items = append([]Item(nil), h.items...)
	c.payloads = make([][]byte, len(h.payloads))
	for i, p := range h.payloads {
		c.payloads[i] = append([]byte(nil), p...)
	}
	return c
}

// Encode serializes the header and every payload region into one
// contiguous buffer, recomputing each item's offset and the leading
// total_size field.
func (h *Header) Encode() []byte {
	indexBytes := len(h.items) * itemEntrySize
	payloadStart := fixedHeaderSize + indexBytes
	total := payloadStart
	for _, p := range h.payloads {
		total += len(p)
	}
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:], h.UniqueSN)
	binary.LittleEndian.PutUint16(buf[8:], h.MsgType)
	binary.LittleEndian.PutUint16(buf[10:], h.Version)
	binary.LittleEndian.PutUint16(buf[12:], uint16(len(h.items)))
	binary.LittleEndian.PutUint16(buf[14:], uint16(fixedHeaderSize))

	offset := payloadStart
	for i, p := range h.payloads {
		h.items[i] = Item{Offset: uint32(offset), Size: uint32(len(p))}
		entryAt := fixedHeaderSize + i*itemEntrySize
		binary.LittleEndian.PutUint32(buf[entryAt:], h.items[i].Offset)
		binary.LittleEndian.PutUint32(buf[entryAt+4:], h.items[i].Size)
		copy(buf[offset:], p)
		offset += len(p)
	}
	return buf
}

// Decode parses a previously encoded buffer. Payload regions reference
// buf directly rather than copying it; callers that retain a Decoded
// Header past buf's lifetime should Copy it first.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < fixedHeaderSize {
		return nil, antnet.NewError("msgheader.Decode", antnet.CodeInvalidParam, "buffer shorter than fixed header")
	}
	total := binary.LittleEndian.Uint32(buf[0:])
	if int(total) > len(buf) {
		return nil, antnet.NewError("msgheader.Decode", antnet.CodeInvalidParam, "total_size exceeds buffer")
	}
	h := &Header{
		UniqueSN: binary.LittleEndian.Uint32(buf[4:]),
		MsgType:  binary.LittleEndian.Uint16(buf[8:]),
		Version:  binary.LittleEndian.Uint16(buf[10:]),
	}
	itemCount := binary.LittleEndian.Uint16(buf[12:])
	indexOffset := binary.LittleEndian.Uint16(buf[14:])
	if int(indexOffset) < fixedHeaderSize {
		return nil, antnet.NewError("msgheader.Decode", antnet.CodeInvalidParam, "index_region_offset below minimum")
	}
	need := int(indexOffset) + int(itemCount)*itemEntrySize
	if need > int(total) {
		return nil, antnet.NewError("msgheader.Decode", antnet.CodeInvalidParam, "index region exceeds total_size")
	}
	h.items = make([]Item, itemCount)
	h.payloads = make([][]byte, itemCount)
	for i := 0; i < int(itemCount); i++ {
		entryAt := int(indexOffset) + i*itemEntrySize
		off := binary.LittleEndian.Uint32(buf[entryAt:])
		size := binary.LittleEndian.Uint32(buf[entryAt+4:])
		if int(off)+int(size) > int(total) {
			return nil, antnet.NewError("msgheader.Decode", antnet.CodeInvalidParam, "item region exceeds total_size")
		}
		h.items[i] = Item{Offset: off, Size: size}
		h.payloads[i] = buf[off : off+size]
	}
	return h, nil
}

// TotalSize returns the size Encode would produce for h's current
// contents, without actually encoding it.
func (h *Header) TotalSize() int {
	total := fixedHeaderSize + len(h.items)*itemEntrySize
	for _, p := range h.payloads {
		total += len(p)
	}
	return total
}
