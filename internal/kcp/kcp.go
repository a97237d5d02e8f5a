// Package kcp implements the reliable-UDP protocol engine: ordered,
// exactly-once delivery with fragmentation, RTO-based retransmission and
// a slow-start congestion window, layered over an unreliable datagram
// transport. The algorithm (segment layout, RTO estimator, congestion
// control) is the classic KCP design; this port renames the public
// surface to the operations this runtime exposes (Send/Receive/Input/
// Update/Check) and reports through the runtime's antnet.Code taxonomy
// instead of bare negative-integer returns.
package kcp

import (
	"encoding/binary"
	"sync"

	"github.com/antmuse/antnet"
)

// Wire commands, matching the 24-byte header's cmd field.
const (
	CmdPush = 81 // data
	CmdAck  = 82
	CmdWask = 83 // ask remote window
	CmdWins = 84 // tell local window
)

const (
	askSend = 1 // need to emit CmdWask
	askTell = 2 // need to emit CmdWins
)

// Protocol constants per the wire format and tuning defaults.
const (
	Overhead       = 24 // header size
	DefaultMTU     = 1400
	DefaultSendWnd = 32
	DefaultRecvWnd = 32
	rtoNoDelay     = 30
	rtoMin         = 100
	rtoDefault     = 200
	rtoMax         = 60000
	fastAckLimit   = 5 // xmit count ceiling for fast-resend, disabled when 0
	threshInit     = 2
	threshMin      = 2
	cwndInit       = 4      // initial congestion window, in segments
	probeInit      = 7000   // 7s
	probeLimit     = 120000 // 120s
	deadLinkXmit   = 20
)

func imin(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func imax(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func ibound(lower, middle, upper uint32) uint32 {
	return imin(imax(lower, middle), upper)
}

// timeDiff computes later-earlier as a signed difference, tolerant of
// uint32 timestamp wraparound.
func timeDiff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

// segment is one unit of the send/receive buffers and queues.
type segment struct {
	cmd      uint8
	frg      uint8
	wnd      uint16
	ts       uint32
	sn       uint32
	una      uint32
	data     []byte
	resendAt uint32
	rto      uint32
	fastack  uint32
	xmit     uint32
}

func (s *segment) encode(p []byte) []byte {
	binary.LittleEndian.PutUint32(p, 0) // conv filled by caller at buffer level
	p[4] = s.cmd
	p[5] = s.frg
	binary.LittleEndian.PutUint16(p[6:], s.wnd)
	binary.LittleEndian.PutUint32(p[8:], s.ts)
	binary.LittleEndian.PutUint32(p[12:], s.sn)
	binary.LittleEndian.PutUint32(p[16:], s.una)
	binary.LittleEndian.PutUint32(p[20:], uint32(len(s.data)))
	return p[Overhead:]
}

var segBufPool = sync.Pool{New: func() any { return make([]byte, 0, DefaultMTU) }}

func allocData(n int) []byte {
	b := segBufPool.Get().([]byte)
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

func freeData(b []byte) {
	//nolint:staticcheck // intentionally pooling the backing array only
	segBufPool.Put(b[:0])
}

type ackItem struct {
	sn uint32
	ts uint32
}

// Observer receives optional diagnostic counters from a Session. A nil
// Observer is always safe to call through; Session guards every call.
type Observer interface {
	ObserveRetransmit(kind string)
	ObserveRepeatSegment()
}

// Session is one reliable-UDP peer session (ReliableUdpSession in the
// data model): per-conversation send/receive queues and buffers, RTT
// estimator, congestion window and flush schedule.
type Session struct {
	Conv uint32

	mtu, mss uint32
	state    uint32 // 0 healthy, 0xFFFFFFFF dead_link reached

	sndUNA, sndNxt, rcvNxt uint32
	ssthresh               uint32

	rxRTTVar, rxSRTT int32
	rxRTO, rxMinRTO  uint32

	sndWnd, rcvWnd, rmtWnd, cwnd, probe uint32

	interval, tsFlush, xmit uint32
	nodelay, updated        uint32
	tsProbe, probeWait      uint32
	deadLink, incr          uint32

	fastResend      int32
	noCwnd          int32
	stream          bool
	conserveFastAck bool

	sndQueue []segment
	rcvQueue []segment
	sndBuf   []segment
	rcvBuf   []segment

	acklist []ackItem

	sendBuffer []byte

	lastActivityMs int64

	// Output transmits one coalesced datagram (possibly several
	// segments, bounded by mtu) to the peer.
	Output func(buf []byte)

	Observer Observer
}

// NewSession creates a session for the given conversation id. output is
// called synchronously from Update (through flush) with each datagram
// ready to hand to the UDP transport.
func NewSession(conv uint32, output func(buf []byte)) *Session {
	s := &Session{
		Conv:     conv,
		mtu:      DefaultMTU,
		sndWnd:   DefaultSendWnd,
		rcvWnd:   DefaultRecvWnd,
		rmtWnd:   DefaultRecvWnd,
		rxRTO:    rtoDefault,
		rxMinRTO: rtoMin,
		interval: 100,
		tsFlush:  100,
		ssthresh: threshInit,
		cwnd:     cwndInit,
		deadLink: deadLinkXmit,
		Output:   output,
	}
	s.mss = s.mtu - Overhead
	s.sendBuffer = make([]byte, (s.mtu+Overhead)*3)
	return s
}

func (s *Session) observeRetransmit(kind string) {
	if s.Observer != nil {
		s.Observer.ObserveRetransmit(kind)
	}
}

func (s *Session) observeRepeat() {
	if s.Observer != nil {
		s.Observer.ObserveRepeatSegment()
	}
}

// IsDead reports whether a segment's transmit count reached dead_link,
// at which point the session should be torn down by the caller.
func (s *Session) IsDead() bool { return s.state == 0xFFFFFFFF }

// PeekSize returns the byte length of the next complete message at the
// head of the receive queue, or -1 if no complete message is buffered
// yet (a fragmented message mid-arrival).
func (s *Session) PeekSize() int {
	if len(s.rcvQueue) == 0 {
		return -1
	}
	seg := &s.rcvQueue[0]
	if seg.frg == 0 {
		return len(seg.data)
	}
	if len(s.rcvQueue) < int(seg.frg)+1 {
		return -1
	}
	length := 0
	for i := range s.rcvQueue {
		seg := &s.rcvQueue[i]
		length += len(seg.data)
		if seg.frg == 0 {
			break
		}
	}
	return length
}

// Receive copies the next complete message into dst. It returns
// CodeRetry if no complete message is ready yet, or CodeInvalidParam if
// dst is smaller than the next message (the caller must grow dst and
// retry); on success it returns the number of bytes copied.
func (s *Session) Receive(dst []byte) (int, error) {
	if len(s.rcvQueue) == 0 {
		return 0, antnet.NewError("kcp.Receive", antnet.CodeRetry, "no complete message buffered")
	}
	peekSize := s.PeekSize()
	if peekSize < 0 {
		return 0, antnet.NewError("kcp.Receive", antnet.CodeRetry, "message still fragmented")
	}
	if peekSize > len(dst) {
		return 0, antnet.NewError("kcp.Receive", antnet.CodeInvalidParam, "destination buffer too small")
	}

	fastRecover := len(s.rcvQueue) >= int(s.rcvWnd)

	n := 0
	count := 0
	for i := range s.rcvQueue {
		seg := &s.rcvQueue[i]
		copy(dst[n:], seg.data)
		n += len(seg.data)
		count++
		freeData(seg.data)
		if seg.frg == 0 {
			break
		}
	}
	s.rcvQueue = s.rcvQueue[count:]

	count = 0
	for i := range s.rcvBuf {
		seg := &s.rcvBuf[i]
		if seg.sn == s.rcvNxt && len(s.rcvQueue) < int(s.rcvWnd) {
			s.rcvNxt++
			count++
		} else {
			break
		}
	}
	s.rcvQueue = append(s.rcvQueue, s.rcvBuf[:count]...)
	s.rcvBuf = s.rcvBuf[count:]

	if len(s.rcvQueue) < int(s.rcvWnd) && fastRecover {
		s.probe |= askTell
	}
	return n, nil
}

// Send fragments data into mss-sized segments and enqueues them. It
// returns CodeInvalidParam if data is empty, and CodeRetry if the
// message would need more fragments than the local receive window
// holds, or more than the 255 a uint8 frg field can number.
func (s *Session) Send(data []byte) error {
	if len(data) == 0 {
		return antnet.NewError("kcp.Send", antnet.CodeInvalidParam, "empty message")
	}

	if s.stream {
		if n := len(s.sndQueue); n > 0 {
			old := &s.sndQueue[n-1]
			if len(old.data) < int(s.mss) {
				capRemain := int(s.mss) - len(old.data)
				extend := capRemain
				if len(data) < capRemain {
					extend = len(data)
				}
				merged := allocData(len(old.data) + extend)
				copy(merged, old.data)
				copy(merged[len(old.data):], data[:extend])
				freeData(old.data)
				old.data = merged
				data = data[extend:]
			}
		}
		if len(data) == 0 {
			return nil
		}
	}

	var count int
	if len(data) <= int(s.mss) {
		count = 1
	} else {
		count = (len(data) + int(s.mss) - 1) / int(s.mss)
	}
	if count > 255 || count > int(s.rcvWnd) {
		return antnet.NewError("kcp.Send", antnet.CodeRetry, "message requires more fragments than the window allows")
	}

	for i := 0; i < count; i++ {
		size := int(s.mss)
		if len(data) < size {
			size = len(data)
		}
		seg := segment{data: allocData(size)}
		copy(seg.data, data[:size])
		if s.stream {
			seg.frg = 0
		} else {
			seg.frg = uint8(count - i - 1)
		}
		s.sndQueue = append(s.sndQueue, seg)
		data = data[size:]
	}
	return nil
}

func (s *Session) updateRTTEstimator(rtt int32) {
	if s.rxSRTT == 0 {
		s.rxSRTT = rtt
		s.rxRTTVar = rtt >> 1
	} else {
		delta := rtt - s.rxSRTT
		s.rxSRTT += delta >> 3
		if delta < 0 {
			delta = -delta
		}
		if rtt < s.rxSRTT-s.rxRTTVar {
			s.rxRTTVar += (delta - s.rxRTTVar) >> 5
		} else {
			s.rxRTTVar += (delta - s.rxRTTVar) >> 2
		}
	}
	rto := uint32(s.rxSRTT) + imax(s.interval, uint32(s.rxRTTVar)<<2)
	s.rxRTO = ibound(s.rxMinRTO, rto, rtoMax)
}

func (s *Session) shrinkBuf() {
	if len(s.sndBuf) > 0 {
		s.sndUNA = s.sndBuf[0].sn
	} else {
		s.sndUNA = s.sndNxt
	}
}

func (s *Session) parseAck(sn uint32) {
	if timeDiff(sn, s.sndUNA) < 0 || timeDiff(sn, s.sndNxt) >= 0 {
		return
	}
	for i := range s.sndBuf {
		seg := &s.sndBuf[i]
		if sn == seg.sn {
			freeData(seg.data)
			copy(s.sndBuf[i:], s.sndBuf[i+1:])
			s.sndBuf = s.sndBuf[:len(s.sndBuf)-1]
			return
		}
		if timeDiff(sn, seg.sn) < 0 {
			return
		}
	}
}

func (s *Session) parseFastAck(sn uint32) {
	if timeDiff(sn, s.sndUNA) < 0 || timeDiff(sn, s.sndNxt) >= 0 {
		return
	}
	for i := range s.sndBuf {
		seg := &s.sndBuf[i]
		if timeDiff(sn, seg.sn) < 0 {
			break
		} else if sn != seg.sn {
			seg.fastack++
		}
	}
}

func (s *Session) parseUNA(una uint32) {
	count := 0
	for i := range s.sndBuf {
		if timeDiff(una, s.sndBuf[i].sn) > 0 {
			freeData(s.sndBuf[i].data)
			count++
		} else {
			break
		}
	}
	s.sndBuf = s.sndBuf[count:]
}

func (s *Session) ackPush(sn, ts uint32) {
	s.acklist = append(s.acklist, ackItem{sn, ts})
}

func (s *Session) parseData(seg segment) {
	sn := seg.sn
	if timeDiff(sn, s.rcvNxt+s.rcvWnd) >= 0 || timeDiff(sn, s.rcvNxt) < 0 {
		s.observeRepeat()
		return
	}

	n := len(s.rcvBuf) - 1
	insertAt := 0
	repeat := false
	for i := n; i >= 0; i-- {
		if s.rcvBuf[i].sn == sn {
			repeat = true
			s.observeRepeat()
			break
		}
		if timeDiff(sn, s.rcvBuf[i].sn) > 0 {
			insertAt = i + 1
			break
		}
	}
	if !repeat {
		if insertAt == n+1 {
			s.rcvBuf = append(s.rcvBuf, seg)
		} else {
			s.rcvBuf = append(s.rcvBuf, segment{})
			copy(s.rcvBuf[insertAt+1:], s.rcvBuf[insertAt:])
			s.rcvBuf[insertAt] = seg
		}
	}

	count := 0
	for i := range s.rcvBuf {
		if s.rcvBuf[i].sn == s.rcvNxt && len(s.rcvQueue) < int(s.rcvWnd) {
			s.rcvNxt++
			count++
		} else {
			break
		}
	}
	s.rcvQueue = append(s.rcvQueue, s.rcvBuf[:count]...)
	s.rcvBuf = s.rcvBuf[count:]
}

// Input parses a received datagram — possibly several coalesced
// segments — updating ack/retransmission state. now is the current
// timestamp in milliseconds.
func (s *Session) Input(data []byte, now uint32) error {
	una := s.sndUNA
	if len(data) < Overhead {
		return antnet.NewError("kcp.Input", antnet.CodeInvalidParam, "datagram shorter than header")
	}

	var maxAck uint32
	var haveAck bool

	for len(data) >= Overhead {
		conv := binary.LittleEndian.Uint32(data)
		if conv != s.Conv {
			return antnet.NewError("kcp.Input", antnet.CodeInvalidParam, "conversation id mismatch")
		}
		cmd := data[4]
		frg := data[5]
		wnd := binary.LittleEndian.Uint16(data[6:])
		ts := binary.LittleEndian.Uint32(data[8:])
		sn := binary.LittleEndian.Uint32(data[12:])
		segUNA := binary.LittleEndian.Uint32(data[16:])
		length := binary.LittleEndian.Uint32(data[20:])
		data = data[Overhead:]
		if uint32(len(data)) < length {
			return antnet.NewError("kcp.Input", antnet.CodeInvalidParam, "truncated payload")
		}
		if cmd != CmdPush && cmd != CmdAck && cmd != CmdWask && cmd != CmdWins {
			return antnet.NewError("kcp.Input", antnet.CodeInvalidParam, "unknown command")
		}

		s.rmtWnd = uint32(wnd)
		s.parseUNA(segUNA)
		s.shrinkBuf()

		switch cmd {
		case CmdAck:
			if timeDiff(now, ts) >= 0 {
				s.updateRTTEstimator(timeDiff(now, ts))
			}
			s.parseAck(sn)
			s.shrinkBuf()
			if !haveAck {
				haveAck = true
				maxAck = sn
			} else if timeDiff(sn, maxAck) > 0 {
				maxAck = sn
			}
		case CmdPush:
			if timeDiff(sn, s.rcvNxt+s.rcvWnd) < 0 {
				s.ackPush(sn, ts)
				if timeDiff(sn, s.rcvNxt) >= 0 {
					seg := segment{frg: frg, wnd: wnd, ts: ts, sn: sn, una: segUNA, data: allocData(int(length))}
					copy(seg.data, data[:length])
					s.parseData(seg)
				} else {
					s.observeRepeat()
				}
			} else {
				s.observeRepeat()
			}
		case CmdWask:
			s.probe |= askTell
		case CmdWins:
			// informational only
		}
		data = data[length:]
	}

	if haveAck {
		s.parseFastAck(maxAck)
	}

	if timeDiff(s.sndUNA, una) > 0 && s.cwnd < s.rmtWnd {
		mss := s.mss
		if s.cwnd < s.ssthresh {
			s.cwnd++
			s.incr += mss
		} else {
			if s.incr < mss {
				s.incr = mss
			}
			s.incr += (mss*mss)/s.incr + (mss / 16)
			if (s.cwnd+1)*mss <= s.incr {
				s.cwnd++
			}
		}
		if s.cwnd > s.rmtWnd {
			s.cwnd = s.rmtWnd
			s.incr = s.rmtWnd * mss
		}
	}
	s.lastActivityMs = int64(now)
	return nil
}

func (s *Session) wndUnused() uint16 {
	if len(s.rcvQueue) < int(s.rcvWnd) {
		return uint16(int(s.rcvWnd) - len(s.rcvQueue))
	}
	return 0
}

// flush emits pending acks, probes and data segments. now is the
// current timestamp in milliseconds.
func (s *Session) flush(now uint32) {
	buf := s.sendBuffer
	ptr := buf
	changed := false
	lost := false

	emit := func() {
		size := len(buf) - len(ptr)
		if size > 0 {
			binary.LittleEndian.PutUint32(buf, s.Conv)
			s.Output(buf[:size])
			ptr = buf
		}
	}

	encodeHeader := func(cmd, frg uint8, sn, ts uint32, data []byte) {
		need := Overhead + len(data)
		if len(buf)-len(ptr)+need > int(s.mtu) {
			emit()
		}
		binary.LittleEndian.PutUint32(ptr, s.Conv)
		ptr[4] = cmd
		ptr[5] = frg
		binary.LittleEndian.PutUint16(ptr[6:], s.wndUnused())
		binary.LittleEndian.PutUint32(ptr[8:], ts)
		binary.LittleEndian.PutUint32(ptr[12:], sn)
		binary.LittleEndian.PutUint32(ptr[16:], s.rcvNxt)
		binary.LittleEndian.PutUint32(ptr[20:], uint32(len(data)))
		ptr = ptr[Overhead:]
		if len(data) > 0 {
			copy(ptr, data)
			ptr = ptr[len(data):]
		}
	}

	for _, ack := range s.acklist {
		encodeHeader(CmdAck, 0, ack.sn, ack.ts, nil)
	}
	s.acklist = nil
	emit()

	// Probe window size when the remote announced a zero receive window.
	if s.rmtWnd == 0 {
		if s.probeWait == 0 {
			s.probeWait = probeInit
			s.tsProbe = now + s.probeWait
		} else if timeDiff(now, s.tsProbe) >= 0 {
			if s.probeWait < probeInit {
				s.probeWait = probeInit
			}
			s.probeWait += s.probeWait / 2
			if s.probeWait > probeLimit {
				s.probeWait = probeLimit
			}
			s.tsProbe = now + s.probeWait
			s.probe |= askSend
		}
	} else {
		s.tsProbe = 0
		s.probeWait = 0
	}

	if s.probe&askSend != 0 {
		encodeHeader(CmdWask, 0, 0, 0, nil)
	}
	if s.probe&askTell != 0 {
		encodeHeader(CmdWins, 0, 0, 0, nil)
	}
	s.probe = 0
	emit()

	cwnd := imin(s.sndWnd, s.rmtWnd)
	if s.noCwnd == 0 {
		cwnd = imin(s.cwnd, cwnd)
	}

	newCount := 0
	for len(s.sndQueue) > 0 {
		if timeDiff(s.sndNxt, s.sndUNA+cwnd) >= 0 {
			break
		}
		seg := s.sndQueue[0]
		s.sndQueue = s.sndQueue[1:]
		seg.cmd = CmdPush
		seg.sn = s.sndNxt
		s.sndNxt++
		s.sndBuf = append(s.sndBuf, seg)
		newCount++
	}

	resendThreshold := uint32(s.fastResend)
	if s.fastResend <= 0 {
		resendThreshold = 0xffffffff
	}

	newlySent := len(s.sndBuf) - newCount
	for i := newlySent; i < len(s.sndBuf); i++ {
		seg := &s.sndBuf[i]
		seg.xmit++
		seg.rto = s.rxRTO
		seg.resendAt = now + seg.rto
		seg.ts = now
		encodeHeader(seg.cmd, seg.frg, seg.sn, seg.ts, seg.data)
		if seg.xmit >= s.deadLink {
			s.state = 0xFFFFFFFF
		}
	}

	for i := 0; i < newlySent; i++ {
		seg := &s.sndBuf[i]
		needSend := false
		switch {
		case timeDiff(now, seg.resendAt) >= 0:
			needSend = true
			seg.xmit++
			s.xmit++
			if s.nodelay == 0 {
				seg.rto += s.rxRTO
			} else if s.nodelay == 1 {
				seg.rto += s.rxRTO / 2
			} else {
				seg.rto += s.rxMinRTO / 2
			}
			seg.resendAt = now + seg.rto
			lost = true
			s.observeRetransmit("rto")
		case seg.fastack >= resendThreshold && (fastAckLimit == 0 || seg.xmit <= fastAckLimit):
			needSend = true
			seg.xmit++
			seg.fastack = 0
			seg.rto = s.rxRTO
			seg.resendAt = now + seg.rto
			changed = true
			s.observeRetransmit("fast")
		case !s.conserveFastAck && seg.fastack > 0 && newCount == 0:
			// Aggressive mode: resend any segment that a later ack has
			// skipped at least once (fastack > 0) when this flush moved no
			// new segments into the send buffer, even if its fast-ack count
			// never reached resendThreshold. Conservative mode
			// (SetFastAckMode(true)) waits for the threshold instead,
			// trading faster loss recovery for fewer spurious resends.
			needSend = true
			seg.xmit++
			seg.fastack = 0
			seg.rto = s.rxRTO
			seg.resendAt = now + seg.rto
			changed = true
			s.observeRetransmit("early")
		}
		if needSend {
			seg.ts = now
			encodeHeader(seg.cmd, seg.frg, seg.sn, seg.ts, seg.data)
			if seg.xmit >= s.deadLink {
				s.state = 0xFFFFFFFF
			}
		}
	}
	emit()

	if changed {
		inflight := s.sndNxt - s.sndUNA
		s.ssthresh = inflight / 2
		if s.ssthresh < threshMin {
			s.ssthresh = threshMin
		}
		s.cwnd = s.ssthresh + resendThreshold
	}
	if lost {
		s.ssthresh = cwnd / 2
		if s.ssthresh < threshMin {
			s.ssthresh = threshMin
		}
		s.cwnd = 1
	}
	if s.cwnd < 1 {
		s.cwnd = 1
	}
}

// Update drives the flush schedule; call it frequently (every interval
// ms) or use Check to learn when the next call is actually needed.
func (s *Session) Update(now uint32) {
	if s.updated == 0 {
		s.updated = 1
		s.tsFlush = now
	}
	slap := timeDiff(now, s.tsFlush)
	if slap >= 10000 || slap < -10000 {
		s.tsFlush = now
		slap = 0
	}
	if slap >= 0 {
		s.tsFlush += s.interval
		if timeDiff(now, s.tsFlush) >= 0 {
			s.tsFlush = now + s.interval
		}
		s.flush(now)
	}
}

// Check returns the timestamp at which Update should next be called,
// letting a caller schedule a single TimerHeap tick instead of polling.
func (s *Session) Check(now uint32) uint32 {
	if s.updated == 0 {
		return now
	}
	tsFlush := s.tsFlush
	if timeDiff(now, tsFlush) >= 10000 || timeDiff(now, tsFlush) < -10000 {
		tsFlush = now
	}
	if timeDiff(now, tsFlush) >= 0 {
		return now
	}
	tmFlush := timeDiff(tsFlush, now)
	tmPacket := int32(0x7fffffff)
	for i := range s.sndBuf {
		diff := timeDiff(s.sndBuf[i].resendAt, now)
		if diff <= 0 {
			return now
		}
		if diff < tmPacket {
			tmPacket = diff
		}
	}
	minimal := uint32(tmPacket)
	if tmPacket >= tmFlush {
		minimal = uint32(tmFlush)
	}
	if minimal >= s.interval {
		minimal = s.interval
	}
	return now + minimal
}

// SetMTU changes the maximum transmission unit; mtu must be larger
// than the header so each segment carries at least one payload byte.
func (s *Session) SetMTU(mtu int) error {
	if mtu <= Overhead {
		return antnet.NewError("kcp.SetMTU", antnet.CodeInvalidParam, "mtu too small")
	}
	s.mtu = uint32(mtu)
	s.mss = s.mtu - Overhead
	s.sendBuffer = make([]byte, (s.mtu+Overhead)*3)
	return nil
}

// SetInterval clamps the flush interval to [10, 5000] ms.
func (s *Session) SetInterval(ms int) {
	if ms > 5000 {
		ms = 5000
	} else if ms < 10 {
		ms = 10
	}
	s.interval = uint32(ms)
}

// SetNoDelay configures the nodelay/resend/congestion-control tuning.
// nodelay: 0 disabled (default), 1 enabled (uses the 30ms min RTO).
// resend: fast-resend ack-count threshold, 0 disables fast resend.
// nc: non-zero disables congestion-window clamping.
func (s *Session) SetNoDelay(nodelay, interval, resend, nc int) {
	if nodelay >= 0 {
		s.nodelay = uint32(nodelay)
		if nodelay != 0 {
			s.rxMinRTO = rtoNoDelay
		} else {
			s.rxMinRTO = rtoMin
		}
	}
	if interval >= 0 {
		s.SetInterval(interval)
	}
	if resend >= 0 {
		s.fastResend = int32(resend)
	}
	if nc >= 0 {
		s.noCwnd = int32(nc)
	}
}

// SetWindowSize sets the local send/receive window sizes. rcvwnd is
// clamped to be at least the fragmentation maximum (255) so a fully
// fragmented message can always eventually be received.
func (s *Session) SetWindowSize(sndWnd, rcvWnd int) {
	if sndWnd > 0 {
		s.sndWnd = uint32(sndWnd)
	}
	if rcvWnd > 0 {
		if rcvWnd < 255 {
			rcvWnd = 255
		}
		s.rcvWnd = uint32(rcvWnd)
	}
}

// SetStream toggles stream mode, where fragments of successive Send
// calls may be coalesced into one segment instead of kept as distinct
// messages.
func (s *Session) SetStream(stream bool) { s.stream = stream }

// SetFastAckMode selects between the two fast-ack resend behaviors the
// reference implementation gates behind a compile-time toggle: conserve=
// false (default) resends a segment that a later ack has skipped, on a
// flush that moves no new segments out; conserve=true waits for its
// fast-ack count to reach the
// resendThreshold configured via SetNoDelay, at the cost of slower loss
// recovery but fewer spurious retransmits under reordering.
func (s *Session) SetFastAckMode(conserve bool) { s.conserveFastAck = conserve }

// WaitSend reports how many segments are queued or in flight.
func (s *Session) WaitSend() int {
	return len(s.sndBuf) + len(s.sndQueue)
}

// CheckIdle reports whether the session has been silent for longer than
// threshold milliseconds, using the corrected |now-last| > threshold
// predicate (the source this engine is modeled on checks
// `diff > threshold || diff < threshold`, which is true unconditionally
// whenever diff != threshold; the intended check compares the absolute
// value).
func (s *Session) CheckIdle(nowMs int64, thresholdMs int64) bool {
	diff := nowMs - s.lastActivityMs
	if diff < 0 {
		diff = -diff
	}
	return diff > thresholdMs
}
