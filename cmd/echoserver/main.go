// Command echoserver is the test-harness server side of the CLI surface
// in spec §6: it accepts TCP or UDP connections and echoes back every
// framed message it receives, exercising msgheader framing over TCP and
// the KCP reliable-UDP engine over UDP.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/kcp"
	"github.com/antmuse/antnet/internal/logging"
	"github.com/antmuse/antnet/internal/metrics"
	"github.com/antmuse/antnet/internal/msgheader"
	"github.com/antmuse/antnet/internal/udpio"
)

func main() {
	metricsAddr := flag.String("metrics-addr", "", "optional host:port to serve Prometheus metrics on")
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: echoserver {tcp|TCP|udp|UDP} host:port")
		os.Exit(1)
	}

	var observer antnet.Observer = antnet.NoOpObserver{}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		observer = metrics.NewPrometheusObserver(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logging.Info("serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logging.Error("metrics server stopped", "error", err)
			}
		}()
	}

	proto := strings.ToLower(args[0])
	addr := args[1]

	var err error
	switch proto {
	case "tcp":
		err = runTCP(addr, observer)
	case "udp":
		err = runUDP(addr, observer)
	default:
		err = fmt.Errorf("unknown protocol %q, want tcp or udp", args[0])
	}
	if err != nil {
		logging.Error("echoserver exiting", "error", err)
		os.Exit(1)
	}
}

// readFrame reads one self-describing msgheader-framed record: the
// first 4 bytes are the total encoded size, little-endian.
func readFrame(r io.Reader) ([]byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	total := uint32(head[0]) | uint32(head[1])<<8 | uint32(head[2])<<16 | uint32(head[3])<<24
	if total < 4 || total > 16<<20 {
		return nil, fmt.Errorf("implausible frame size %d", total)
	}
	buf := make([]byte, total)
	copy(buf, head)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	return buf, nil
}

func runTCP(addr string, observer antnet.Observer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	logging.Info("echoserver listening", "proto", "tcp", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveTCPConn(conn, observer)
	}
}

func serveTCPConn(conn net.Conn, observer antnet.Observer) {
	defer conn.Close()
	for {
		start := time.Now()
		frame, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debug("tcp echo read ended", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		observer.ObserveRead(uint64(len(frame)), uint64(time.Since(start)), true)

		if _, err := msgheader.Decode(frame); err != nil {
			logging.Warn("dropping malformed frame", "remote", conn.RemoteAddr(), "error", err)
			return
		}

		start = time.Now()
		if _, err := conn.Write(frame); err != nil {
			observer.ObserveWrite(0, uint64(time.Since(start)), false)
			return
		}
		observer.ObserveWrite(uint64(len(frame)), uint64(time.Since(start)), true)
	}
}

// kcpPeer is one conversation's session plus the datagram address it
// talks to, keyed by conv in the server's session table.
type kcpPeer struct {
	session *kcp.Session
	addr    net.Addr
}

func runUDP(addr string, observer antnet.Observer) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	transport := udpio.NewTransport(conn)
	logging.Info("echoserver listening", "proto", "udp", "addr", transport.LocalAddr().String())

	var mu sync.Mutex
	peers := make(map[uint32]*kcpPeer)

	sendTo := func(addr net.Addr) func([]byte) {
		return func(buf []byte) {
			start := time.Now()
			_, err := transport.WriteBatch([]udpio.Packet{{Data: buf, Addr: addr}})
			observer.ObserveWrite(uint64(len(buf)), uint64(time.Since(start)), err == nil)
		}
	}

	// Every session is only ever touched from this one goroutine: there is
	// no separate ticker goroutine calling Update concurrently with the
	// read loop's Input/Receive/Send calls, matching the single-threaded-
	// per-session model the reactor's own Loop uses. Periodic Update ticks
	// are folded into the read loop itself via the socket's read deadline,
	// so a quiet socket still drives retransmits and pending acks.
	const tick = 20 * time.Millisecond
	packets := make([]udpio.Packet, 32)
	buf := make([]byte, 2048)
	for {
		transport.SetReadDeadline(time.Now().Add(tick))
		n, err := transport.ReadBatch(packets)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				nowMs := uint32(time.Now().UnixMilli())
				mu.Lock()
				for _, p := range peers {
					p.session.Update(nowMs)
				}
				mu.Unlock()
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			pkt := packets[i]
			if len(pkt.Data) < 4 {
				continue
			}
			conv := uint32(pkt.Data[0]) | uint32(pkt.Data[1])<<8 | uint32(pkt.Data[2])<<16 | uint32(pkt.Data[3])<<24

			mu.Lock()
			peer, ok := peers[conv]
			if !ok {
				session := kcp.NewSession(conv, nil)
				session.SetNoDelay(1, 10, 2, 1)
				peer = &kcpPeer{session: session, addr: pkt.Addr}
				session.Output = sendTo(pkt.Addr)
				peers[conv] = peer
			}
			peer.addr = pkt.Addr
			session := peer.session
			mu.Unlock()

			if err := session.Input(pkt.Data, uint32(time.Now().UnixMilli())); err != nil {
				logging.Debug("kcp input rejected", "conv", conv, "error", err)
				continue
			}
			for {
				n, err := session.Receive(buf)
				if err != nil {
					break
				}
				msg := make([]byte, n)
				copy(msg, buf[:n])
				if err := session.Send(msg); err != nil {
					logging.Warn("kcp echo send failed", "conv", conv, "error", err)
				}
			}
			session.Update(uint32(time.Now().UnixMilli()))
		}
	}
}
