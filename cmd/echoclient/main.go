// Command echoclient is the test-harness client side of the CLI
// surface in spec §6: it opens N_CLIENTS connections to an echoserver
// and, on each, sends N_MSGS messages, verifying every echo matches
// what was sent.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antmuse/antnet/internal/kcp"
	"github.com/antmuse/antnet/internal/logging"
	"github.com/antmuse/antnet/internal/msgheader"
	"github.com/antmuse/antnet/internal/udpio"
)

func main() {
	args := os.Args[1:]
	if len(args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: echoclient {tcp|TCP|udp|UDP} host:port N_CLIENTS N_MSGS")
		os.Exit(1)
	}
	proto := strings.ToLower(args[0])
	addr := args[1]
	numClients, err1 := strconv.Atoi(args[2])
	numMsgs, err2 := strconv.Atoi(args[3])
	if err1 != nil || err2 != nil || numClients <= 0 || numMsgs <= 0 {
		fmt.Fprintln(os.Stderr, "N_CLIENTS and N_MSGS must be positive integers")
		os.Exit(1)
	}

	var failures int64
	var wg sync.WaitGroup
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		id := i
		go func() {
			defer wg.Done()
			var err error
			switch proto {
			case "tcp":
				err = runTCPClient(addr, id, numMsgs)
			case "udp":
				err = runUDPClient(addr, id, numMsgs)
			default:
				err = fmt.Errorf("unknown protocol %q, want tcp or udp", proto)
			}
			if err != nil {
				logging.Error("client failed", "client", id, "error", err)
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	if failures > 0 {
		logging.Error("echoclient finished with failures", "failed_clients", failures)
		os.Exit(1)
	}
	logging.Info("echoclient finished", "clients", numClients, "msgs_per_client", numMsgs)
}

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

func runTCPClient(addr string, clientID, numMsgs int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := 0; i < numMsgs; i++ {
		payload := []byte(fmt.Sprintf("client-%d-msg-%d", clientID, i))
		hdr := msgheader.New(1, 1)
		hdr.UniqueSN = uint32(i)
		hdr.Append(payload)
		frame := hdr.Encode()

		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("write msg %d: %w", i, err)
		}
		echo, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("read echo %d: %w", i, err)
		}
		echoHdr, err := msgheader.Decode(echo)
		if err != nil {
			return fmt.Errorf("decode echo %d: %w", i, err)
		}
		got, ok := echoHdr.Item(0)
		if !ok || string(got) != string(payload) {
			return fmt.Errorf("echo %d mismatch: want %q got %q", i, payload, got)
		}
	}
	return nil
}

func runUDPClient(addr string, clientID, numMsgs int) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	transport := udpio.NewTransport(conn)

	conv := uint32(0xC0FFEE00) + uint32(clientID)
	session := kcp.NewSession(conv, func(buf []byte) {
		_, _ = transport.WriteBatch([]udpio.Packet{{Data: buf, Addr: raddr}})
	})
	session.SetNoDelay(1, 10, 2, 1)

	recvCh := make(chan []byte, 8)
	stop := make(chan struct{})
	go func() {
		packets := make([]udpio.Packet, 4)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, err := transport.ReadBatch(packets)
			if err != nil {
				continue
			}
			for i := 0; i < n; i++ {
				cp := make([]byte, len(packets[i].Data))
				copy(cp, packets[i].Data)
				recvCh <- cp
			}
		}
	}()
	defer close(stop)

	// Only this goroutine ever touches session: the reader goroutine
	// above just forwards raw datagrams over recvCh, and every Update/
	// Input/Send/Receive call below happens on this single loop, matching
	// the one-thread-per-session model the reactor's own Loop uses.
	for i := 0; i < numMsgs; i++ {
		payload := []byte(fmt.Sprintf("client-%d-msg-%d", clientID, i))
		if err := session.Send(payload); err != nil {
			return fmt.Errorf("send msg %d: %w", i, err)
		}
		session.Update(uint32(time.Now().UnixMilli()))

		deadline := time.After(5 * time.Second)
		for {
			buf := make([]byte, 2048)
			n, err := session.Receive(buf)
			if err == nil {
				if string(buf[:n]) != string(payload) {
					return fmt.Errorf("echo %d mismatch: want %q got %q", i, payload, buf[:n])
				}
				break
			}
			select {
			case dgram := <-recvCh:
				if ierr := session.Input(dgram, uint32(time.Now().UnixMilli())); ierr != nil {
					return fmt.Errorf("input msg %d: %w", i, ierr)
				}
			case <-deadline:
				return fmt.Errorf("echo %d timed out", i)
			case <-time.After(10 * time.Millisecond):
				session.Update(uint32(time.Now().UnixMilli()))
			}
		}
	}
	return nil
}
