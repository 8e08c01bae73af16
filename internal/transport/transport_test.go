package transport

import (
	"net"
	"testing"
	"time"

	"mcc/internal/frame"
)

func TestTCPAdapterHalfClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	var serverBuf []byte
	go func() {
		defer close(serverDone)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 1024)
		n, _ := c.Read(buf)
		serverBuf = buf[:n]
		// Read until EOF to observe the client's half-close.
		tail := make([]byte, 1024)
		for {
			_, err := c.Read(tail)
			if err != nil {
				break
			}
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tcpConn := conn.(*net.TCPConn)
	a := NewTCPAdapter(tcpConn)

	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.CloseWrite(); err != nil {
		t.Fatalf("closewrite: %v", err)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe EOF after CloseWrite")
	}
	if string(serverBuf) != "hello" {
		t.Fatalf("server got %q, want %q", serverBuf, "hello")
	}
	_ = a.Close()
}

func TestUDPAdapterLearnsPeer(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer serverConn.Close()
	adapter := NewUDPAdapter(serverConn, nil)

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 1024)
	n, err := adapter.Read(buf)
	if err != nil {
		t.Fatalf("adapter read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}

	if _, err := adapter.Write([]byte("pong")); err != nil {
		t.Fatalf("adapter write: %v", err)
	}
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = clientConn.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("got %q, want %q", buf[:n], "pong")
	}
}

func TestUDPAdapterDropsOversizeDatagram(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer serverConn.Close()
	adapter := NewUDPAdapter(serverConn, nil)

	oldMax := frame.FrameMax
	frame.FrameMax = 8
	defer func() { frame.FrameMax = oldMax }()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("this payload exceeds the frame max")); err != nil {
		t.Fatalf("client write oversize: %v", err)
	}
	if _, err := clientConn.Write([]byte("ok")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 1024)
	n, err := adapter.Read(buf)
	if err != nil {
		t.Fatalf("adapter read: %v", err)
	}
	if string(buf[:n]) != "ok" {
		t.Fatalf("got %q, want %q (oversize datagram should have been dropped)", buf[:n], "ok")
	}
	if got := adapter.DroppedCount(); got != 1 {
		t.Fatalf("dropped count = %d, want 1", got)
	}
}

func TestUDPAdapterCloseWriteIsNoop(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer serverConn.Close()
	adapter := NewUDPAdapter(serverConn, nil)
	if err := adapter.CloseWrite(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
