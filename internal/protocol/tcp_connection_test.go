// internal/protocol/tcp_connection_test.go
package protocol

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// startInstrument serves a minimal SCPI socket on a random local port
func startInstrument(t *testing.T, replies map[string]string) *TCPConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if reply, ok := replies[scanner.Text()]; ok {
				conn.Write([]byte(reply))
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &TCPConfig{
		Host:           "127.0.0.1",
		Port:           addr.Port,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
	}
}

func TestTCPConnectionQuery(t *testing.T) {
	config := startInstrument(t, map[string]string{
		"*IDN?":       "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000001,00.04.04.SP3\n",
		":DISP:DATA?": "#15hello\n",
	})

	conn := NewTCPConnection(config, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := conn.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if !conn.IsOpen() {
		t.Fatal("connection should be open")
	}

	if n, err := conn.Write(ctx, []byte("*IDN?\n")); err != nil || n != 6 {
		t.Fatalf("write = %d, %v", n, err)
	}
	reply, err := conn.Read(ctx, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000001,00.04.04.SP3" {
		t.Errorf("reply = %q", reply)
	}

	conn.Write(ctx, []byte(":DISP:DATA?\n"))
	block, err := conn.Read(ctx, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(block) != "#15hello" {
		t.Errorf("block = %q", block)
	}

	stats := conn.Stats()
	if !stats.IsConnected || stats.BytesWritten != 18 || stats.OperationCount != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestTCPConnectionReadCancel(t *testing.T) {
	config := startInstrument(t, nil)
	config.ReadTimeout = 10 * time.Second

	conn := NewTCPConnection(config, zaptest.NewLogger(t))
	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.Read(ctx, 1024)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancelled read took %s", time.Since(start))
	}
}

func TestTCPConnectionReadTimeout(t *testing.T) {
	config := startInstrument(t, nil)
	config.ReadTimeout = 50 * time.Millisecond

	conn := NewTCPConnection(config, zaptest.NewLogger(t))
	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Read(context.Background(), 1024); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if conn.Stats().ErrorCount != 1 {
		t.Errorf("error count = %d", conn.Stats().ErrorCount)
	}
}

func TestTCPConnectionNotOpen(t *testing.T) {
	conn := NewTCPConnection(&TCPConfig{Host: "127.0.0.1", Port: 1}, zaptest.NewLogger(t))

	if _, err := conn.Write(context.Background(), []byte("*IDN?\n")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("write: expected ErrNotOpen, got %v", err)
	}
	if _, err := conn.Read(context.Background(), 10); !errors.Is(err, ErrNotOpen) {
		t.Errorf("read: expected ErrNotOpen, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("close of unopened connection: %v", err)
	}
}
