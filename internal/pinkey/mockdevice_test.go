package pinkey

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// deviceHandler returns the reply to a command and how long to wait before
// sending it. An empty reply closes the connection without writing.
type deviceHandler func(cmd string) (reply string, delay time.Duration)

// mockDevice is an in-process TCP device that answers one command per
// connection and then closes, like the real hardware.
type mockDevice struct {
	ln      net.Listener
	handler deviceHandler

	mu       sync.Mutex
	received []string
	accepted []time.Time
	firstRx  []time.Time

	active    atomic.Int32
	maxActive atomic.Int32

	done chan struct{}
	wg   sync.WaitGroup
}

func newMockDevice(t *testing.T, handler deviceHandler) *mockDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	m := &mockDevice{ln: ln, handler: handler, done: make(chan struct{})}
	m.wg.Add(1)
	go m.serve()

	t.Cleanup(func() {
		close(m.done)
		ln.Close()
		m.wg.Wait()
	})
	return m
}

func (m *mockDevice) port() int {
	return m.ln.Addr().(*net.TCPAddr).Port
}

func (m *mockDevice) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

func (m *mockDevice) serve() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go m.handle(conn)
	}
}

func (m *mockDevice) handle(conn net.Conn) {
	defer m.wg.Done()

	n := m.active.Add(1)
	for {
		prev := m.maxActive.Load()
		if n <= prev || m.maxActive.CompareAndSwap(prev, n) {
			break
		}
	}
	accepted := time.Now()

	// Decrement before closing so the client's next dial never overlaps.
	finish := func() {
		m.active.Add(-1)
		conn.Close()
	}

	cmd, firstRx, ok := readCommand(conn)
	if !ok {
		finish()
		return
	}

	m.mu.Lock()
	m.received = append(m.received, cmd)
	m.accepted = append(m.accepted, accepted)
	m.firstRx = append(m.firstRx, firstRx)
	m.mu.Unlock()

	reply, delay := m.handler(cmd)
	select {
	case <-time.After(delay):
	case <-m.done:
	}
	if reply != "" {
		conn.Write([]byte(reply)) //nolint:errcheck
	}
	finish()
}

// readCommand reads until the frame's closing bracket.
func readCommand(conn net.Conn) (string, time.Time, bool) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	var data []byte
	var firstRx time.Time
	buf := make([]byte, 256)
	for !bytes.HasSuffix(data, []byte("]")) {
		n, err := conn.Read(buf)
		if n > 0 && firstRx.IsZero() {
			firstRx = time.Now()
		}
		data = append(data, buf[:n]...)
		if err != nil {
			return "", firstRx, false
		}
	}
	return string(data), firstRx, true
}

// echoHandler replies with a 2WL frame naming the command it received.
func echoHandler(delays map[string]time.Duration) deviceHandler {
	return func(cmd string) (string, time.Duration) {
		return `["2WL","1","` + cmd + `"]`, delays[cmd]
	}
}

func testTransportConfig(port int) TransportConfig {
	return TransportConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Timeout:      2 * time.Second,
		ConnectDelay: time.Millisecond,
	}
}

// closedPort returns a local TCP port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
