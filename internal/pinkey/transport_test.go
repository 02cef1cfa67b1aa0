package pinkey

import (
	"context"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTransport_Enqueue(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	resp, ok := tr.Enqueue(context.Background(), BuildStatusCommand())
	if !ok {
		t.Fatal("Enqueue() ok = false")
	}
	if want := `["2WL","1","["2WL","0"]"]`; resp != want {
		t.Errorf("Enqueue() = %s, want %s", resp, want)
	}
}

func TestTransport_FIFOWithVaryingLatency(t *testing.T) {
	delays := map[string]time.Duration{
		"[A]": 120 * time.Millisecond,
		"[B]": 5 * time.Millisecond,
		"[C]": 60 * time.Millisecond,
	}
	dev := newMockDevice(t, echoHandler(delays))
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	cmds := []string{"[A]", "[B]", "[C]"}
	results := make([]string, len(cmds))
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, ok := tr.Enqueue(context.Background(), cmd)
			if !ok {
				t.Errorf("Enqueue(%s) ok = false", cmd)
			}
			results[i] = resp
		}()
		// Give each caller time to reach the queue before the next one.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	if got := dev.commands(); !reflect.DeepEqual(got, cmds) {
		t.Errorf("device saw %v, want %v", got, cmds)
	}
	if max := dev.maxActive.Load(); max != 1 {
		t.Errorf("max concurrent connections = %d, want 1", max)
	}
	for i, cmd := range cmds {
		if want := `["2WL","1","` + cmd + `"]`; results[i] != want {
			t.Errorf("caller %d got %s, want %s", i, results[i], want)
		}
	}
}

func TestTransport_ManyConcurrentCallers(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	const callers = 10
	var okCount atomic.Int32
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
				okCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if okCount.Load() != callers {
		t.Errorf("successful commands = %d, want %d", okCount.Load(), callers)
	}
	if max := dev.maxActive.Load(); max != 1 {
		t.Errorf("max concurrent connections = %d, want 1", max)
	}
	if stats := tr.Stats(); stats.CommandsTotal != callers || stats.FailuresTotal != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestTransport_ConnectDelay(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))
	cfg := testTransportConfig(dev.port())
	cfg.ConnectDelay = 100 * time.Millisecond
	tr := NewTransport(cfg, nil)
	defer tr.Close()

	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); !ok {
		t.Fatal("Enqueue() ok = false")
	}

	dev.mu.Lock()
	idle := dev.firstRx[0].Sub(dev.accepted[0])
	dev.mu.Unlock()
	if idle < 80*time.Millisecond {
		t.Errorf("first byte arrived %v after connect, want >= connect delay", idle)
	}
}

func TestTransport_EmptyReplyFails(t *testing.T) {
	dev := newMockDevice(t, func(string) (string, time.Duration) { return "", 0 })
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	if resp, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
		t.Errorf("Enqueue() = %q, true; want failure", resp)
	}
	if stats := tr.Stats(); stats.FailuresTotal != 1 {
		t.Errorf("FailuresTotal = %d, want 1", stats.FailuresTotal)
	}
}

func TestTransport_TimeoutDiscardsPartialData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		ln.Close()
	})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readCommand(conn) //nolint:errcheck
		conn.Write([]byte(`["2WL","3","0E00`)) //nolint:errcheck
		<-release
	}()

	cfg := testTransportConfig(ln.Addr().(*net.TCPAddr).Port)
	cfg.Timeout = 150 * time.Millisecond
	tr := NewTransport(cfg, nil)
	defer tr.Close()

	start := time.Now()
	resp, ok := tr.Enqueue(context.Background(), BuildStatusCommand())
	if ok || resp != "" {
		t.Errorf("Enqueue() = %q, %v; want \"\", false", resp, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestTransport_ConnectionRefused(t *testing.T) {
	tr := NewTransport(testTransportConfig(closedPort(t)), nil)
	defer tr.Close()

	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
		t.Error("Enqueue() to closed port ok = true")
	}
}

func TestTransport_FailureDoesNotBlockQueue(t *testing.T) {
	dev := newMockDevice(t, func(cmd string) (string, time.Duration) {
		if cmd == "[bad]" {
			return "", 0
		}
		return `["OK"]`, 0
	})
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	if _, ok := tr.Enqueue(context.Background(), "[bad]"); ok {
		t.Error("first command ok = true")
	}
	if _, ok := tr.Enqueue(context.Background(), "[good]"); !ok {
		t.Error("command after a failure ok = false")
	}
}

func TestTransport_NoHostNoDiscovery(t *testing.T) {
	tr := NewTransport(TransportConfig{ConnectDelay: time.Millisecond}, func(context.Context) (DiscoveredDevice, bool) {
		return DiscoveredDevice{}, false
	})
	defer tr.Close()

	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
		t.Error("Enqueue() without host ok = true")
	}
	if host := tr.CurrentHost(); host != "" {
		t.Errorf("CurrentHost() = %q, want empty", host)
	}
}

func TestTransport_DiscoversOnceAndCaches(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))

	var calls atomic.Int32
	discover := func(context.Context) (DiscoveredDevice, bool) {
		calls.Add(1)
		return DiscoveredDevice{ID: "ABC", Name: "Stove", IP: "127.0.0.1"}, true
	}

	cfg := testTransportConfig(dev.port())
	cfg.Host = ""
	tr := NewTransport(cfg, discover)
	defer tr.Close()

	for range 3 {
		if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); !ok {
			t.Fatal("Enqueue() ok = false")
		}
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("discover called %d times, want 1", n)
	}
	if host := tr.CurrentHost(); host != "127.0.0.1" {
		t.Errorf("CurrentHost() = %q", host)
	}
}

func TestTransport_PanicFailsOnlyThatCommand(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))

	var calls atomic.Int32
	discover := func(context.Context) (DiscoveredDevice, bool) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return DiscoveredDevice{IP: "127.0.0.1"}, true
	}

	cfg := testTransportConfig(dev.port())
	cfg.Host = ""
	tr := NewTransport(cfg, discover)
	defer tr.Close()

	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
		t.Error("panicking command ok = true")
	}
	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); !ok {
		t.Error("command after panic ok = false")
	}
}

func TestTransport_CancelledContext(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := tr.Enqueue(ctx, BuildStatusCommand()); ok {
		t.Error("Enqueue() with cancelled context ok = true")
	}
}

func TestTransport_CancelDuringExchange(t *testing.T) {
	dev := newMockDevice(t, echoHandler(map[string]time.Duration{
		BuildStatusCommand(): 5 * time.Second,
	}))
	tr := NewTransport(testTransportConfig(dev.port()), nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, ok := tr.Enqueue(ctx, BuildStatusCommand()); ok {
		t.Error("Enqueue() ok = true after cancel")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}

	// The worker must be free again for the next caller.
	if _, ok := tr.Enqueue(context.Background(), "[next]"); !ok {
		t.Error("Enqueue() after cancelled exchange ok = false")
	}
}

func TestTransport_EnqueueAfterClose(t *testing.T) {
	dev := newMockDevice(t, echoHandler(nil))
	tr := NewTransport(testTransportConfig(dev.port()), nil)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, ok := tr.Enqueue(context.Background(), BuildStatusCommand()); ok {
		t.Error("Enqueue() after Close ok = true")
	}
}
