package pinkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transport defaults.
const (
	// DefaultPort is the device's command port.
	DefaultPort = 80

	// DefaultTimeout is the idle timeout of one TCP exchange.
	DefaultTimeout = 5 * time.Second

	// DefaultConnectDelay is the settle delay between connect and first write.
	// The device drops connections that write sooner.
	DefaultConnectDelay = 500 * time.Millisecond

	// readBufferSize is the chunk size for accumulating a reply.
	readBufferSize = 1024
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// TransportConfig holds TCP exchange settings. Zero values take defaults.
type TransportConfig struct {
	// Host is the device address. Empty means discover on first use.
	Host string

	// Port is the device command port.
	// Default: 80
	Port int

	// Timeout is the idle timeout while connecting and reading.
	// Default: 5 seconds.
	Timeout time.Duration

	// ConnectDelay is the idle period after connect before writing.
	// Default: 500 milliseconds.
	ConnectDelay time.Duration

	// DebugTCP logs every frame sent and received at info level instead of debug.
	DebugTCP bool
}

func (c *TransportConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
}

// DiscoverFunc resolves the device when no host is configured.
type DiscoverFunc func(ctx context.Context) (DiscoveredDevice, bool)

// TransportStats holds operational statistics.
type TransportStats struct {
	CommandsTotal uint64
	FailuresTotal uint64
	LastSuccess   time.Time
	Host          string
}

type exchangeResult struct {
	resp string
	ok   bool
}

type exchangeRequest struct {
	ctx    context.Context
	cmd    string
	result chan exchangeResult
}

// Transport serialises every command to the device through one worker.
//
// Callers block in Enqueue while earlier commands run. Waiting senders on
// the queue channel are served in arrival order, so commands execute in
// strict FIFO order with at most one TCP connection open at any time.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Transport struct {
	cfg      TransportConfig
	discover DiscoverFunc

	// queue has capacity one: the worker holds the running command while
	// the next caller waits in the channel's send queue.
	queue chan exchangeRequest

	// host is set at construction or once by discovery, never cleared.
	host   string
	hostMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	commandsTotal atomic.Uint64
	failuresTotal atomic.Uint64
	lastSuccess   atomic.Int64
}

// NewTransport creates a transport and starts its worker.
//
// Parameters:
//   - cfg: Exchange settings; zero values take defaults
//   - discover: Used once when cfg.Host is empty (may be nil)
//
// Returns:
//   - *Transport: Running transport; call Close to stop it
func NewTransport(cfg TransportConfig, discover DiscoverFunc) *Transport {
	cfg.applyDefaults()

	t := &Transport{
		cfg:      cfg,
		discover: discover,
		queue:    make(chan exchangeRequest, 1),
		host:     cfg.Host,
		done:     newCloseOnce(),
	}

	t.wg.Add(1)
	go t.run()

	return t
}

// SetLogger sets the logger for this transport.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// Close stops the worker. A running exchange finishes first; queued
// commands that were not started report failure.
func (t *Transport) Close() error {
	t.done.Close()
	t.wg.Wait()
	return nil
}

// CurrentHost returns the configured or discovered host, or "".
func (t *Transport) CurrentHost() string {
	t.hostMu.RLock()
	defer t.hostMu.RUnlock()
	return t.host
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() TransportStats {
	stats := TransportStats{
		CommandsTotal: t.commandsTotal.Load(),
		FailuresTotal: t.failuresTotal.Load(),
		Host:          t.CurrentHost(),
	}
	if ts := t.lastSuccess.Load(); ts > 0 {
		stats.LastSuccess = time.Unix(0, ts)
	}
	return stats
}

// Enqueue runs cmd after every command enqueued before it and returns the
// device's reply.
//
// Enqueue never returns an error: ok is false when the device could not be
// reached, timed out, closed without replying, ctx was cancelled, or the
// transport is closed.
func (t *Transport) Enqueue(ctx context.Context, cmd string) (string, bool) {
	req := exchangeRequest{
		ctx:    ctx,
		cmd:    cmd,
		result: make(chan exchangeResult, 1),
	}

	select {
	case <-t.done.Done():
		return "", false
	default:
	}

	select {
	case t.queue <- req:
	case <-ctx.Done():
		return "", false
	case <-t.done.Done():
		return "", false
	}

	select {
	case res := <-req.result:
		return res.resp, res.ok
	case <-ctx.Done():
		return "", false
	case <-t.done.Done():
		return "", false
	}
}

// run is the single consumer of the queue.
func (t *Transport) run() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done.Done():
			t.drain()
			return
		case req := <-t.queue:
			req.result <- t.execute(req)
		}
	}
}

// drain fails any request that was accepted but never started.
func (t *Transport) drain() {
	for {
		select {
		case req := <-t.queue:
			t.logDebug("command dropped", "command", req.cmd, "error", ErrTransportClosed)
			req.result <- exchangeResult{}
		default:
			return
		}
	}
}

// execute runs one command end to end. A panic fails only this command.
func (t *Transport) execute(req exchangeRequest) (res exchangeResult) {
	t.commandsTotal.Add(1)
	defer func() {
		if r := recover(); r != nil {
			t.logError("command panic recovered", fmt.Errorf("%v", r))
			res = exchangeResult{}
		}
		if !res.ok {
			t.failuresTotal.Add(1)
		}
	}()

	if req.ctx.Err() != nil {
		return exchangeResult{}
	}

	host, ok := t.resolveHost(req.ctx)
	if !ok {
		t.logWarn("no device found via UDP discovery and no host configured", "error", ErrNoHost)
		return exchangeResult{}
	}

	t.logFrame("tcp send", "host", host, "port", t.cfg.Port, "command", req.cmd)
	resp, err := t.exchange(req.ctx, host, req.cmd)
	if err != nil {
		t.logFrame("tcp exchange failed", "host", host, "error", err)
		return exchangeResult{}
	}
	t.logFrame("tcp recv", "response", resp)

	t.lastSuccess.Store(time.Now().UnixNano())
	return exchangeResult{resp: resp, ok: true}
}

// resolveHost returns the known host or discovers it once.
// Only the worker goroutine calls this, so discovery never runs twice at once.
func (t *Transport) resolveHost(ctx context.Context) (string, bool) {
	if host := t.CurrentHost(); host != "" {
		return host, true
	}
	if t.discover == nil {
		return "", false
	}

	dev, ok := t.discover(ctx)
	if !ok || dev.IP == "" {
		return "", false
	}

	t.hostMu.Lock()
	t.host = dev.IP
	t.hostMu.Unlock()

	t.logInfo("discovered device", "id", dev.ID, "name", dev.Name, "ip", dev.IP)
	return dev.IP, true
}

// exchange performs connect, settle, write and read-until-close.
func (t *Transport) exchange(ctx context.Context, host, cmd string) (string, error) {
	address := net.JoinHostPort(host, strconv.Itoa(t.cfg.Port))

	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now()) //nolint:errcheck // Unblocks pending I/O on cancel
	})
	defer stop()

	settle := time.NewTimer(t.cfg.ConnectDelay)
	select {
	case <-ctx.Done():
		settle.Stop()
		return "", ctx.Err()
	case <-settle.C:
	}

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		return "", fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := io.WriteString(conn, cmd); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	var data strings.Builder
	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		data.Write(buf[:n])

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if data.Len() == 0 {
				return "", ErrEmptyResponse
			}
			return data.String(), nil
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, os.ErrDeadlineExceeded):
			return "", ErrExchangeTimeout
		default:
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Transport) logDebug(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logFrame logs wire traffic, promoted to info when DebugTCP is set.
func (t *Transport) logFrame(msg string, keysAndValues ...any) {
	if t.cfg.DebugTCP {
		t.logInfo(msg, keysAndValues...)
		return
	}
	t.logDebug(msg, keysAndValues...)
}

func (t *Transport) logInfo(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (t *Transport) logWarn(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (t *Transport) logError(msg string, err error) {
	if logger := t.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
