package pinkey

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// Discovery defaults.
const (
	// DefaultBroadcastPort is where the device listens for CF4 probes.
	DefaultBroadcastPort = 6666

	// DefaultListenPort is where the device sends its CF4 reply.
	DefaultListenPort = 5555

	// DefaultDiscoveryTimeout bounds one probe round.
	DefaultDiscoveryTimeout = 3 * time.Second

	// DefaultDiscoveryRetries is the number of probe rounds before giving up.
	DefaultDiscoveryRetries = 3

	// DefaultBroadcastAddress is the limited broadcast address.
	DefaultBroadcastAddress = "255.255.255.255"

	// minCF4Parts is tag, count, id, name, ip. A trailing "OK" is optional.
	minCF4Parts = 5

	// udpBufferSize comfortably holds a CF4 reply.
	udpBufferSize = 1024
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DiscoveryConfig holds UDP discovery settings. Zero values take defaults.
type DiscoveryConfig struct {
	// BroadcastAddress is the probe destination.
	// Default: 255.255.255.255
	BroadcastAddress string

	// BroadcastPort is the probe destination port.
	// Default: 6666
	BroadcastPort int

	// ListenPort is the local port the reply arrives on.
	// Default: 5555
	ListenPort int

	// Timeout bounds one probe round.
	// Default: 3 seconds.
	Timeout time.Duration

	// MaxRetries is the number of probe rounds.
	// Default: 3
	MaxRetries int
}

func (c *DiscoveryConfig) applyDefaults() {
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = DefaultBroadcastAddress
	}
	if c.BroadcastPort == 0 {
		c.BroadcastPort = DefaultBroadcastPort
	}
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultDiscoveryTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultDiscoveryRetries
	}
}

// BuildDiscoveryProbe returns the CF4 probe frame.
func BuildDiscoveryProbe() string {
	return frame(TagDiscovery, "0")
}

// ParseCF4Response decodes a discovery reply.
//
// Both ["CF4","n","id","name","ip"] and the same with a trailing "OK"
// are accepted.
func ParseCF4Response(data string) (DiscoveredDevice, bool) {
	parts, ok := ParseEnvelope(data, TagDiscovery)
	if !ok || len(parts) < minCF4Parts {
		return DiscoveredDevice{}, false
	}
	return DiscoveredDevice{
		ID:   parts[2],
		Name: parts[3],
		IP:   parts[4],
	}, true
}

// Discoverer finds and wakes the device with a UDP broadcast probe.
//
// A reply also means the device's TCP stack is awake, so the transport
// runs discovery before its first exchange when no host is configured.
type Discoverer struct {
	cfg DiscoveryConfig

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDiscoverer creates a discoverer with defaults applied to cfg.
func NewDiscoverer(cfg DiscoveryConfig) *Discoverer {
	cfg.applyDefaults()
	return &Discoverer{cfg: cfg}
}

// SetLogger sets the logger for this discoverer.
func (d *Discoverer) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Discover runs WakeAndDiscover with the configured retries and timeout.
func (d *Discoverer) Discover(ctx context.Context) (DiscoveredDevice, bool) {
	return d.WakeAndDiscover(ctx, d.cfg.MaxRetries, d.cfg.Timeout)
}

// WakeAndDiscover runs up to maxRetries sequential probe rounds and returns
// the first device that answers.
//
// Parameters:
//   - ctx: Cancels the remaining rounds
//   - maxRetries: Number of rounds
//   - timeout: Length of each round
//
// Returns:
//   - DiscoveredDevice: Identity and address of the device
//   - bool: false if no round produced a valid reply
func (d *Discoverer) WakeAndDiscover(ctx context.Context, maxRetries int, timeout time.Duration) (DiscoveredDevice, bool) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return DiscoveredDevice{}, false
		}
		if dev, ok := d.AttemptDiscovery(ctx, timeout); ok {
			return dev, true
		}
		d.logDebug("discovery round without reply", "attempt", attempt, "max_retries", maxRetries)
	}
	return DiscoveredDevice{}, false
}

// AttemptDiscovery runs one probe round.
//
// The reply socket is bound before the probe is sent so a fast device
// cannot answer into a closed port. Both sockets are closed on return.
func (d *Discoverer) AttemptDiscovery(ctx context.Context, timeout time.Duration) (DiscoveredDevice, bool) {
	listener, err := listenReply(ctx, d.cfg.ListenPort)
	if err != nil {
		if ctx.Err() == nil {
			d.logWarn("discovery listen failed, is another process holding the reply port?",
				"port", d.cfg.ListenPort, "error", err)
		}
		return DiscoveredDevice{}, false
	}
	defer listener.Close()

	if err := listener.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return DiscoveredDevice{}, false
	}
	stop := context.AfterFunc(ctx, func() {
		listener.SetReadDeadline(time.Now()) //nolint:errcheck // Unblocks the read below
	})
	defer stop()

	if err := d.sendProbe(); err != nil {
		d.logWarn("discovery probe failed", "error", err)
		return DiscoveredDevice{}, false
	}

	buf := make([]byte, udpBufferSize)
	for {
		n, from, err := listener.ReadFromUDP(buf)
		if err != nil {
			return DiscoveredDevice{}, false
		}
		if dev, ok := ParseCF4Response(string(buf[:n])); ok {
			d.logDebug("discovery reply", "from", from.String(), "id", dev.ID, "ip", dev.IP)
			return dev, true
		}
	}
}

// listenReply binds the CF4 reply port with SO_REUSEADDR.
func listenReply(ctx context.Context, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// sendProbe broadcasts the CF4 probe from an ephemeral port.
func (d *Discoverer) sendProbe() error {
	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return err
	}
	defer sender.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(d.cfg.BroadcastAddress), Port: d.cfg.BroadcastPort}
	_, err = sender.WriteToUDP([]byte(BuildDiscoveryProbe()), dst)
	return err
}

func (d *Discoverer) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Discoverer) logDebug(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (d *Discoverer) logWarn(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
