package pinkey

import (
	"context"
	"strings"
	"time"
)

// resetAckMarker is echoed by some firmware on a successful reset.
const resetAckMarker = `"OK"`

// Options configures a Client.
type Options struct {
	Transport TransportConfig
	Discovery DiscoveryConfig
	Logger    Logger
}

// Client is the typed interface to one PinKEY device.
//
// Every method goes through the same Transport queue, so concurrent callers
// never open more than one connection to the device. Methods report failure
// through a nil result or false and never return errors.
type Client struct {
	transport  *Transport
	discoverer *Discoverer
	logger     Logger
}

// NewClient creates a client and starts its transport worker.
//
// When opts.Transport.Host is empty the device is located with a UDP probe
// before the first command, and the address is kept for the client's lifetime.
func NewClient(opts Options) *Client {
	discoverer := NewDiscoverer(opts.Discovery)
	transport := NewTransport(opts.Transport, discoverer.Discover)

	if opts.Logger != nil {
		discoverer.SetLogger(opts.Logger)
		transport.SetLogger(opts.Logger)
	}

	return &Client{
		transport:  transport,
		discoverer: discoverer,
		logger:     opts.Logger,
	}
}

// Close stops the transport worker.
func (c *Client) Close() error {
	return c.transport.Close()
}

// CurrentHost returns the configured or discovered device address.
func (c *Client) CurrentHost() string {
	return c.transport.CurrentHost()
}

// Stats returns the transport counters.
func (c *Client) Stats() TransportStats {
	return c.transport.Stats()
}

// ReadStatus reads and decodes the full datapoint dump.
//
// Returns:
//   - *DeviceState: The decoded snapshot
//   - bool: false on transport failure or a reply that is not a 2WL frame
func (c *Client) ReadStatus(ctx context.Context) (*DeviceState, bool) {
	raw, ok := c.transport.Enqueue(ctx, BuildStatusCommand())
	if !ok {
		return nil, false
	}
	return DecodeStatus(raw, time.Now())
}

// DecodeStatus folds a 2WL reply into a DeviceState stamped with now.
//
// Read-only parameters are left out of the parameter map; sensors are kept
// regardless. A repeated id keeps its last record. Records that decode to
// anything else are ignored.
func DecodeStatus(raw string, now time.Time) (*DeviceState, bool) {
	records, ok := Parse2WLResponse(raw)
	if !ok {
		return nil, false
	}

	state := &DeviceState{
		StatoCrono: defaultStatoCrono,
		Parameters: make(map[uint16]ParameterValue),
		Sensors:    make(map[uint16]SensorValue),
		LastUpdate: now,
	}

	for _, h := range records {
		switch dp := ParseHexDatapoint(h).(type) {
		case MainValues:
			state.Stato = dp.Stato
			state.Errore = dp.Errore
			state.PosPunto = dp.PosPunto
			state.TempPrinc = ApplyPosPunto(dp.TempPrinc, dp.PosPunto)
			state.TempSec = ApplyPosPunto(dp.TempSec, dp.PosPunto)
		case ParameterRecord:
			if dp.ReadOnly {
				continue
			}
			state.Parameters[dp.ID] = ParameterValue{
				ID:          dp.ID,
				Valore:      dp.Valore,
				Min:         dp.Min,
				Max:         dp.Max,
				ReadOnly:    dp.ReadOnly,
				PosPunto:    dp.PosPunto,
				OriginalHex: h,
				Value:       ApplyPosPunto(dp.Valore, dp.PosPunto),
				MinValue:    ApplyPosPunto(dp.Min, dp.PosPunto),
				MaxValue:    ApplyPosPunto(dp.Max, dp.PosPunto),
			}
		case SensorRecord:
			state.Sensors[dp.ID] = SensorValue{
				ID:     dp.ID,
				Valore: dp.Valore,
				Min:    dp.Min,
				Max:    dp.Max,
			}
		case StateInfo:
			state.StatoCrono = dp.StatoCrono
		}
	}

	return state, true
}

// WriteParameter writes newValue to the slot originalHex was read from.
// Any reply counts as success; writes carry no structured acknowledgement.
func (c *Client) WriteParameter(ctx context.Context, originalHex string, newValue int) bool {
	_, ok := c.transport.Enqueue(ctx, Build2WCCommand(originalHex, newValue))
	return ok
}

// TurnOn sends the power-on command.
func (c *Client) TurnOn(ctx context.Context) bool {
	_, ok := c.transport.Enqueue(ctx, BuildOnCommand())
	return ok
}

// TurnOff sends the power-off command.
func (c *Client) TurnOff(ctx context.Context) bool {
	_, ok := c.transport.Enqueue(ctx, BuildOffCommand())
	return ok
}

// ResetError clears an error lockout.
//
// Any reply counts as success. Firmware that echoes "OK" is only noted in
// the debug log.
func (c *Client) ResetError(ctx context.Context) bool {
	resp, ok := c.transport.Enqueue(ctx, BuildResetCommand())
	if !ok {
		return false
	}
	if c.logger != nil {
		c.logger.Debug("reset acknowledged", "explicit_ok", strings.Contains(resp, resetAckMarker))
	}
	return true
}

// ReadSchedule reads the weekly programme.
//
// Returns:
//   - *CronoSchedule: The decoded programme
//   - bool: false on transport failure or a malformed reply
func (c *Client) ReadSchedule(ctx context.Context) (*CronoSchedule, bool) {
	raw, ok := c.transport.Enqueue(ctx, BuildCCGCommand())
	if !ok {
		return nil, false
	}
	return ParseCCGResponse(raw)
}

// WriteSchedule sends a prebuilt CCS frame.
func (c *Client) WriteSchedule(ctx context.Context, command string) bool {
	_, ok := c.transport.Enqueue(ctx, command)
	return ok
}

// Discover runs a UDP probe without touching the transport.
func (c *Client) Discover(ctx context.Context) (DiscoveredDevice, bool) {
	return c.discoverer.Discover(ctx)
}
