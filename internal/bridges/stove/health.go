package stove

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/fourheat-core/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. Typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource reports the poll controller's view of the device.
type HealthSource interface {
	ConsecutiveFailures() int
	Suspended() bool
	LastPoll() time.Time
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	DeviceID string
	Version  string

	// Interval between publishes. Default: 30 seconds.
	Interval time.Duration

	QoS       byte
	Publisher HealthPublisher
	Stove     HealthSource

	// HostFunc reports the resolved device host. Optional.
	HostFunc func() string
}

// HealthReporter publishes a retained health message on fourheat/health
// every interval and on reachability changes.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	// reachable is the last reachability reported through markReachable.
	reachable   bool
	reachableMu sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		reachable: true,
		done:      make(chan struct{}),
	}
}

// Start publishes the current status and then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// markReachable records device reachability and reports whether it changed.
func (h *HealthReporter) markReachable(reachable bool) bool {
	h.reachableMu.Lock()
	defer h.reachableMu.Unlock()
	changed := h.reachable != reachable
	h.reachable = reachable
	return changed
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus checks the broker link first, then the device.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Stove != nil {
		if h.cfg.Stove.Suspended() {
			return HealthDegraded, "polling suspended, device unreachable"
		}
		if h.cfg.Stove.ConsecutiveFailures() > 0 {
			return HealthDegraded, "device unreachable"
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        "fourheat",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		DeviceID:      h.cfg.DeviceID,
		Reason:        reason,
	}
	if h.cfg.HostFunc != nil {
		msg.DeviceHost = h.cfg.HostFunc()
	}
	if h.cfg.Stove != nil {
		msg.ConsecutiveFailures = h.cfg.Stove.ConsecutiveFailures()
		msg.Suspended = h.cfg.Stove.Suspended()
		if last := h.cfg.Stove.LastPoll(); !last.IsZero() {
			utc := last.UTC()
			msg.LastPoll = &utc
		}
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(), payload, h.cfg.QoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
