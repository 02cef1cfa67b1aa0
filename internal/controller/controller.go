package controller

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// Polling defaults.
const (
	DefaultInterval     = 30 * time.Second
	DefaultSuspendAfter = 3
	DefaultMinTemp      = 30.0
	DefaultMaxTemp      = 75.0
)

// DefaultBackoffSteps are the retry delays after the 1st, 2nd, 3rd and every
// later consecutive failure.
var DefaultBackoffSteps = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Device is the stove as seen by the controller.
// It is satisfied by *pinkey.Client.
type Device interface {
	ReadStatus(ctx context.Context) (*pinkey.DeviceState, bool)
	WriteParameter(ctx context.Context, originalHex string, newValue int) bool
	TurnOn(ctx context.Context) bool
	TurnOff(ctx context.Context) bool
	ResetError(ctx context.Context) bool
	ReadSchedule(ctx context.Context) (*pinkey.CronoSchedule, bool)
	WriteSchedule(ctx context.Context, command string) bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PollResult describes one completed status read.
type PollResult struct {
	// State is the new snapshot, nil when the read failed.
	State *pinkey.DeviceState

	// Failures is the consecutive failure count after this poll.
	Failures int

	// RetryIn is the armed backoff delay (zero on success or when stopped).
	RetryIn time.Duration

	// Suspended reports whether regular polling is suspended.
	Suspended bool

	// Duration is how long the read took, queue wait included.
	Duration time.Duration
}

// Options configures a Controller. Zero values take defaults.
type Options struct {
	// Device is required.
	Device Device

	// Interval between regular polls.
	// Default: 30 seconds.
	Interval time.Duration

	// BackoffSteps are the retry delays indexed by min(failures-1, len-1).
	// Default: 5s, 10s, 30s, 60s.
	BackoffSteps []time.Duration

	// SuspendAfter is the consecutive failure count that suspends regular polling.
	// Default: 3
	SuspendAfter int

	// MinTemp and MaxTemp clamp SetTargetTemperature.
	// Default: 30 and 75.
	MinTemp float64
	MaxTemp float64

	// Logger is optional.
	Logger Logger
}

// Controller owns the device snapshot and the polling schedule.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	device       Device
	interval     time.Duration
	backoff      []time.Duration
	suspendAfter int
	minTemp      float64
	maxTemp      float64

	// Guarded by mu.
	mu        sync.Mutex
	state     *pinkey.DeviceState
	failures  int
	suspended bool
	running   bool
	lastPoll  time.Time
	ticker    *time.Ticker
	retry     *time.Timer
	retryGen  uint64

	// retryC carries the generation of a fired retry timer.
	retryC chan uint64

	handlers   []func(PollResult)
	handlersMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a controller. Call Start to begin polling.
//
// Parameters:
//   - opts: Device and polling settings
//
// Returns:
//   - *Controller: Ready to start; action methods work before Start
func New(opts Options) *Controller {
	c := &Controller{
		device:       opts.Device,
		interval:     opts.Interval,
		backoff:      opts.BackoffSteps,
		suspendAfter: opts.SuspendAfter,
		minTemp:      opts.MinTemp,
		maxTemp:      opts.MaxTemp,
		retryC:       make(chan uint64, 1),
		done:         make(chan struct{}),
		logger:       opts.Logger,
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if len(c.backoff) == 0 {
		c.backoff = DefaultBackoffSteps
	}
	if c.suspendAfter <= 0 {
		c.suspendAfter = DefaultSuspendAfter
	}
	if c.minTemp == 0 && c.maxTemp == 0 {
		c.minTemp, c.maxTemp = DefaultMinTemp, DefaultMaxTemp
	}
	return c
}

// SetLogger sets the logger for this controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// OnPoll registers a handler for every poll outcome.
// Handlers run synchronously after the snapshot is replaced.
func (c *Controller) OnPoll(handler func(PollResult)) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, handler)
	c.handlersMu.Unlock()
}

// Start polls once immediately and then on every interval until Stop or
// ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	c.startOnce.Do(func() {
		err = nil
		loopCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel

		c.mu.Lock()
		c.running = true
		c.ticker = time.NewTicker(c.interval)
		c.mu.Unlock()

		c.wg.Add(1)
		go c.run(loopCtx)

		c.logInfo("polling started", "interval", c.interval.String())
	})
	return err
}

// Stop halts polling and cancels any armed retry.
// Safe to call multiple times and before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		c.mu.Lock()
		c.running = false
		if c.ticker != nil {
			c.ticker.Stop()
		}
		c.stopRetryLocked()
		c.mu.Unlock()

		c.logInfo("polling stopped")
	})
}

// State returns a copy of the last good snapshot, or nil before the first
// successful poll.
func (c *Controller) State() *pinkey.DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// ConsecutiveFailures returns the number of failed polls since the last success.
func (c *Controller) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Suspended reports whether regular polling is suspended by repeated failures.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// LastPoll returns the time of the last successful poll.
func (c *Controller) LastPoll() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPoll
}

// PollNow reads the device immediately and applies the result exactly as
// a scheduled poll would.
//
// Returns:
//   - *pinkey.DeviceState: Copy of the new snapshot
//   - error: ErrDeviceUnavailable if the read failed
func (c *Controller) PollNow(ctx context.Context) (*pinkey.DeviceState, error) {
	start := time.Now()
	state, ok := c.readStatus(ctx)
	elapsed := time.Since(start)

	if !ok {
		c.recordFailure(elapsed)
		return nil, ErrDeviceUnavailable
	}
	c.recordSuccess(state, elapsed)
	return state.Clone(), nil
}

// run is the polling loop.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	c.PollNow(ctx) //nolint:errcheck // Outcome is logged and published

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.ticker.C:
			c.PollNow(ctx) //nolint:errcheck
		case gen := <-c.retryC:
			if !c.retryCurrent(gen) {
				continue
			}
			c.PollNow(ctx) //nolint:errcheck
		}
	}
}

// readStatus calls the device, treating a panic as a failed read.
func (c *Controller) readStatus(ctx context.Context) (state *pinkey.DeviceState, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logWarn("poll exception", "error", fmt.Sprint(r))
			state, ok = nil, false
		}
	}()
	return c.device.ReadStatus(ctx)
}

func (c *Controller) recordSuccess(state *pinkey.DeviceState, elapsed time.Duration) {
	c.mu.Lock()
	previous := c.failures
	c.failures = 0
	c.state = state
	c.lastPoll = state.LastUpdate
	c.stopRetryLocked()
	resumed := false
	if c.suspended {
		c.suspended = false
		resumed = true
		if c.running {
			c.ticker.Reset(c.interval)
		}
	}
	c.mu.Unlock()

	if previous > 0 {
		c.logInfo(fmt.Sprintf("connection restored after %d failures", previous), "failures", previous)
	}
	if resumed {
		c.logInfo("regular polling resumed", "interval", c.interval.String())
	}
	if state.Errore > 0 {
		c.logWarn("stove error", "code", state.Errore, "state", state.StatoLabel())
	}
	c.logDebug("poll",
		"state", state.StatoLabel(),
		"temp", state.TempPrinc,
		"errore", state.Errore,
		"params", summariseParameters(state),
		"sensors", summariseSensors(state),
	)

	c.notify(PollResult{State: state.Clone(), Duration: elapsed})
}

func (c *Controller) recordFailure(elapsed time.Duration) {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	delay := c.backoffDelay(failures)
	suspendedNow := false
	if c.running {
		c.armRetryLocked(delay)
		if !c.suspended && failures >= c.suspendAfter {
			c.suspended = true
			suspendedNow = true
			c.ticker.Stop()
		}
	} else {
		delay = 0
	}
	suspended := c.suspended
	c.mu.Unlock()

	c.logWarn("poll failed", "consecutive_failures", failures, "retry_in", delay.String())
	if suspendedNow {
		c.logWarn("regular polling suspended", "consecutive_failures", failures)
	}

	c.notify(PollResult{
		Failures:  failures,
		RetryIn:   delay,
		Suspended: suspended,
		Duration:  elapsed,
	})
}

// backoffDelay returns the retry delay after the given failure count.
// Delays saturate at the last step.
func (c *Controller) backoffDelay(failures int) time.Duration {
	idx := min(max(failures-1, 0), len(c.backoff)-1)
	return c.backoff[idx]
}

// armRetryLocked replaces any pending retry with one that fires after delay.
func (c *Controller) armRetryLocked(delay time.Duration) {
	c.stopRetryLocked()
	gen := c.retryGen
	c.retry = time.AfterFunc(delay, func() {
		select {
		case c.retryC <- gen:
		default:
		}
	})
}

// stopRetryLocked cancels the pending retry. Bumping the generation
// invalidates a retry that already fired but was not yet consumed.
func (c *Controller) stopRetryLocked() {
	c.retryGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) retryCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.retryGen
}

func (c *Controller) notify(result PollResult) {
	c.handlersMu.RLock()
	handlers := slices.Clone(c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(result)
	}
}

func summariseParameters(state *pinkey.DeviceState) string {
	parts := make([]string, 0, len(state.Parameters))
	for id, p := range state.Parameters {
		parts = append(parts, fmt.Sprintf("0x%x=%g", id, p.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func summariseSensors(state *pinkey.DeviceState) string {
	parts := make([]string, 0, len(state.Sensors))
	for id, s := range state.Sensors {
		parts = append(parts, fmt.Sprintf("0x%x=%d", id, s.Valore))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
