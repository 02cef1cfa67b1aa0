package stove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// commandTimeout bounds one command including its refresh poll.
const commandTimeout = 30 * time.Second

// MQTTClient is the broker connection the bridge publishes through.
// It is satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Stove is the controller surface the bridge drives.
// It is satisfied by *controller.Controller.
type Stove interface {
	State() *pinkey.DeviceState
	ConsecutiveFailures() int
	Suspended() bool
	LastPoll() time.Time
	PollNow(ctx context.Context) (*pinkey.DeviceState, error)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	ResetError(ctx context.Context) error
	WriteParameter(ctx context.Context, id uint16, value int) error
	SetTargetTemperature(ctx context.Context, celsius float64) error
	EnableCrono(ctx context.Context) error
	DisableCrono(ctx context.Context) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	// DeviceID names the stove in every topic.
	DeviceID string

	// Version is reported in health messages.
	Version string

	// HealthInterval between health publishes. Default: 30 seconds.
	HealthInterval time.Duration

	// QoS for state, ack and health messages. Default: 1.
	QoS byte

	MQTT  MQTTClient
	Stove Stove

	// HostFunc reports the device host for health messages. Optional.
	HostFunc func() string

	Logger Logger
}

// Bridge connects the poll controller to MQTT: it publishes each new
// snapshot retained, executes commands from the command topic and reports
// health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID string
	qos      byte
	mqtt     MQTTClient
	stove    Stove
	health   *HealthReporter
	topics   mqtt.Topics

	// Commands run on their own goroutines so paho's router never blocks
	// on the device queue.
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// stopped is guarded by cmdMu so no wg.Add races Stop's Wait.
	stopped bool
	cmdMu   sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge validates opts and builds a Bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("stove bridge: device id is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("stove bridge: MQTT client is required")
	}
	if opts.Stove == nil {
		return nil, errors.New("stove bridge: stove controller is required")
	}
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		deviceID:  opts.DeviceID,
		qos:       qos,
		mqtt:      opts.MQTT,
		stove:     opts.Stove,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.DeviceID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		QoS:       qos,
		Publisher: opts.MQTT,
		Stove:     opts.Stove,
		HostFunc:  opts.HostFunc,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// Start subscribes to the command topic and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("failed to publish starting status", "error", err)
	}

	topic := b.topics.Command(b.deviceID)
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	if state := b.stove.State(); state != nil {
		b.publishState(state)
	}

	b.health.Start(ctx)
	b.logInfo("bridge started", "device_id", b.deviceID)
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes a final
// stopping health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cmdMu.Lock()
		b.stopped = true
		b.cmdMu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// HandlePoll is registered with controller.OnPoll. A successful poll
// publishes the retained snapshot; a poll that changes reachability
// refreshes health straight away.
func (b *Bridge) HandlePoll(result controller.PollResult) {
	if result.State != nil {
		b.publishState(result.State)
		if result.Failures == 0 && b.health.markReachable(true) {
			b.publishHealth()
		}
		return
	}
	if b.health.markReachable(false) {
		b.publishHealth()
	}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) publishState(state *pinkey.DeviceState) {
	payload, err := json.Marshal(NewStateMessage(b.deviceID, state))
	if err != nil {
		b.logError("failed to marshal state", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(b.deviceID), payload, b.qos, true); err != nil {
		b.logWarn("failed to publish state", "error", err)
	}
}

func (b *Bridge) publishHealth() {
	if err := b.health.PublishNow(); err != nil {
		b.logWarn("failed to publish health", "error", err)
	}
}

// handleCommandMessage parses a command and runs it asynchronously.
func (b *Bridge) handleCommandMessage(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(CommandMessage{ID: uuid.NewString()}, &AckError{
			Code:    ErrCodeInvalidCommand,
			Message: fmt.Sprintf("malformed command: %v", err),
		})
		return fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.cmdMu.Lock()
	if b.stopped {
		b.cmdMu.Unlock()
		b.publishAck(cmd, &AckError{Code: ErrCodeBridgeError, Message: "bridge stopping"})
		return nil
	}
	b.wg.Add(1)
	b.cmdMu.Unlock()

	b.logInfo("received command", "command_id", cmd.ID, "command", cmd.Command)

	go func() {
		defer b.wg.Done()
		b.publishAck(cmd, b.execute(cmd))
	}()
	return nil
}

// execute runs one command against the controller and returns the ack
// error, nil on success.
func (b *Bridge) execute(cmd CommandMessage) *AckError {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CommandOn:
		err = b.stove.TurnOn(ctx)
	case CommandOff:
		err = b.stove.TurnOff(ctx)
	case CommandReset:
		err = b.stove.ResetError(ctx)
	case CommandRefresh:
		_, err = b.stove.PollNow(ctx)
	case CommandCronoEnable:
		err = b.stove.EnableCrono(ctx)
	case CommandCronoDisable:
		err = b.stove.DisableCrono(ctx)
	case CommandSetParameter:
		id, perr := parameterID(cmd.Parameters["id"])
		if perr != nil {
			return &AckError{Code: ErrCodeInvalidParameters, Message: perr.Error()}
		}
		value, perr := numberParam(cmd.Parameters, "value")
		if perr != nil {
			return &AckError{Code: ErrCodeInvalidParameters, Message: perr.Error()}
		}
		err = b.stove.WriteParameter(ctx, id, int(value))
	case CommandSetTemperature:
		value, perr := numberParam(cmd.Parameters, "value")
		if perr != nil {
			return &AckError{Code: ErrCodeInvalidParameters, Message: perr.Error()}
		}
		err = b.stove.SetTargetTemperature(ctx, value)
	default:
		return &AckError{Code: ErrCodeInvalidCommand, Message: fmt.Sprintf("unknown command: %s", cmd.Command)}
	}

	if err != nil {
		b.logWarn("command failed", "command_id", cmd.ID, "command", cmd.Command, "error", err)
		return &AckError{Code: errorCode(err), Message: err.Error()}
	}
	return nil
}

// errorCode maps controller errors to ack codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, controller.ErrParameterNotFound):
		return ErrCodeParameterNotFound
	case errors.Is(err, controller.ErrStillBlocked):
		return ErrCodeStillBlocked
	case errors.Is(err, controller.ErrScheduleUnavailable):
		return ErrCodeScheduleUnavailable
	case errors.Is(err, controller.ErrDeviceUnavailable):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, ackErr *AckError) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  b.deviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Error:     ackErr,
	}
	if ackErr != nil {
		ack.Status = AckFailed
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(b.deviceID), payload, b.qos, false); err != nil {
		b.logWarn("failed to publish ack", "command_id", cmd.ID, "error", err)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
