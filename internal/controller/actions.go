package controller

import (
	"context"
	"fmt"
	"math"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// WriteParameter writes a raw value to a parameter from the last snapshot.
//
// The parameter must be present in the cached state because the write is
// addressed with the record it was read from. On success the state is
// refreshed before returning.
//
// Parameters:
//   - ctx: Bounds the write and the refresh
//   - id: Parameter id (e.g. pinkey.ParamTempSetpoint)
//   - value: Raw device value, not scaled by PosPunto
//
// Returns:
//   - error: ErrParameterNotFound or ErrDeviceUnavailable
func (c *Controller) WriteParameter(ctx context.Context, id uint16, value int) error {
	param, ok := c.parameter(id)
	if !ok {
		c.logWarn("parameter not found in device state", "param", fmt.Sprintf("0x%04x", id))
		return fmt.Errorf("parameter 0x%04x: %w", id, ErrParameterNotFound)
	}

	if !c.device.WriteParameter(ctx, param.OriginalHex, value) {
		return fmt.Errorf("write parameter 0x%04x: %w", id, ErrDeviceUnavailable)
	}

	c.logInfo("parameter written", "param", fmt.Sprintf("0x%04x", id), "value", value)
	c.refresh(ctx)
	return nil
}

// SetTargetTemperature writes the thermostat setpoint.
//
// The value is clamped to the configured range and scaled by the
// setpoint parameter's decimal position.
func (c *Controller) SetTargetTemperature(ctx context.Context, celsius float64) error {
	param, ok := c.parameter(pinkey.ParamTempSetpoint)
	if !ok {
		c.logWarn("parameter not found in device state", "param", fmt.Sprintf("0x%04x", pinkey.ParamTempSetpoint))
		return fmt.Errorf("setpoint: %w", ErrParameterNotFound)
	}

	clamped := math.Min(math.Max(celsius, c.minTemp), c.maxTemp)
	raw := int(math.Round(clamped * math.Pow10(max(param.PosPunto, 0))))

	c.logInfo("setting target temperature", "celsius", clamped, "raw", raw)
	return c.WriteParameter(ctx, pinkey.ParamTempSetpoint, raw)
}

// TurnOn starts the stove.
//
// A blocked stove is reset and re-read first; if it is still blocked the
// on command is not sent and ErrStillBlocked is returned.
func (c *Controller) TurnOn(ctx context.Context) error {
	if state := c.State(); state != nil && state.IsBlocked() {
		c.logInfo("stove is blocked, resetting error before turning on")
		c.device.ResetError(ctx)
		c.refresh(ctx)

		if state := c.State(); state != nil && state.IsBlocked() {
			c.logWarn("error reset failed, stove still blocked")
			return ErrStillBlocked
		}
		c.logInfo("error reset successful, turning on")
	}

	return c.simpleAction(ctx, "turn on", c.device.TurnOn)
}

// TurnOff stops the stove.
func (c *Controller) TurnOff(ctx context.Context) error {
	return c.simpleAction(ctx, "turn off", c.device.TurnOff)
}

// ResetError clears an error lockout.
func (c *Controller) ResetError(ctx context.Context) error {
	return c.simpleAction(ctx, "reset error", c.device.ResetError)
}

// ReadSchedule reads the weekly programme.
func (c *Controller) ReadSchedule(ctx context.Context) (*pinkey.CronoSchedule, error) {
	schedule, ok := c.device.ReadSchedule(ctx)
	if !ok {
		return nil, ErrScheduleUnavailable
	}
	return schedule, nil
}

// WriteSchedule writes schedule with its own periodo.
func (c *Controller) WriteSchedule(ctx context.Context, schedule *pinkey.CronoSchedule) error {
	return c.writeSchedule(ctx, "write schedule", pinkey.BuildCCSFromSchedule(schedule, schedule.Periodo))
}

// EnableCrono activates the weekly programme.
//
// The stored programme is rewritten with its own periodo; a programme whose
// periodo is off is enabled as weekly.
func (c *Controller) EnableCrono(ctx context.Context) error {
	schedule, err := c.ReadSchedule(ctx)
	if err != nil {
		return err
	}

	cmd := pinkey.BuildCCSEnableCommand(schedule)
	if schedule.Periodo == pinkey.PeriodoOff {
		cmd = pinkey.BuildCCSFromSchedule(schedule, pinkey.PeriodoWeekly)
	}
	return c.writeSchedule(ctx, "enable crono", cmd)
}

// DisableCrono deactivates the weekly programme, keeping its slots.
func (c *Controller) DisableCrono(ctx context.Context) error {
	schedule, err := c.ReadSchedule(ctx)
	if err != nil {
		return err
	}
	return c.writeSchedule(ctx, "disable crono", pinkey.BuildCCSDisableCommand(schedule))
}

func (c *Controller) writeSchedule(ctx context.Context, name, cmd string) error {
	return c.simpleAction(ctx, name, func(ctx context.Context) bool {
		return c.device.WriteSchedule(ctx, cmd)
	})
}

// simpleAction runs a device command and refreshes on success.
func (c *Controller) simpleAction(ctx context.Context, name string, action func(context.Context) bool) error {
	if !action(ctx) {
		c.logWarn("action failed", "action", name)
		return fmt.Errorf("%s: %w", name, ErrDeviceUnavailable)
	}
	c.logInfo("action sent", "action", name)
	c.refresh(ctx)
	return nil
}

// refresh polls once so consumers see the effect of an action.
func (c *Controller) refresh(ctx context.Context) {
	c.PollNow(ctx) //nolint:errcheck // A failed refresh is handled like any failed poll
}

func (c *Controller) parameter(id uint16) (pinkey.ParameterValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return pinkey.ParameterValue{}, false
	}
	p, ok := c.state.Parameters[id]
	return p, ok
}
