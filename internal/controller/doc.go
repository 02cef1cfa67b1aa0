// Package controller keeps a continuously refreshed snapshot of the stove.
//
// The Controller polls the device on a fixed interval and holds the last
// good DeviceState. Failed reads leave that snapshot in place and arm a
// single backoff retry (5s, 10s, 30s, then 60s for every further failure).
// After three consecutive failures the regular interval is suspended so an
// unreachable device only sees the backoff retries; the first successful
// read restores the interval.
//
// Action methods (WriteParameter, TurnOn, TurnOff, ResetError, schedule
// writes) go through the same device queue as polls and, when the device
// accepts them, trigger one immediate refresh so consumers see the result
// without waiting for the next tick.
//
// Consumers register with OnPoll to receive every poll outcome. Handlers
// run on the polling goroutine and must not block.
//
// # Example
//
//	ctrl := controller.New(controller.Options{
//	    Device:   client,
//	    Interval: 30 * time.Second,
//	    Logger:   log,
//	})
//	ctrl.OnPoll(func(r controller.PollResult) { ... })
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
package controller
