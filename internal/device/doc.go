// Package device keeps the local audit trail of stove state changes.
//
// Every successful poll is offered to a Recorder. A row is written to the
// SQLite state_history table only when the operating mode, error code,
// crono state or one of the two temperatures differs from the last row
// written, so a stove idling for hours produces one row, not thousands.
//
// History is never read back into the poll controller. After a restart the
// controller starts with an empty snapshot and the first poll fills it.
//
// # Usage
//
//	repo := device.NewSQLiteHistoryRepository(db.DB)
//	recorder := device.NewRecorder(repo, cfg.Device.ID)
//	ctrl.OnPoll(func(r controller.PollResult) {
//	    if r.State != nil {
//	        recorder.Observe(ctx, r.State, device.SourcePoll)
//	    }
//	})
//	go recorder.PruneLoop(ctx, cfg.GetHistoryRetention(), time.Hour)
package device
