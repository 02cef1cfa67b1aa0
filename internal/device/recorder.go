package device

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// Logger is the subset of the structured logger the recorder uses.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// snapshotKey holds the fields whose change produces a history row.
type snapshotKey struct {
	stato      int
	errore     int
	tempPrinc  float64
	tempSec    float64
	statoCrono int
}

func keyOf(s *pinkey.DeviceState) snapshotKey {
	return snapshotKey{
		stato:      s.Stato,
		errore:     s.Errore,
		tempPrinc:  s.TempPrinc,
		tempSec:    s.TempSec,
		statoCrono: s.StatoCrono,
	}
}

// Recorder writes a history row whenever an observed snapshot differs from
// the previous one it wrote.
//
// Thread Safety:
//   - Observe may be called from the poll loop and API handlers concurrently.
type Recorder struct {
	repo     HistoryRepository
	deviceID string

	mu   sync.Mutex
	last *snapshotKey

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRecorder creates a Recorder for one stove.
func NewRecorder(repo HistoryRepository, deviceID string) *Recorder {
	return &Recorder{repo: repo, deviceID: deviceID}
}

// SetLogger sets the logger. Nil disables logging.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

// Observe records state if it changed since the last recorded snapshot.
//
// Parameters:
//   - ctx: Context for the insert
//   - state: Snapshot from a successful poll (nil is ignored)
//   - source: SourcePoll or SourceAction
//
// Returns:
//   - bool: true if a row was written
//   - error: The insert error; the snapshot stays unrecorded so the next
//     observation retries it
func (r *Recorder) Observe(ctx context.Context, state *pinkey.DeviceState, source string) (bool, error) {
	if state == nil {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(state)
	if r.last != nil && *r.last == key {
		return false, nil
	}

	createdAt := state.LastUpdate
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := r.repo.Record(ctx, HistoryEntry{
		DeviceID:   r.deviceID,
		Stato:      state.Stato,
		Errore:     state.Errore,
		TempPrinc:  state.TempPrinc,
		TempSec:    state.TempSec,
		StatoCrono: state.StatoCrono,
		Source:     source,
		CreatedAt:  createdAt,
	})
	if err != nil {
		r.logWarn("state history insert failed", "error", err)
		return false, err
	}

	r.last = &key
	r.logDebug("state change recorded", "stato", state.Stato, "errore", state.Errore, "source", source)
	return true, nil
}

// History returns recent entries for the recorder's stove.
func (r *Recorder) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	return r.repo.List(ctx, r.deviceID, limit)
}

// PruneLoop deletes entries older than retention once immediately and then
// every interval, until ctx is cancelled. It always returns nil so it can
// run inside an errgroup.
func (r *Recorder) PruneLoop(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 || interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.prune(ctx, retention)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Recorder) prune(ctx context.Context, retention time.Duration) {
	n, err := r.repo.Prune(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			r.logWarn("state history prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logInfo("state history pruned", "rows", n, "retention", retention.String())
	}
}

func (r *Recorder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Recorder) logDebug(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}
