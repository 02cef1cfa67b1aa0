package device

import (
	"context"
	"errors"
	"time"
)

// History sources.
const (
	SourcePoll   = "poll"
	SourceAction = "action"
)

// ErrDeviceIDRequired is returned when a history call carries no device id.
var ErrDeviceIDRequired = errors.New("device: device id is required")

// HistoryEntry is one recorded stove state change.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Stato      int       `json:"stato"`
	StatoLabel string    `json:"stato_label"`
	Errore     int       `json:"errore"`
	TempPrinc  float64   `json:"temp_princ"`
	TempSec    float64   `json:"temp_sec"`
	StatoCrono int       `json:"stato_crono"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves stove state changes.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type HistoryRepository interface {
	// Record inserts one entry. ID and StatoLabel are ignored; a zero
	// CreatedAt means now.
	Record(ctx context.Context, entry HistoryEntry) error

	// List returns the newest entries for a device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Stove identifier
	//   - limit: Maximum entries (default 50, clamped to 500)
	//
	// Returns:
	//   - []HistoryEntry: Entries ordered newest first (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	List(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than the retention window and returns
	// the number removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
