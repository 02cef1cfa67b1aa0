package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries []HistoryEntry
	failing bool
	pruned  int
}

func (m *memoryRepo) Record(_ context.Context, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryRepo) List(_ context.Context, deviceID string, _ int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepo) Prune(_ context.Context, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned++
	return 0, nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryRepo) pruneCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruned
}

func snapshot(stato int, temp float64) *pinkey.DeviceState {
	return &pinkey.DeviceState{
		Stato:      stato,
		TempPrinc:  temp,
		TempSec:    21,
		StatoCrono: 0x23,
		Parameters: map[uint16]pinkey.ParameterValue{},
		Sensors:    map[uint16]pinkey.SensorValue{},
		LastUpdate: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRecorder_ObserveOnlyOnChange(t *testing.T) {
	repo := &memoryRepo{}
	rec := NewRecorder(repo, "stove")
	ctx := context.Background()

	steps := []struct {
		name  string
		state *pinkey.DeviceState
		want  bool
	}{
		{"first snapshot", snapshot(pinkey.StatoOff, 20), true},
		{"identical snapshot", snapshot(pinkey.StatoOff, 20), false},
		{"temperature change", snapshot(pinkey.StatoOff, 20.5), true},
		{"mode change", snapshot(pinkey.StatoIgnition1, 20.5), true},
		{"nil snapshot", nil, false},
	}

	for _, step := range steps {
		got, err := rec.Observe(ctx, step.state, SourcePoll)
		if err != nil {
			t.Fatalf("%s: Observe() error = %v", step.name, err)
		}
		if got != step.want {
			t.Errorf("%s: Observe() = %v, want %v", step.name, got, step.want)
		}
	}

	if repo.count() != 3 {
		t.Errorf("rows = %d, want 3", repo.count())
	}

	history, err := rec.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if history[0].DeviceID != "stove" || history[0].StatoCrono != 0x23 {
		t.Errorf("history[0] = %+v", history[0])
	}
	if !history[0].CreatedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v, want snapshot LastUpdate", history[0].CreatedAt)
	}
}

func TestRecorder_ParametersDoNotTriggerRow(t *testing.T) {
	repo := &memoryRepo{}
	rec := NewRecorder(repo, "stove")
	ctx := context.Background()

	first := snapshot(pinkey.StatoRunning, 60)
	second := snapshot(pinkey.StatoRunning, 60)
	second.Parameters[pinkey.ParamTempSetpoint] = pinkey.ParameterValue{ID: pinkey.ParamTempSetpoint, Valore: 55}

	if _, err := rec.Observe(ctx, first, SourcePoll); err != nil {
		t.Fatal(err)
	}
	if got, _ := rec.Observe(ctx, second, SourcePoll); got {
		t.Error("parameter-only change produced a history row")
	}
}

func TestRecorder_FailedInsertRetriesNextTime(t *testing.T) {
	repo := &memoryRepo{failing: true}
	rec := NewRecorder(repo, "stove")
	ctx := context.Background()

	if _, err := rec.Observe(ctx, snapshot(pinkey.StatoOff, 20), SourcePoll); err == nil {
		t.Fatal("Observe() error = nil, want insert failure")
	}

	repo.mu.Lock()
	repo.failing = false
	repo.mu.Unlock()

	got, err := rec.Observe(ctx, snapshot(pinkey.StatoOff, 20), SourcePoll)
	if err != nil || !got {
		t.Errorf("Observe() after recovery = %v, %v, want true", got, err)
	}
}

func TestRecorder_PruneLoop(t *testing.T) {
	repo := &memoryRepo{}
	rec := NewRecorder(repo, "stove")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.PruneLoop(ctx, time.Hour, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.pruneCalls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("PruneLoop() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PruneLoop did not stop after cancel")
	}
	if repo.pruneCalls() < 3 {
		t.Errorf("prune calls = %d, want at least 3", repo.pruneCalls())
	}
}

func TestRecorder_PruneLoopDisabled(t *testing.T) {
	rec := NewRecorder(&memoryRepo{}, "stove")
	if err := rec.PruneLoop(context.Background(), 0, time.Second); err != nil {
		t.Errorf("PruneLoop() = %v", err)
	}
}
