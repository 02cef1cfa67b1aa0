package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/device"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/config"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/logging"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeStove implements Stove for handler tests.
type fakeStove struct {
	mu       sync.Mutex
	state    *pinkey.DeviceState
	failures int
	err      error
	calls    []string
	schedule *pinkey.CronoSchedule
}

func (f *fakeStove) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeStove) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStove) State() *pinkey.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeStove) ConsecutiveFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}
func (f *fakeStove) Suspended() bool { return f.ConsecutiveFailures() >= 3 }
func (f *fakeStove) LastPoll() time.Time {
	if s := f.State(); s != nil {
		return s.LastUpdate
	}
	return time.Time{}
}
func (f *fakeStove) PollNow(context.Context) (*pinkey.DeviceState, error) {
	return f.State(), f.record("refresh")
}
func (f *fakeStove) TurnOn(context.Context) error     { return f.record("on") }
func (f *fakeStove) TurnOff(context.Context) error    { return f.record("off") }
func (f *fakeStove) ResetError(context.Context) error { return f.record("reset") }
func (f *fakeStove) WriteParameter(_ context.Context, id uint16, value int) error {
	return f.record(fmt.Sprintf("param:%04x=%d", id, value))
}
func (f *fakeStove) SetTargetTemperature(_ context.Context, celsius float64) error {
	return f.record(fmt.Sprintf("temp:%g", celsius))
}
func (f *fakeStove) ReadSchedule(context.Context) (*pinkey.CronoSchedule, error) {
	if err := f.record("read_schedule"); err != nil {
		return nil, err
	}
	return f.schedule, nil
}
func (f *fakeStove) EnableCrono(context.Context) error  { return f.record("crono_enable") }
func (f *fakeStove) DisableCrono(context.Context) error { return f.record("crono_disable") }

// fakeHistory implements HistoryReader.
type fakeHistory struct {
	entries   []device.HistoryEntry
	err       error
	lastLimit int
}

func (f *fakeHistory) History(_ context.Context, limit int) ([]device.HistoryEntry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]device.HistoryEntry(nil), f.entries...), nil
}

type fakeMQTT struct{ connected bool }

func (f fakeMQTT) IsConnected() bool { return f.connected }

func testState() *pinkey.DeviceState {
	return &pinkey.DeviceState{
		Stato:     pinkey.StatoRunning,
		TempPrinc: 62.5,
		TempSec:   21,
		PosPunto:  1,
		Parameters: map[uint16]pinkey.ParameterValue{
			pinkey.ParamOnOff:        {ID: pinkey.ParamOnOff, Valore: 1, Value: 1, Max: 1, MaxValue: 1},
			pinkey.ParamTempSetpoint: {ID: pinkey.ParamTempSetpoint, Valore: 55, Value: 55, Min: 30, Max: 75, MinValue: 30, MaxValue: 75},
		},
		Sensors: map[uint16]pinkey.SensorValue{
			0x0203: {ID: 0x0203, Valore: 215},
		},
		LastUpdate: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// newTestServer builds a server with metrics enabled and no auth.
func newTestServer(t *testing.T, stove *fakeStove, mutate ...func(*Deps)) *Server {
	t.Helper()
	deps := Deps{
		WS:       config.Default().WebSocket,
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:   testLogger(),
		DeviceID: "stove",
		Stove:    stove,
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Stove: &fakeStove{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without stove should fail")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		mqtt       ConnectionStatus
		wantStatus string
		wantMQTT   *bool
	}{
		{"ok without mqtt", 0, nil, "ok", nil},
		{"ok with mqtt", 0, fakeMQTT{connected: true}, "ok", new(bool)},
		{"degraded", 2, nil, "degraded", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stove := &fakeStove{state: testState(), failures: tt.failures}
			s := newTestServer(t, stove, func(d *Deps) {
				d.MQTT = tt.mqtt
				d.HostFunc = func() string { return "10.0.0.5" }
			})

			rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			resp := decodeBody[healthResponse](t, rec)
			if resp.Status != tt.wantStatus || resp.Version != "test" {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Device.ID != "stove" || resp.Device.Host != "10.0.0.5" || resp.Device.ConsecutiveFailures != tt.failures {
				t.Errorf("device = %+v", resp.Device)
			}
			if resp.Device.LastPoll == nil {
				t.Error("LastPoll missing")
			}
			if (resp.MQTTConnected == nil) != (tt.wantMQTT == nil) {
				t.Errorf("MQTTConnected = %v", resp.MQTTConnected)
			}
			if resp.MQTTConnected != nil && !*resp.MQTTConnected {
				t.Error("MQTTConnected = false, want true")
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeStove{})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/health", "")
	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/health", "", "X-Request-ID", "abc-123")
	if id := rec.Header().Get("X-Request-ID"); id != "abc-123" {
		t.Errorf("echoed X-Request-ID = %q", id)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeStove{}, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	rec := doRequest(t, s.Handler(), http.MethodOptions, "/api/v1/stove/on", "", "Origin", "http://panel.local")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	stove := &fakeStove{}
	s := newTestServer(t, stove)

	s.ObservePoll(controller.PollResult{State: testState(), Duration: 400 * time.Millisecond})
	s.ObservePoll(controller.PollResult{Failures: 1, RetryIn: 5 * time.Second, Duration: time.Second})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`fourheat_stove_stato{device_id="stove"} 5`,
		`fourheat_stove_temperature_celsius{device_id="stove",probe="principal"} 62.5`,
		`fourheat_stove_setpoint_celsius{device_id="stove"} 55`,
		`fourheat_stove_sensor_value{device_id="stove",sensor_id="0203"} 21.5`,
		`fourheat_poll_total{device_id="stove",result="ok"} 1`,
		`fourheat_poll_total{device_id="stove",result="error"} 1`,
		`fourheat_poll_consecutive_failures{device_id="stove"} 1`,
		`fourheat_poll_duration_seconds_count{device_id="stove"} 2`,
		`fourheat_websocket_clients 0`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, &fakeStove{}, func(d *Deps) {
		d.Metrics.Enabled = false
	})
	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStartClose(t *testing.T) {
	s := newTestServer(t, &fakeStove{}, func(d *Deps) {
		d.Config = config.APIConfig{Host: "127.0.0.1", Port: 0}
	})

	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
