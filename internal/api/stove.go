package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// actionTimeout bounds one device action including its refresh poll.
const actionTimeout = 30 * time.Second

// EventStateChanged is the WebSocket channel carrying new snapshots.
const EventStateChanged = "stove.state_changed"

// stoveResponse is the body of GET /api/v1/stove and of every action reply.
type stoveResponse struct {
	DeviceID            string              `json:"device_id"`
	StatoLabel          string              `json:"stato_label"`
	Blocked             bool                `json:"blocked"`
	Stale               bool                `json:"stale"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	State               *pinkey.DeviceState `json:"state"`
}

// parameterView is one parameter with its id rendered as four hex digits.
type parameterView struct {
	ID       string  `json:"id"`
	Valore   int     `json:"valore"`
	Value    float64 `json:"value"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
	MinValue float64 `json:"min_value"`
	MaxValue float64 `json:"max_value"`
	PosPunto int     `json:"pos_punto"`
}

// writeParameterRequest is the body of PUT /stove/parameters/{id}.
// Value is raw, not scaled by the parameter's decimal position.
type writeParameterRequest struct {
	Value *int `json:"value"`
}

// temperatureRequest is the body of PUT /stove/temperature.
type temperatureRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) stoveView(state *pinkey.DeviceState) stoveResponse {
	failures := s.stove.ConsecutiveFailures()
	return stoveResponse{
		DeviceID:            s.deviceID,
		StatoLabel:          state.StatoLabel(),
		Blocked:             state.IsBlocked(),
		Stale:               failures > 0,
		ConsecutiveFailures: failures,
		State:               state,
	}
}

// writeState replies with the current snapshot, or 503 before the first
// successful poll.
func (s *Server) writeState(w http.ResponseWriter, status int) {
	state := s.stove.State()
	if state == nil {
		writeServiceUnavailable(w, "no successful poll yet")
		return
	}
	writeJSON(w, status, s.stoveView(state))
}

func (s *Server) handleGetStove(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleListParameters(w http.ResponseWriter, _ *http.Request) {
	state := s.stove.State()
	if state == nil {
		writeServiceUnavailable(w, "no successful poll yet")
		return
	}

	params := make([]parameterView, 0, len(state.Parameters))
	for _, id := range state.ParameterIDs() {
		p := state.Parameters[id]
		params = append(params, parameterView{
			ID:       fmt.Sprintf("%04x", id),
			Valore:   p.Valore,
			Value:    p.Value,
			Min:      p.Min,
			Max:      p.Max,
			MinValue: p.MinValue,
			MaxValue: p.MaxValue,
			PosPunto: p.PosPunto,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  s.deviceID,
		"parameters": params,
		"count":      len(params),
	})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	schedule, err := s.stove.ReadSchedule(ctx)
	if err != nil {
		writeStoveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// runAction executes a device action and replies with the refreshed state.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, name string, action func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	if err := action(ctx); err != nil {
		s.logger.Warn("stove action failed",
			"action", name,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeStoveError(w, err)
		return
	}
	s.logger.Info("stove action", "action", name, "subject", r.Context().Value(ctxKeySubject))
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "on", s.stove.TurnOn)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "off", s.stove.TurnOff)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "reset", s.stove.ResetError)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "refresh", func(ctx context.Context) error {
		_, err := s.stove.PollNow(ctx)
		return err
	})
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "crono_enable", s.stove.EnableCrono)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "crono_disable", s.stove.DisableCrono)
}

func (s *Server) handleWriteParameter(w http.ResponseWriter, r *http.Request) {
	id, err := parseParameterID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req writeParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	s.runAction(w, r, "set_parameter", func(ctx context.Context) error {
		return s.stove.WriteParameter(ctx, id, *req.Value)
	})
}

func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	var req temperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	s.runAction(w, r, "set_temperature", func(ctx context.Context) error {
		return s.stove.SetTargetTemperature(ctx, *req.Value)
	})
}

// parseParameterID accepts "00c7", "0x00C7" or "c7".
func parseParameterID(raw string) (uint16, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if s == "" {
		return 0, fmt.Errorf("parameter id is required")
	}
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parameter id %q is not a 16-bit hex value", raw)
	}
	return uint16(n), nil
}
