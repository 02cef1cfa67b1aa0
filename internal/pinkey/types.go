package pinkey

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Well-known parameter ids.
const (
	ParamOnOff        uint16 = 0x0180
	ParamTempSetpoint uint16 = 0x00c7
	ParamMode         uint16 = 0x017d
)

// Operating mode codes reported in the main values record (stato).
const (
	StatoOff           = 0
	StatoIgnition1     = 1
	StatoIgnition2     = 2
	StatoStabilization = 3
	StatoPower         = 4
	StatoRunning       = 5
	StatoShutdown      = 6
	StatoStandby       = 7
	StatoCooling       = 8
	StatoBlocked       = 9
)

var statoLabels = map[int]string{
	StatoOff:           "Off",
	StatoIgnition1:     "Ignition 1",
	StatoIgnition2:     "Ignition 2",
	StatoStabilization: "Stabilization",
	StatoPower:         "Power",
	StatoRunning:       "Running",
	StatoShutdown:      "Shutdown",
	StatoStandby:       "Standby",
	StatoCooling:       "Cooling",
	StatoBlocked:       "Error/Blocked",
}

// StatoLabel returns the human label for an operating mode code.
// Unknown codes are rendered as their decimal value.
func StatoLabel(stato int) string {
	if label, ok := statoLabels[stato]; ok {
		return label
	}
	return fmt.Sprintf("%d", stato)
}

// Crono periodo codes.
const (
	PeriodoOff     = 0
	PeriodoDaily   = 1
	PeriodoWeekly  = 2
	PeriodoWeekend = 3
)

// defaultStatoCrono is reported when a status reply carries no state info record.
const defaultStatoCrono = 0x23

// DeviceState is a point-in-time snapshot of the stove.
//
// Temperatures are already scaled by PosPunto. A snapshot is never mutated
// after ReadStatus returns it; use Clone before handing it to code that might.
type DeviceState struct {
	Stato      int                       `json:"stato"`
	Errore     int                       `json:"errore"`
	TempPrinc  float64                   `json:"temp_princ"`
	TempSec    float64                   `json:"temp_sec"`
	PosPunto   int                       `json:"pos_punto"`
	StatoCrono int                       `json:"stato_crono"`
	Parameters map[uint16]ParameterValue `json:"parameters"`
	Sensors    map[uint16]SensorValue    `json:"sensors"`
	LastUpdate time.Time                 `json:"last_update"`
}

// StatoLabel returns the label of the snapshot's operating mode.
func (s *DeviceState) StatoLabel() string {
	return StatoLabel(s.Stato)
}

// IsBlocked reports whether the stove is in its safety lockout state.
func (s *DeviceState) IsBlocked() bool {
	return s.Stato == StatoBlocked
}

// ParameterIDs returns the snapshot's parameter ids in ascending order.
func (s *DeviceState) ParameterIDs() []uint16 {
	return slices.Sorted(maps.Keys(s.Parameters))
}

// SensorIDs returns the snapshot's sensor ids in ascending order.
func (s *DeviceState) SensorIDs() []uint16 {
	return slices.Sorted(maps.Keys(s.Sensors))
}

// Clone returns a deep copy of the snapshot.
func (s *DeviceState) Clone() *DeviceState {
	if s == nil {
		return nil
	}
	out := *s
	out.Parameters = make(map[uint16]ParameterValue, len(s.Parameters))
	for id, p := range s.Parameters {
		out.Parameters[id] = p
	}
	out.Sensors = make(map[uint16]SensorValue, len(s.Sensors))
	for id, v := range s.Sensors {
		out.Sensors[id] = v
	}
	return &out
}

// ParameterValue is one writable device parameter.
//
// OriginalHex is the full record the value was read from. Writes echo its
// type and id bytes back to the device.
type ParameterValue struct {
	ID          uint16  `json:"id"`
	Valore      int     `json:"valore"`
	Min         int     `json:"min"`
	Max         int     `json:"max"`
	ReadOnly    bool    `json:"read_only"`
	PosPunto    int     `json:"pos_punto"`
	OriginalHex string  `json:"original_hex"`
	Value       float64 `json:"value"`
	MinValue    float64 `json:"min_value"`
	MaxValue    float64 `json:"max_value"`
}

// SensorValue is one read-only sensor. Values are raw; scale with the
// snapshot's PosPunto.
type SensorValue struct {
	ID     uint16 `json:"id"`
	Valore int    `json:"valore"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
}

// DiscoveredDevice is the identity returned by a CF4 discovery reply.
type DiscoveredDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// CronoSchedule is the weekly on/off programme: always 7 days of 3 slots.
type CronoSchedule struct {
	Periodo     int                 `json:"periodo"`
	Days        [7]CronoDaySchedule `json:"days"`
	RawResponse string              `json:"raw_response,omitempty"`
}

// CronoDaySchedule holds the three slots of one weekday (1 = Monday).
type CronoDaySchedule struct {
	DayNumber int              `json:"day_number"`
	Slots     [3]CronoTimeSlot `json:"slots"`
}

// CronoTimeSlot is one on/off window in "HH:MM" form.
type CronoTimeSlot struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}
