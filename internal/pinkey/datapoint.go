package pinkey

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Record type codes (first byte of a hex record).
const (
	recordMainValues   = 0x10
	recordState        = 0x0c
	recordParameter    = 0x0e
	recordSensor       = 0x12
	recordThermostat   = 0x01
	recordThermostatV2 = 0x22
	recordPower        = 0x06
	recordCronoEnable  = 0x08
)

// minRecordLength is the shortest hex record that carries a type and a sub byte.
const minRecordLength = 4

// RecordKind names a decoded datapoint variant.
type RecordKind string

// Datapoint kinds.
const (
	KindMainValues   RecordKind = "main_values"
	KindStateInfo    RecordKind = "state_info"
	KindStateText    RecordKind = "state_text"
	KindParameter    RecordKind = "parameter"
	KindSensor       RecordKind = "sensor"
	KindThermostat   RecordKind = "thermostat"
	KindThermostatV2 RecordKind = "thermostat_v2"
	KindPower        RecordKind = "power"
	KindCronoEnable  RecordKind = "crono_enable"
	KindUnknown      RecordKind = "unknown"
)

// Datapoint is one decoded status record.
type Datapoint interface {
	Kind() RecordKind
}

// MainValues carries mode, error and raw temperatures.
type MainValues struct {
	TempSec   int
	Stato     int
	Errore    int
	TempPrinc int
	PosPunto  int
}

// StateInfo carries the schedule state and installation settings.
// Termostato and PosPunto are nil when the record is too short to hold them.
type StateInfo struct {
	StatoCrono int
	Potenza    string
	Lingua     int
	Ricetta    int
	RS485Addr  int
	Termostato *int
	PosPunto   *int
}

// StateText is a free text record (sub codes 0x00, 0x01, 0x80).
type StateText struct {
	ID   int
	Text string
}

// ParameterRecord is a device parameter with its limits.
type ParameterRecord struct {
	ID       uint16
	Valore   int
	Min      int
	Max      int
	ReadOnly bool
	PosPunto int
}

// SensorRecord is a sensor reading with its limits.
type SensorRecord struct {
	ID       uint16
	Valore   int
	Min      int
	Max      int
	ReadOnly bool
}

// ThermostatRecord is the legacy one-byte thermostat layout.
type ThermostatRecord struct {
	ID           int
	Abilitazione int
	Status       int
	Valore       int
	Min          int
	Max          int
	Temperatura  int
}

// ThermostatV2Record is the signed 16-bit thermostat layout.
type ThermostatV2Record struct {
	ID          int
	Valore      int
	Min         int
	Max         int
	Temperatura int
	PosPunto    int
}

// PowerRecord is a power level setting.
type PowerRecord struct {
	ID     int
	Valore int
	Min    int
	Max    int
}

// CronoEnableRecord reports whether the weekly schedule is active.
type CronoEnableRecord struct {
	ID       int
	Stato    int
	Modalita int
}

// UnknownRecord preserves a record that could not be decoded.
type UnknownRecord struct {
	Raw string
}

func (MainValues) Kind() RecordKind         { return KindMainValues }
func (StateInfo) Kind() RecordKind          { return KindStateInfo }
func (StateText) Kind() RecordKind          { return KindStateText }
func (ParameterRecord) Kind() RecordKind    { return KindParameter }
func (SensorRecord) Kind() RecordKind       { return KindSensor }
func (ThermostatRecord) Kind() RecordKind   { return KindThermostat }
func (ThermostatV2Record) Kind() RecordKind { return KindThermostatV2 }
func (PowerRecord) Kind() RecordKind        { return KindPower }
func (CronoEnableRecord) Kind() RecordKind  { return KindCronoEnable }
func (UnknownRecord) Kind() RecordKind      { return KindUnknown }

// Signed16 reinterprets a 16-bit unsigned wire value as two's complement.
func Signed16(v int) int {
	if v > math.MaxInt16 {
		return v - 65536
	}
	return v
}

// ApplyPosPunto scales a raw value by 10^-posPunto.
// A zero or negative posPunto leaves the value unscaled.
func ApplyPosPunto(raw int, posPunto int) float64 {
	if posPunto <= 0 {
		return float64(raw)
	}
	return float64(raw) / math.Pow10(posPunto)
}

var errShortRecord = errors.New("record too short")

// hexReader reads big-endian fields at hex-character offsets. The first
// failure sticks so a decoder can read every field and check once.
type hexReader struct {
	h   string
	err error
}

func (r *hexReader) uint(start, end int) int {
	if r.err != nil {
		return 0
	}
	if start < 0 || start >= end || end > len(r.h) {
		r.err = errShortRecord
		return 0
	}
	v, err := strconv.ParseUint(r.h[start:end], 16, 32)
	if err != nil {
		r.err = err
		return 0
	}
	return int(v)
}

func (r *hexReader) int16(start, end int) int {
	return Signed16(r.uint(start, end))
}

// optional reads a trailing field only when the record is longer than
// minLen. A field cut short by the end of the record is read from the digits
// that are present, and never invalidates the mandatory fields.
func (r *hexReader) optional(minLen, start, end int) int {
	if r.err != nil || len(r.h) <= minLen {
		return 0
	}
	end = min(end, len(r.h))
	v, err := strconv.ParseUint(r.h[start:end], 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

// ParseHexDatapoint decodes one hex record of a status reply.
//
// It never panics and never fails: short, unrecognised or corrupt records
// decode to UnknownRecord with the input preserved, so one bad record does
// not spoil the rest of a reply.
func ParseHexDatapoint(h string) Datapoint {
	if len(h) < minRecordLength {
		return UnknownRecord{Raw: h}
	}

	r := &hexReader{h: h}
	dp := decode(r)
	if r.err != nil || dp == nil {
		return UnknownRecord{Raw: h}
	}
	return dp
}

func decode(r *hexReader) Datapoint {
	switch r.uint(0, 2) {
	case recordMainValues:
		return MainValues{
			TempSec:   r.int16(6, 10),
			Stato:     r.uint(10, 12),
			Errore:    r.uint(12, 14),
			TempPrinc: r.int16(20, 24),
			PosPunto:  r.optional(36, 36, 38),
		}
	case recordState:
		return decodeState(r)
	case recordParameter:
		return ParameterRecord{
			ID:       uint16(r.uint(2, 6)),
			Valore:   r.int16(6, 10),
			Min:      r.int16(10, 14),
			Max:      r.int16(14, 18),
			ReadOnly: r.uint(18, 20) != 0,
			PosPunto: r.optional(20, 20, 22),
		}
	case recordSensor:
		return SensorRecord{
			ID:       uint16(r.uint(2, 6)),
			Valore:   r.int16(6, 10),
			Min:      r.int16(10, 14),
			Max:      r.int16(14, 18),
			ReadOnly: r.uint(18, 20) != 0,
		}
	case recordThermostat:
		return ThermostatRecord{
			ID:           r.uint(2, 4),
			Abilitazione: r.uint(6, 8),
			Status:       r.uint(8, 10),
			Valore:       r.uint(10, 12),
			Min:          r.uint(12, 14),
			Max:          r.uint(14, 16),
			Temperatura:  r.uint(18, 20),
		}
	case recordThermostatV2:
		return ThermostatV2Record{
			ID:          r.uint(2, 4),
			Valore:      r.int16(10, 14),
			Min:         r.int16(14, 18),
			Max:         r.int16(18, 22),
			Temperatura: r.int16(26, 30),
			PosPunto:    r.optional(30, 30, 32),
		}
	case recordPower:
		return PowerRecord{
			ID:     r.uint(2, 4),
			Valore: r.uint(4, 6),
			Min:    r.uint(6, 8),
			Max:    r.uint(8, 10),
		}
	case recordCronoEnable:
		return CronoEnableRecord{
			ID:       r.uint(2, 4),
			Stato:    r.uint(4, 6),
			Modalita: r.uint(6, 8),
		}
	}
	return nil
}

func decodeState(r *hexReader) Datapoint {
	switch sub := strings.ToLower(r.h[2:4]); sub {
	case "81":
		info := StateInfo{
			StatoCrono: r.uint(4, 6),
			Potenza:    string(rune(r.uint(6, 8))),
			Lingua:     r.uint(8, 10),
			Ricetta:    r.uint(10, 12),
			RS485Addr:  r.uint(12, 14),
		}
		if len(r.h) >= 28 {
			v := r.uint(24, 28)
			info.Termostato = &v
		}
		if len(r.h) >= 30 {
			v := r.uint(28, 30)
			info.PosPunto = &v
		}
		return info
	case "00", "01", "80":
		return StateText{ID: r.uint(2, 4), Text: latin1(r, 4)}
	}
	return nil
}

// latin1 decodes hex pairs from offset as one character per byte.
func latin1(r *hexReader, offset int) string {
	var b strings.Builder
	for i := offset; i < len(r.h); i += 2 {
		end := min(i+2, len(r.h))
		b.WriteRune(rune(r.uint(i, end)))
	}
	return b.String()
}
