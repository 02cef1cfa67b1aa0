package pinkey

import (
	"strconv"
	"strings"
)

// Schedule frame layout.
const (
	scheduleDays     = 7
	slotsPerDay      = 3
	fieldsPerSlot    = 3
	scheduleHeader   = 3 // tag, count, periodo
	fieldsPerDay     = 1 + slotsPerDay*fieldsPerSlot
	minScheduleParts = scheduleHeader + scheduleDays*fieldsPerDay

	// ccsCounterStep is added to the CCS field counter for every day written.
	ccsCounterStep = 10

	clockLength = len("HH:MM")
)

// BuildCCGCommand returns the schedule read request.
func BuildCCGCommand() string {
	return frame(TagScheduleRead, "0")
}

// ParseCCGResponse decodes a schedule reply.
//
// The reply must hold the header plus 7 days of a day number and three
// (start, end, enabled) slots. Shorter replies are rejected rather than
// partially decoded.
//
// Returns:
//   - *CronoSchedule: The decoded programme
//   - bool: false if the frame is not a CCG reply or is too short
func ParseCCGResponse(raw string) (*CronoSchedule, bool) {
	parts, ok := ParseEnvelope(raw, TagScheduleRead)
	if !ok || len(parts) < minScheduleParts {
		return nil, false
	}

	schedule := &CronoSchedule{
		Periodo:     atoi(parts[2]),
		RawResponse: strings.TrimSpace(raw),
	}

	ptr := scheduleHeader
	for d := range schedule.Days {
		day := &schedule.Days[d]
		day.DayNumber = atoi(parts[ptr])
		ptr++
		for s := range day.Slots {
			day.Slots[s] = CronoTimeSlot{
				Start:   truncate(parts[ptr], clockLength),
				End:     truncate(parts[ptr+1], clockLength),
				Enabled: truncate(parts[ptr+2], 1) == "1",
			}
			ptr += fieldsPerSlot
		}
	}

	return schedule, true
}

// BuildCCSFromSchedule serialises a schedule write with the given periodo.
// The leading counter starts at 1 and grows by 10 per day.
func BuildCCSFromSchedule(schedule *CronoSchedule, periodo int) string {
	counter := 1
	var body strings.Builder
	for _, day := range schedule.Days {
		body.WriteString(`,"` + strconv.Itoa(day.DayNumber) + `"`)
		for _, slot := range day.Slots {
			enabled := "0"
			if slot.Enabled {
				enabled = "1"
			}
			body.WriteString(`,"` + slot.Start + `","` + slot.End + `","` + enabled + `"`)
		}
		counter += ccsCounterStep
	}

	return `["` + TagScheduleWrite + `","` + strconv.Itoa(counter) + `","` + strconv.Itoa(periodo) + `"` + body.String() + `]`
}

// BuildCCSEnableCommand rewrites the schedule with its own periodo.
func BuildCCSEnableCommand(schedule *CronoSchedule) string {
	return BuildCCSFromSchedule(schedule, schedule.Periodo)
}

// BuildCCSDisableCommand rewrites the schedule with periodo off.
func BuildCCSDisableCommand(schedule *CronoSchedule) string {
	return BuildCCSFromSchedule(schedule, PeriodoOff)
}

// atoi parses a decimal field, yielding 0 for anything unparsable.
func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
