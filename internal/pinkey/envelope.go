package pinkey

import "strings"

// Wire tags.
const (
	TagStatus        = "2WL"
	TagWrite         = "2WC"
	TagReset         = "RST"
	TagScheduleRead  = "CCG"
	TagScheduleWrite = "CCS"
	TagDiscovery     = "CF4"
)

// fieldSeparator splits the quoted fields of a frame.
const fieldSeparator = `","`

// ParseEnvelope splits a frame of the form ["TAG","count","field",...]
// into its fields, tag and count included.
//
// Fields may carry bytes that are not valid JSON, so the frame is split on
// the literal `","` separator instead of being decoded.
//
// Parameters:
//   - raw: The frame as received
//   - tag: The tag the frame must start with
//
// Returns:
//   - []string: All fields, tag first
//   - bool: false when the frame does not start with ["tag"
func ParseEnvelope(raw, tag string) ([]string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, `["`+tag+`"`) {
		return nil, false
	}

	inner := strings.TrimPrefix(trimmed, "[")
	inner = strings.TrimSuffix(inner, "]")

	parts := strings.Split(inner, fieldSeparator)
	parts[0] = strings.TrimPrefix(parts[0], `"`)
	last := len(parts) - 1
	parts[last] = strings.TrimSuffix(parts[last], `"`)

	return parts, true
}

// Parse2WLResponse returns the hex records of a status reply, dropping the
// tag and count fields.
func Parse2WLResponse(raw string) ([]string, bool) {
	parts, ok := ParseEnvelope(raw, TagStatus)
	if !ok {
		return nil, false
	}
	if len(parts) < 2 {
		return []string{}, true
	}
	return parts[2:], true
}

// frame renders fields as a wire frame.
func frame(fields ...string) string {
	var b strings.Builder
	b.WriteString(`["`)
	b.WriteString(strings.Join(fields, fieldSeparator))
	b.WriteString(`"]`)
	return b.String()
}
