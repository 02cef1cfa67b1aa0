package pinkey

import "fmt"

// Write payloads.
const (
	// writeOpcode prefixes every 2WC parameter write.
	writeOpcode = "05"

	// recordIDLength is the type+id prefix (3 bytes) echoed from the read record.
	recordIDLength = 6

	onPayload  = "05040000"
	offPayload = "05050000"
)

// BuildStatusCommand returns the full datapoint dump request.
func BuildStatusCommand() string {
	return frame(TagStatus, "0")
}

// BuildResetCommand returns the error reset request.
func BuildResetCommand() string {
	return frame(TagReset, "0")
}

// BuildDirectCommand wraps a hex payload as a 2WC write.
func BuildDirectCommand(hexPayload string) string {
	return frame(TagWrite, "1", hexPayload)
}

// BuildOnCommand returns the power-on write.
func BuildOnCommand() string {
	return BuildDirectCommand(onPayload)
}

// BuildOffCommand returns the power-off write.
func BuildOffCommand() string {
	return BuildDirectCommand(offPayload)
}

// Build2WCCommand builds a parameter write addressed to the same slot the
// parameter was read from.
//
// The type and id bytes of originalHex are kept, prefixed with the write
// opcode, and followed by the new value as four hex digits. Negative values
// are sent in two's complement.
//
// Example:
//
//	Build2WCCommand("0E00C7002D001E004B0000", -5) // ["2WC","1","050E00C7fffb"]
func Build2WCCommand(originalHex string, newValue int) string {
	prefix := originalHex
	if len(prefix) > recordIDLength {
		prefix = prefix[:recordIDLength]
	}
	return BuildDirectCommand(writeOpcode + prefix + encodeWord(newValue))
}

// encodeWord renders v as a 16-bit two's complement hex word.
func encodeWord(v int) string {
	if v < 0 {
		v += 65536
	}
	return fmt.Sprintf("%04x", v&0xffff)
}
