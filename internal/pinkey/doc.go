// Package pinkey talks to a 4HEAT PinKEY stove controller over the LAN.
//
// The device speaks a small text protocol framed like a JSON array of
// strings. Fields are hex-encoded datapoint records that are decoded here
// without a JSON parser, since payloads may carry raw bytes.
//
// # Components
//
//   - Codec: pure functions that decode status records and build commands
//     (2WL status, 2WC write, RST reset, CCG/CCS weekly schedule).
//   - Discoverer: UDP broadcast probe (CF4) that both finds the device and
//     wakes its TCP stack.
//   - Transport: a single worker draining a FIFO queue so at most one TCP
//     exchange is ever in flight. The device drops concurrent connections.
//   - Client: typed operations composed from the three pieces above.
//
// # Failure model
//
// Nothing in this package returns an error for a device that is unreachable
// or replies with garbage. Operations report success with a boolean (or a
// comma-ok value) so callers have exactly one failure idiom to check.
// Malformed records inside an otherwise valid reply decode to UnknownRecord
// and are skipped.
//
// # Thread Safety
//
// Client and Transport are safe for concurrent use. Codec functions are pure.
package pinkey
