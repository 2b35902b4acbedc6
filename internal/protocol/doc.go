// Package protocol implements the wire format spoken between the heatgrid
// coordinator and its workers.
//
// # Overview
//
// Each worker holds one persistent TCP connection to the coordinator for
// the whole run. Both directions carry the same framing:
//
//	┌──────────────────────┬─────────────────────────────┐
//	│ length (4 bytes, BE) │ payload (length bytes)      │
//	└──────────────────────┴─────────────────────────────┘
//
// The payload starts with a one-byte Kind and is followed by fixed-width
// big-endian fields. Float64 values travel as their raw IEEE-754 bits, so a
// band encoded by the coordinator decodes to the exact same values on the
// worker.
//
// # Messages
//
// Exactly three message types exist and Decode handles each one
// explicitly:
//
//	WorkUnit    coordinator → worker   band + halo, start/end row, width
//	ResultUnit  worker → coordinator   computed owned rows, local max change
//	Terminate   coordinator → worker   no further messages on this connection
//
// # Exchange pattern
//
//	Coordinator                          Worker
//	    │  WorkUnit (iteration t)           │
//	    │──────────────────────────────────>│
//	    │                                   │ RelaxBand
//	    │  ResultUnit                       │
//	    │<──────────────────────────────────│
//	    │            ... repeated ...       │
//	    │  Terminate                        │
//	    │──────────────────────────────────>│ close
//
// # Errors
//
// ReadFrame distinguishes two ways a stream can end:
//   - io.EOF: the peer closed the connection between frames. Workers treat
//     this as a shutdown by the coordinator.
//   - ErrTransport: the stream ended or failed inside a frame, a deadline
//     expired, or the frame was too large.
//
// Payloads that do not decode return ErrMalformed, which also matches
// ErrTransport under errors.Is; callers do not need to tell a garbled
// message apart from a dropped connection.
//
// The protocol has no authentication or encryption and is meant for
// trusted networks.
package protocol
