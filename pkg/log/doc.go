// Package log captures structured protocol events from the LWM2M client:
// datagrams on the wire, decoded CoAP messages, registration state changes
// and errors. A Capture appends events to a CBOR trace file for later
// replay through Reader; SlogAdapter bridges them onto log/slog for
// console output.
package log
