// Package nsdl implements the NSDL engine at the heart of the LWM2M
// client: the registration and bootstrap state machine, the resource
// directory advertised to the server, inbound request dispatch onto the
// object tree, observation notifications, and the confirmable-message
// retransmission and deduplication bookkeeping.
//
// The engine is a single-goroutine event loop. Application calls,
// transport deliveries and timer expiries are enqueued as tagged events
// and handled one at a time in enqueue order; observer callbacks are
// invoked from the loop goroutine.
package nsdl
