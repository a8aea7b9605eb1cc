// Package transport abstracts datagram I/O for the LWM2M client. The
// engine sends through the Transport interface and receives through a
// push-only deliver callback; hosts supply their own implementation or use
// the UDP transport provided here.
package transport
