// Package coap builds and parses the CoAP/UDP messages the LWM2M client
// exchanges with its servers. The RFC 7252 wire codec comes from
// plgd-dev/go-coap; this package adds the option handling, content formats
// and message shapes LWM2M needs on top of it.
package coap
