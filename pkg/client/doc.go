// Package client is the public face of the LWM2M client: it owns the
// engine, the transport and the standard objects, and exposes the
// bootstrap, register, update and unregister operations together with the
// observer contract through which results arrive.
package client
