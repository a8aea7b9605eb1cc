package nsdl

import (
	"time"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// dedupKey identifies one inbound exchange: source endpoint plus message
// id.
type dedupKey struct {
	addr string
	mid  uint16
}

// dedupEntry remembers a handled inbound message id and, when one was
// produced, the serialized response to replay on duplicates.
type dedupEntry struct {
	response []byte
	seen     time.Time
}

// remember records an inbound message id with its response bytes.
func (e *Engine) remember(from transport.Addr, mid uint16, response []byte) {
	e.dedup[dedupKey{addr: from.String(), mid: mid}] = &dedupEntry{
		response: response,
		seen:     e.now(),
	}
}

// replay answers a duplicate from the cache. It reports whether the
// message id was a duplicate.
func (e *Engine) replay(from transport.Addr, mid uint16) bool {
	entry, ok := e.dedup[dedupKey{addr: from.String(), mid: mid}]
	if !ok {
		return false
	}
	if entry.response != nil {
		if err := e.cfg.Transport.Send(from, entry.response); err != nil {
			e.logger.Warn("duplicate replay failed", "error", err)
		}
	}
	return true
}

// sweepDedup drops cache entries older than the exchange lifetime. Runs on
// the execution tick.
func (e *Engine) sweepDedup() {
	cutoff := e.now().Add(-e.cfg.ExchangeLifetime)
	for k, entry := range e.dedup {
		if entry.seen.Before(cutoff) {
			delete(e.dedup, k)
		}
	}
}
