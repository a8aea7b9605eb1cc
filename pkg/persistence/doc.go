// Package persistence stores the Security object set between runs. The
// engine never requires it; applications opt in from their harness when
// the host provides stable storage.
package persistence
