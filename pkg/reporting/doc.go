// Package reporting tracks LWM2M observations and decides when value
// changes become notifications. Each observed node carries a token, a
// rolling notification counter, the pmin/pmax write attributes and the
// lt/gt/st numeric thresholds, evaluated against the last-sent snapshot.
package reporting
