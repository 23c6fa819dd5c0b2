// Package rate provides the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - gl:  login per identifier (tenant scoped)
//   - gli: login per client IP
//
// Policy decisions (who is throttled and when the counters reset) belong to
// the engine; this package only counts.
package rate
