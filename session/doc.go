// Package session provides Redis-backed session persistence and a compact
// versioned binary record encoding.
//
// # Redis layout
//
//   - {prefix}:{tenant}:{sid}        record, PX = remaining lifetime
//   - {prefix}u:{tenant}:{principal} ZSET sid -> creation sequence
//   - {prefix}x                      ZSET tenant\x1fprincipal\x1fsid -> expiry (ms)
//   - {prefix}seq                    monotonically increasing creation sequence
//
// The creation sequence gives every session a total order. [Store.ClearAllFor]
// snapshots the sequence before it sweeps and only removes sessions at or
// below the snapshot, so a session created while a sweep runs survives it.
//
// # What this package must NOT do
//
//   - Import goGate or any package above it.
//   - Make authentication decisions or write audit events.
package session
