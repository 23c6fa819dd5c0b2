// Package audit implements the authentication event record.
//
// # Components
//
//   - [Event]: one login, logout or OTP outcome.
//   - [Log]: the durable append-only store. Appends are synchronous and
//     committed independently of any request transaction.
//   - [Sink] and [Dispatcher]: optional asynchronous fan-out (JSON lines,
//     channels) that never blocks the request path.
//   - [MemoryLog]: in-process Log used in tests and embedded setups.
//
// This package does not decide which events to emit. That belongs to the
// engine and the flow functions.
package audit
