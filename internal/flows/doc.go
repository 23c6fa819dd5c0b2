// Package flows contains the orchestrators behind the Engine's login, OTP
// confirmation and logout operations.
//
// Each flow function accepts a typed dependency struct and returns an
// explicit outcome. Authentication failures are returned as a [Rejection]
// value, never as an error; errors are reserved for backend faults. The
// caller records the rejection in the audit log before converting it into a
// transport error.
//
// # Architecture boundaries
//
// Flow functions coordinate the credential verifier, OTP engine, login
// throttle and policy checks. They do NOT own any of these resources and
// never touch sessions or cookies; establishing the session is the
// Engine's job once a flow reports [StateSessionEstablished].
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goGate (to avoid import cycles).
//   - Write audit events.
package flows
