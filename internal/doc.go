// Package internal holds helpers private to goGate: token generation and the
// sub-packages that implement engine internals.
//
// # Sub-packages
//
//   - audit: authentication events, async sinks, durable log contract
//   - flows: login state machine, policy checks and logout orchestration
//   - rate: Redis fixed-window login throttle
//   - mocks: gomock doubles for delivery collaborators
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGate API.
//   - Log or return raw secrets; use Redact.
package internal
