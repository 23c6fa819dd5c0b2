// Package principal defines the authenticatable identity model and the narrow
// repository contract the authentication core uses to read and update it.
//
// # Architecture boundaries
//
// The user-management subsystem owns principals. This package only describes
// the fields the auth core reads (kind, enabled flag, aliases, login policy,
// OTP secret) and the few it writes (password hash upgrades, last login).
// Adapters over real storage live in store/sqlite and store/postgres.
//
// # What this package must NOT do
//
//   - Import goGate or any engine package (no upward imports).
//   - Validate documents, manage roles, or store permission bits.
package principal
