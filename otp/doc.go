// Package otp issues and verifies second-factor challenges.
//
// App challenges are TOTP: the code is never transmitted and any code in the
// current or an adjacent time step is accepted. Email and SMS challenges are
// HOTP at a random counter fixed when the challenge is issued; the code is
// handed to a [Deliverer] and accepted only at that counter.
//
// A challenge verifies at most once. Consumption is a single Redis script
// that deletes the challenge and, for TOTP, advances the principal's
// last-used time step, so a code that already verified can never verify
// again, on this challenge or any other.
package otp
