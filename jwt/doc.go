// Package jwt signs and verifies second-factor tickets.
//
// A ticket is the opaque tmp_id handed to a client whose login is waiting on
// an OTP code. It binds the challenge id to the principal, tenant and channel
// so the confirm step cannot be replayed against a different challenge or
// tenant. Tickets carry no authority on their own: the challenge must still
// exist server-side.
package jwt
