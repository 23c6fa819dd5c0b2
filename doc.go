// Package goGate is a session and authentication core for multi-tenant web
// servers: password login with optional second factor, Redis-backed
// sessions, CSRF protection, cookie staging and an authentication audit
// log.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. All per-request state travels in
// a [Request] built once per inbound request and passed to every call.
//
// # Login
//
// [Engine.Login] verifies credentials, applies throttling and lockout, and
// either pauses for a second factor ([LoginResponse.Pending]) or runs the
// IP and login-hour policy, the configured login hooks, and creates the
// session. [Engine.ConfirmOTP] resumes a paused login. Every rejection is
// written to the audit log before the error is returned, and the error is
// one of the generic client-facing sentinels in errors.go.
//
// # Request gate
//
// The middleware package resolves the client IP, calls [Engine.Resume],
// validates CSRF tokens with [Engine.ValidateCSRF], flushes cookies and
// honors the "sessions stopped" kill-switch.
package goGate
