// Package middleware adapts a goGate.Engine to net/http.
//
// # Gate
//
// [Gate] runs once per request, before any handler:
//
//  1. resolves the client IP (first X-Forwarded-For entry, else the peer
//     address, else 127.0.0.1);
//  2. resumes the session named by the sid cookie, or bootstraps Guest;
//  3. checks the CSRF token of state-mutating requests, header first and
//     then the form field, which is stripped once read;
//  4. arranges for the staged cookies to be written with the response;
//  5. aborts with 503 while sessions are stopped.
//
// The resolved [goGate.Request] is available to handlers through
// [RequestFromContext].
//
// # Handlers
//
// [LoginHandler], [LogoutHandler] and [SessionHandler] expose the engine's
// login, OTP confirmation and logout operations as JSON endpoints.
// [RequireUser] and [RequireSystemUser] guard routes.
//
// Error responses carry a generic message only. The detail behind a
// rejection lives in the audit log.
package middleware
