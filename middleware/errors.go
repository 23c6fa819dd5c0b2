package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	goGate "github.com/MrEthical07/goGate"
)

const (
	msgInvalidLogin       = "Invalid Login. Try again."
	msgInvalidOTP         = "Incorrect Verification code"
	msgNotAllowed         = "Not allowed"
	msgInvalidRequest     = "Invalid Request"
	msgTooManyAttempts    = "Too many login attempts. Try again later."
	msgMaxUsers           = "Maximum number of users reached"
	msgDeliveryFailed     = "Verification code could not be sent"
	msgNotLoggedIn        = "Not logged in"
	msgNotPermitted       = "Not permitted"
	msgSessionExpired     = "Session expired"
	msgSessionStopped     = "Session Stopped"
	msgServiceUnavailable = "Service Unavailable"
	msgBadRequest         = "Bad Request"
	msgInternal           = "Internal Server Error"
)

type errorBody struct {
	Message string `json:"message"`
}

// StatusFor maps an engine error to the HTTP status and client message.
// Unrecognised errors become a bare 500.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, goGate.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidLogin
	case errors.Is(err, goGate.ErrInvalidOTP):
		return http.StatusUnauthorized, msgInvalidOTP
	case errors.Is(err, goGate.ErrPolicyRejected):
		return http.StatusForbidden, msgNotAllowed
	case errors.Is(err, goGate.ErrCSRFToken):
		return http.StatusBadRequest, msgInvalidRequest
	case errors.Is(err, goGate.ErrLoginRateLimited):
		return http.StatusTooManyRequests, msgTooManyAttempts
	case errors.Is(err, goGate.ErrMaxUsersReached):
		return http.StatusForbidden, msgMaxUsers
	case errors.Is(err, goGate.ErrOTPDeliveryFailed):
		return http.StatusBadGateway, msgDeliveryFailed
	case errors.Is(err, goGate.ErrNotLoggedIn):
		return http.StatusUnauthorized, msgNotLoggedIn
	case errors.Is(err, goGate.ErrNotPermitted), errors.Is(err, goGate.ErrStandardPrincipal):
		return http.StatusForbidden, msgNotPermitted
	case errors.Is(err, goGate.ErrSessionExpired):
		return http.StatusUnauthorized, msgSessionExpired
	case errors.Is(err, goGate.ErrSessionsStopped):
		return http.StatusServiceUnavailable, msgSessionStopped
	case errors.Is(err, goGate.ErrSessionBackend), errors.Is(err, goGate.ErrEngineNotReady):
		return http.StatusServiceUnavailable, msgServiceUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, msg := StatusFor(err)
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
