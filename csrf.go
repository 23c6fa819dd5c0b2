package goGate

import (
	"crypto/subtle"
	"net/http"
)

// CSRFRequired reports whether a request with method must carry a CSRF
// token. Safe methods, guests, sessions without a token, non-browser
// devices and a globally disabled check are all exempt.
func (e *Engine) CSRFRequired(req *Request, method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	if e.config.CSRF.Disabled || req.IsGuest() || req.Session.CSRFToken == "" {
		return false
	}
	return !req.isDevice(e.config.CSRF.NonBrowserDevices)
}

// ValidateCSRF checks token against the session's stored token when the
// request requires one.
func (e *Engine) ValidateCSRF(req *Request, method, token string) error {
	if !e.CSRFRequired(req, method) {
		return nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(req.Session.CSRFToken)) != 1 {
		e.metricInc(MetricCSRFRejected)
		return ErrCSRFToken
	}
	return nil
}

// CSRFToken returns the token the client must echo, empty for guests.
func (e *Engine) CSRFToken(req *Request) string {
	if req.IsGuest() {
		return ""
	}
	return req.Session.CSRFToken
}
