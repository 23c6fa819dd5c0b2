package middleware

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	goGate "github.com/MrEthical07/goGate"
)

const maxBodyBytes = 64 << 10

// loginForm is accepted as JSON or as a url-encoded form.
type loginForm struct {
	User     string `json:"usr"`
	Password string `json:"pwd"`
	OTP      string `json:"otp"`
	Ticket   string `json:"tmp_id"`
}

// LoginHandler serves primary logins and OTP confirmations. A body with
// otp and tmp_id confirms a pending login; anything else is a password
// login.
func LoginHandler(engine *goGate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := RequestFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		form, err := decodeLoginForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgBadRequest)
			return
		}

		var resp *goGate.LoginResponse
		if form.OTP != "" && form.Ticket != "" {
			resp, err = engine.ConfirmOTP(r.Context(), req, goGate.ConfirmCredentials{
				Ticket: form.Ticket,
				Code:   form.OTP,
			})
		} else {
			resp, err = engine.Login(r.Context(), req, goGate.LoginCredentials{
				Identifier: form.User,
				Password:   form.Password,
			})
		}
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeLoginForm(w http.ResponseWriter, r *http.Request) (loginForm, error) {
	var form loginForm
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&form)
		return form, err
	}
	if err := r.ParseForm(); err != nil {
		return form, err
	}
	form.User = r.Form.Get("usr")
	form.Password = r.Form.Get("pwd")
	form.OTP = r.Form.Get("otp")
	form.Ticket = r.Form.Get("tmp_id")
	return form, nil
}

// LogoutHandler ends the current session. A "user" parameter naming
// another principal logs that principal out everywhere instead, which
// requires a system user.
func LogoutHandler(engine *goGate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := RequestFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		target := strings.TrimSpace(r.FormValue("user"))
		if err := engine.Logout(r.Context(), req, target); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged Out"})
	}
}

type sessionInfo struct {
	User       string `json:"user"`
	FullName   string `json:"full_name,omitempty"`
	SystemUser bool   `json:"system_user"`
	CSRFToken  string `json:"csrf_token,omitempty"`
}

// SessionHandler describes the current session, including the CSRF token
// the client must echo on mutating requests.
func SessionHandler(engine *goGate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := RequestFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		info := sessionInfo{
			User:       req.User(),
			SystemUser: req.IsSystemUser(),
			CSRFToken:  engine.CSRFToken(req),
		}
		if !req.IsGuest() {
			info.FullName = req.Session.FullName
		}
		writeJSON(w, http.StatusOK, info)
	}
}
