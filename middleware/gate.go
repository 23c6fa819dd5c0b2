package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/cookie"
)

const loopback = "127.0.0.1"

type requestContextKey struct{}

// RequestFromContext returns the request resolved by Gate.
func RequestFromContext(ctx context.Context) (*goGate.Request, bool) {
	req, ok := ctx.Value(requestContextKey{}).(*goGate.Request)
	return req, ok
}

// WithRequest stores req in ctx.
func WithRequest(ctx context.Context, req *goGate.Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, req)
}

// Options tune Gate. The zero value serves a single tenant and trusts the
// forwarded-for header.
type Options struct {
	// TenantResolver maps an HTTP request to a tenant id. Nil means the
	// default tenant.
	TenantResolver func(*http.Request) string
	// CountryHeader names a geo header set by the edge proxy.
	CountryHeader string
	// DeviceParam is the query or form parameter carrying the device
	// class. Defaults to "device".
	DeviceParam string
	// IgnoreForwardedFor uses the peer address even when X-Forwarded-For
	// is present. Set it when no trusted proxy sits in front.
	IgnoreForwardedFor bool
	Logger             *slog.Logger
}

// Gate returns the request entry middleware.
func Gate(engine *goGate.Engine, opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gogate.gate")
	deviceParam := opts.DeviceParam
	if deviceParam == "" {
		deviceParam = "device"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusServiceUnavailable, msgServiceUnavailable)
				return
			}
			cfg := engine.Config()

			// -------- IDENTITY --------
			tenant := ""
			if opts.TenantResolver != nil {
				tenant = opts.TenantResolver(r)
			}
			ip := ClientIP(r, !opts.IgnoreForwardedFor)
			req := goGate.NewRequest(tenant, ip, r.URL.Query().Get(deviceParam), cfg.Cookie)
			if opts.CountryHeader != "" {
				req.Country = strings.TrimSpace(r.Header.Get(opts.CountryHeader))
			}

			// -------- SESSION --------
			sid := ""
			if c, err := r.Cookie(cookie.SID); err == nil {
				sid = cookie.Unquote(c.Value)
			}
			if err := engine.Resume(r.Context(), req, sid); err != nil {
				logger.Error("session resume failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, msgServiceUnavailable)
				return
			}

			// -------- CSRF --------
			if engine.CSRFRequired(req, r.Method) {
				token := csrfToken(r, cfg.CSRF.Header, cfg.CSRF.FormField)
				if err := engine.ValidateCSRF(req, r.Method, token); err != nil {
					writeError(w, http.StatusBadRequest, msgInvalidRequest)
					return
				}
			}

			// -------- KILL SWITCH --------
			stopped, err := engine.SessionsStopped(r.Context())
			if err != nil {
				logger.Warn("sessions stopped flag unreadable", "error", err)
			}
			if stopped {
				writeError(w, http.StatusServiceUnavailable, msgSessionStopped)
				return
			}

			cw := &cookieWriter{ResponseWriter: w, cookies: req.Cookies}
			next.ServeHTTP(cw, r.WithContext(WithRequest(r.Context(), req)))
			cw.flush()
		})
	}
}

// ClientIP resolves the client address. With trustForwarded the first
// X-Forwarded-For entry wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}
	return loopback
}

// csrfToken prefers the header. A token read from the form is removed so
// handlers never see it as an ordinary field.
func csrfToken(r *http.Request, header, field string) string {
	if header != "" {
		if t := r.Header.Get(header); t != "" {
			return t
		}
	}
	if field == "" {
		return ""
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	t := r.PostForm.Get(field)
	if t == "" {
		t = r.Form.Get(field)
	}
	r.PostForm.Del(field)
	r.Form.Del(field)
	return t
}

// cookieWriter writes the staged cookie set just before the response
// headers go out.
type cookieWriter struct {
	http.ResponseWriter
	cookies *cookie.Manager
	once    sync.Once
}

func (w *cookieWriter) flush() {
	w.once.Do(func() {
		if w.cookies != nil {
			w.cookies.Flush(w.ResponseWriter)
		}
	})
}

func (w *cookieWriter) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
