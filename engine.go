package goGate

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGate/credential"
	"github.com/MrEthical07/goGate/delivery"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/killswitch"
	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
	"github.com/redis/go-redis/v9"
)

// Engine is the session and authentication core. It is safe for concurrent
// use; all per-request state lives in Request.
type Engine struct {
	config Config
	logger *slog.Logger
	redis  redis.UniversalClient
	repo   principal.Repository

	hasher   *password.Hasher
	verifier *credential.Verifier
	sessions *session.Store
	limiter  *rate.Limiter
	otp      *otp.Engine
	tickets  *jwt.Manager

	deliverer otp.Deliverer
	// outbox is set only when the engine built and owns it.
	outbox *delivery.Outbox

	authLog    audit.Log
	dispatcher *audit.Dispatcher

	kill       killswitch.Switch
	fileSwitch *killswitch.File

	metrics     *Metrics
	flow        flows.Service
	loginHooks  []namedLoginHook
	logoutHooks []namedLogoutHook
	homePage    HomePageResolver
	location    *time.Location
	now         func() time.Time
}

// Close flushes the audit dispatcher and the outbox and stops the flag
// file watcher. The Redis client is left to its owner.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
	if e.outbox != nil {
		e.outbox.Close()
	}
	if e.fileSwitch != nil {
		if err := e.fileSwitch.Close(); err != nil {
			e.logger.Warn("flag file watcher close failed", "error", err)
		}
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports events the asynchronous sink could not accept.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// DeliveryStats reports outbox totals, zero when the engine owns no outbox.
func (e *Engine) DeliveryStats() (sent, failed uint64) {
	if e == nil || e.outbox == nil {
		return 0, 0
	}
	return e.outbox.Stats()
}

// Ping checks the session backend.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.sessions.Ping(ctx)
}

// SessionsStopped reports the kill-switch state.
func (e *Engine) SessionsStopped(ctx context.Context) (bool, error) {
	return e.kill.Stopped(ctx)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

/*
====================================
AUDIT
====================================
*/

const auditWriteTimeout = 5 * time.Second

// emitAudit writes ev to the durable log and then to the async sink. The
// durable write is detached from ctx so a dropped client connection cannot
// cancel it.
func (e *Engine) emitAudit(ctx context.Context, req *Request, ev audit.Event) {
	if req != nil {
		if ev.TenantID == "" {
			ev.TenantID = req.TenantID
		}
		if ev.IP == "" {
			ev.IP = req.IP
		}
	}
	if ev.Principal == "" {
		ev.Principal = principal.UnknownUser
	}

	if e.authLog != nil {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
		err := e.authLog.Append(wctx, ev)
		cancel()
		if err != nil {
			e.metricInc(MetricAuditWriteFailed)
			e.logger.Error("audit event not persisted",
				"operation", ev.Operation, "outcome", ev.Outcome, "error", err)
		}
	}
	e.dispatcher.Emit(ctx, ev)
}

func (e *Engine) auditSuccess(ctx context.Context, req *Request, op audit.Operation, user, reason, sid string) {
	ev := audit.NewEvent(e.now(), op, audit.OutcomeSuccess)
	ev.Principal = user
	ev.Reason = reason
	ev.SessionID = redactSID(sid)
	e.emitAudit(ctx, req, ev)
}

func (e *Engine) auditFailure(ctx context.Context, req *Request, op audit.Operation, user, reason string) {
	ev := audit.NewEvent(e.now(), op, audit.OutcomeFailure)
	ev.Principal = user
	ev.Reason = reason
	e.emitAudit(ctx, req, ev)
}
