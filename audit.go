package goGate

import "github.com/MrEthical07/goGate/internal/audit"

// Authentication log types, re-exported so embedders can supply their own
// durable log or sink.
type (
	AuditEvent     = audit.Event
	AuditOperation = audit.Operation
	AuditOutcome   = audit.Outcome
	AuditLog       = audit.Log
	AuditSink      = audit.Sink
	// FailureCounter enables the Lockout settings when the audit log
	// implements it.
	FailureCounter = audit.FailureCounter
	AuditPurger    = audit.Purger
	AuditConfig    = audit.Config
)

const (
	AuditLogin   = audit.OperationLogin
	AuditLogout  = audit.OperationLogout
	AuditOTP     = audit.OperationOTP
	AuditSuccess = audit.OutcomeSuccess
	AuditFailure = audit.OutcomeFailure
)

// ErrAuditUnavailable is wrapped by durable log backends on failure.
var ErrAuditUnavailable = audit.ErrUnavailable

// NewMemoryAuditLog returns an in-process log that also counts failures.
func NewMemoryAuditLog() *audit.MemoryLog {
	return audit.NewMemoryLog()
}

// NewJSONAuditSink writes one JSON object per event to w.
var NewJSONAuditSink = audit.NewJSONWriterSink
