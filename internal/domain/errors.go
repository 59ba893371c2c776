package domain

import (
	"errors"
	"time"
)

// Sentinel error kinds. Callers wrap these with %w so the tracker and the
// supervisor can classify failures without string matching.
var (
	// ErrConnection marks an unreachable host or channel.
	ErrConnection = errors.New("connection error")
	// ErrTimeout marks a call that exceeded its deadline. It feeds the
	// same backoff path as ErrConnection.
	ErrTimeout = errors.New("timeout")
	// ErrValidation marks a malformed service descriptor. Local and
	// non-fatal, scoped to one service instance.
	ErrValidation = errors.New("validation error")
	// ErrReconciliation marks a failed proxy control API call.
	ErrReconciliation = errors.New("reconciliation error")
)

// OpKind names the operation an ErrorRecord is keyed by.
type OpKind string

const (
	OpConnect   OpKind = "connect"
	OpEvents    OpKind = "events"
	OpList      OpKind = "list"
	OpInspect   OpKind = "inspect"
	OpExtract   OpKind = "extract"
	OpReconcile OpKind = "reconcile"
)

// ErrorRecord is one active failure streak for a (host, operation) pair.
// It is replaced on repeat and removed on the next success.
type ErrorRecord struct {
	Host    string    `json:"host"`
	Op      OpKind    `json:"op"`
	Message string    `json:"message"`
	Count   int       `json:"count"`
	LastAt  time.Time `json:"last_at"`
}
