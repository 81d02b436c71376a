// Package errors provides domain-specific error types for ptyd.
//
// These types carry structured context (failing step, operation,
// retryability) so callers can tell a "would block" from a dead pty and
// a failed exec from a failed dial without string matching.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrWouldBlock is returned by non-blocking reads when no data is
	// available yet.  It is a normal, retryable outcome.
	ErrWouldBlock = errors.New("operation would block")

	// ErrQueueFull is the capacity error of the out-of-band queue.
	ErrQueueFull = errors.New("out-of-band queue is full")

	ErrNoSession          = errors.New("no console session open")
	ErrAlreadyRegistered  = errors.New("pid already registered")
	ErrTunnelClosed       = errors.New("tunnel is closed")
	ErrConsoleDisabled    = errors.New("console disabled")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// ── Structured error types ───────────────────────────────────────────

// SpawnError reports which OS-level step of starting a child failed.
type SpawnError struct {
	Step string // "openpty", "pipe", "fork", "exec"
	Path string // program being started
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Path, e.Step, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IOError is a read or write failure on a pty or pipe that ends the
// session.  Would-block conditions are never wrapped in an IOError.
type IOError struct {
	Op  string // "read", "write", "resize"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pty %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents a failure in the embedded SSH relay listener.
type SSHError struct {
	Op   string // "hostkey", "handshake", "auth", "channel"
	Addr string
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Spawn creates a SpawnError for the given step.
func Spawn(step, path string, err error) *SpawnError {
	return &SpawnError{Step: step, Path: path, Err: err}
}

// WrapIO creates an IOError.
func WrapIO(op string, err error) *IOError {
	return &IOError{Op: op, Err: err}
}

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, addr string, err error) *SSHError {
	return &SSHError{Op: op, Addr: addr, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsWouldBlock reports whether err is the non-blocking "try again" result.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}

// IsSpawn reports whether err is (or wraps) a SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.  A refused
// dial counts as retryable because the relay listener may still be
// starting up.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use ptyd/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
