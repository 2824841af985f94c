// Package session defines SessionState, the KeepAlivePulse/Reconnect
// subsystem, and the application-facing Callbacks surface, per spec §3,
// §4.8, §6, and §7.
package session

// Severity tags a session error with how the core responds to it,
// per spec §7.
type Severity int

const (
	// SeverityWarning: transient, recoverable locally.
	SeverityWarning Severity = iota
	// SeverityConnection: the underlying byte stream is degraded;
	// reconnect may be attempted.
	SeverityConnection
	// SeverityDataLoss: keystream desynchronization suspected; a Resync
	// is attempted, escalating to Critical on failure.
	SeverityDataLoss
	// SeverityCritical: handshake failure, decryption failure, resync
	// mismatch, or resource overflow. Always terminates the session.
	SeverityCritical
)

// String implements fmt.Stringer for log-friendly output.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityConnection:
		return "connection"
	case SeverityDataLoss:
		return "dataloss"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
