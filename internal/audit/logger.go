package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Actions recorded by the flows.
const (
	ActionCodeIssued     = "authorization_code.issued"
	ActionTokensIssued   = "tokens.issued"
	ActionCodeReuse      = "authorization_code.reuse_detected"
	ActionTokensRevoked  = "tokens.revoked"
	ActionLoginSucceeded = "login.succeeded"
	ActionLoginFailed    = "login.failed"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`   // Subject id or username
	Client    string    `json:"client,omitempty"` // Client id
	Target    string    `json:"target,omitempty"` // Token or code reference
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var (
	mu          sync.RWMutex
	auditLogger = zerolog.New(os.Stdout).With().Logger()
)

// SetOutput redirects audit events to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w).With().Logger()
}

// Log records an audit event.
func Log(service, action, user, client, target, details string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Action:    action,
		User:      user,
		Client:    client,
		Target:    target,
		Details:   details,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.RLock()
	logger := auditLogger
	mu.RUnlock()

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		logger.Error().
			Str("service", service).
			Str("action", action).
			Str("user", user).
			Str("client", client).
			Bool("success", success).
			Err(err).
			Msg("Audit Log (fallback)")
		return
	}
	logger.Log().RawJSON("audit_event", entry).Msg("")
}
