package domain

import (
	"slices"
	"time"
)

// ConsentGrant records the scopes a subject granted to a client.
type ConsentGrant struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	ClientID  string     `json:"client_id"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil means no expiry
}

// IsActive reports whether the grant is still in force at now.
func (g *ConsentGrant) IsActive(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// Covers reports whether every scope is part of the grant.
func (g *ConsentGrant) Covers(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(g.Scopes, s) {
			return false
		}
	}
	return true
}
