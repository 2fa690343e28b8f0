package core

import (
	"time"

	"github.com/google/uuid"
)

// IdentityState tracks where an identity is in its rotation lifecycle.
type IdentityState string

const (
	// IdentityAvailable means the identity may be handed to a session.
	IdentityAvailable IdentityState = "available"
	// IdentityInUse means exactly one session currently holds the identity.
	IdentityInUse IdentityState = "in_use"
	// IdentityCoolingDown means the identity is serving a mandatory non-use
	// window after repeated failures.
	IdentityCoolingDown IdentityState = "cooling_down"
	// IdentityRetired means the identity failed across consecutive cooldown
	// windows and is permanently withdrawn.
	IdentityRetired IdentityState = "retired"
)

// Identity is an egress network/browser fingerprint assigned to at most one
// active session at a time. The pool is the sole writer of its mutable
// fields; sessions only read it.
type Identity struct {
	ID        string        `json:"id"`
	ProxyURL  string        `json:"proxy_url,omitempty"`
	UserAgent string        `json:"user_agent"`
	Geo       string        `json:"geo,omitempty"`
	State     IdentityState `json:"state"`
	LastUsed  time.Time     `json:"last_used"`
	Failures  int           `json:"failures"`
}

// NewIdentity creates an available identity with a fresh ID.
func NewIdentity(proxyURL, userAgent, geo string) *Identity {
	return &Identity{
		ID:        NewID(),
		ProxyURL:  proxyURL,
		UserAgent: userAgent,
		Geo:       geo,
		State:     IdentityAvailable,
	}
}

// NewID generates a unique identifier for sessions, identities and results.
func NewID() string { return uuid.NewString() }
