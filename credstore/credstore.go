// Package credstore holds the AWS credential shared by all broker
// connections of a client instance.
//
// credstore splits the immutable Credential value (what a connection signs
// with) from the Store (how the current value is replaced and observed).
package credstore

import (
	"fmt"
	"sync"
	"time"
)

// Credential is an immutable set of AWS credential fields. It is only ever
// replaced wholesale in a Store, never mutated in place.
//
// A non-empty SecurityToken means the credential was obtained through a
// token exchange (STS AssumeRole) rather than supplied statically. A zero
// ExpiresAt marks a static credential with no expiry.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	SecurityToken   string
	ExpiresAt       time.Time
}

// HasToken reports whether a security token is present.
func (c Credential) HasToken() bool {
	return c.SecurityToken != ""
}

// Lifetime returns the remaining lifetime at now, or zero for static
// credentials and credentials already past their expiry.
func (c Credential) Lifetime(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() || !c.ExpiresAt.After(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Store is the lock-protected holder of the current credential and the last
// refresh error. Readers take snapshots (owned copies); writers replace the
// whole value. Safe for concurrent use by many connection goroutines.
type Store struct {
	mu      sync.RWMutex
	cred    Credential
	present bool
	lastErr string
}

// NewStore returns an empty Store. No credential is available until the
// first Replace.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current credential and whether one is
// present. The copy is never mutated by later writers, so an in-flight
// authentication keeps a consistent view even across a concurrent refresh.
func (s *Store) Snapshot() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.present
}

// Replace installs cred as the current credential and clears the last
// error. A credential whose expiry is not strictly in the future is
// rejected and the prior state is left untouched; static credentials with a
// zero ExpiresAt are accepted as-is.
func (s *Store) Replace(cred Credential) error {
	now := time.Now()
	if !cred.ExpiresAt.IsZero() && !cred.ExpiresAt.After(now) {
		return fmt.Errorf("must supply an unexpired credential: now=%d ms, exp=%d ms",
			now.UnixMilli(), cred.ExpiresAt.UnixMilli())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.present = true
	s.lastErr = ""
	return nil
}

// SetError records the reason the last refresh failed and reports whether
// the message differs from the previously recorded one. The current
// credential, which may have some life left, is untouched. Empty messages
// are ignored.
func (s *Store) SetError(msg string) (changed bool) {
	if msg == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.lastErr != msg
	s.lastErr = msg
	return changed
}

// LastError returns the most recent refresh failure reason, or "" if the
// last refresh succeeded (or none has run).
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
