// Package client is a Go client for the clinic scheduler API. It keeps the
// credentials of one logged in device and renews an expired access token
// transparently, once per request.
package client

import "sync"

// Credentials are the tokens held by one device session.
type Credentials struct {
	AccessToken  string
	RenewalToken string
	SessionID    string
	Role         string
}

// CredentialCache is a concurrency safe holder of the current credentials.
// The zero value is an empty cache ready for use.
type CredentialCache struct {
	mu    sync.RWMutex
	creds Credentials
	set   bool
}

// NewCredentialCache returns an empty cache.
func NewCredentialCache() *CredentialCache {
	return &CredentialCache{}
}

// Store replaces the cached credentials.
func (c *CredentialCache) Store(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.set = true
}

// Load returns the cached credentials and whether any are present.
func (c *CredentialCache) Load() (Credentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds, c.set
}

// Clear forgets the cached credentials.
func (c *CredentialCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = Credentials{}
	c.set = false
}
