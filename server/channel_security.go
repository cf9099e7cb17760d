package server

import (
	"sync"

	"github.com/uamesh/uasc/ua"
)

// SecurityEpoch pairs a symmetric key set with the token that identifies it.
type SecurityEpoch struct {
	Keys  *SecuritySecrets
	Token ua.ChannelSecurityToken
}

// ChannelSecurity holds the current key epoch of a channel and, during the
// overlap window after a renewal, the previous one. The previous epoch is
// discarded as soon as the first symmetric message under the new token id is
// received.
type ChannelSecurity struct {
	mu       sync.RWMutex
	current  SecurityEpoch
	previous *SecurityEpoch
}

// NewChannelSecurity constructs the security state for a freshly issued
// token.
func NewChannelSecurity(keys *SecuritySecrets, token ua.ChannelSecurityToken) *ChannelSecurity {
	return &ChannelSecurity{current: SecurityEpoch{Keys: keys, Token: token}}
}

// Current returns the current epoch.
func (s *ChannelSecurity) Current() SecurityEpoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Previous returns the previous epoch, or nil outside the renewal overlap
// window.
func (s *ChannelSecurity) Previous() *SecurityEpoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// CurrentTokenID returns the token id of the current epoch.
func (s *ChannelSecurity) CurrentTokenID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token.TokenID
}

// Renew installs a new current epoch, rotating the old current epoch into
// previous. The epoch being rotated out is always the current one, so a
// second renewal before activation never duplicates an epoch.
func (s *ChannelSecurity) Renew(keys *SecuritySecrets, token ua.ChannelSecurityToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current
	s.previous = &old
	s.current = SecurityEpoch{Keys: keys, Token: token}
}

// EpochFor returns the epoch matching the token id. Receiving the first
// message under the current (renewed) token id activates it, discarding the
// previous epoch.
func (s *ChannelSecurity) EpochFor(tokenID uint32) (SecurityEpoch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokenID == s.current.Token.TokenID {
		s.previous = nil
		return s.current, true
	}
	if s.previous != nil && tokenID == s.previous.Token.TokenID {
		return *s.previous, true
	}
	return SecurityEpoch{}, false
}
