package server

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChannelManager is the process-wide registry of live secure channels. It
// allocates channel ids, mints token ids and arms the lifetime timer of each
// issued or renewed token.
type ChannelManager struct {
	sync.RWMutex
	logger        *zap.SugaredLogger
	channelsByID  map[uint32]*SecureChannel
	nextChannelID uint32
	nextTokenID   uint32
}

// NewChannelManager instantiates a new ChannelManager.
func NewChannelManager(logger *zap.SugaredLogger) *ChannelManager {
	return &ChannelManager{
		logger:       logger,
		channelsByID: make(map[uint32]*SecureChannel),
	}
}

// Open allocates a fresh channel id and inserts an empty SecureChannel.
func (m *ChannelManager) Open() *SecureChannel {
	m.Lock()
	defer m.Unlock()
	if m.nextChannelID == math.MaxUint32 {
		m.nextChannelID = 0
	}
	m.nextChannelID++
	ch := newSecureChannel(m.nextChannelID)
	m.channelsByID[ch.channelID] = ch
	return ch
}

// Get returns the channel registered under id.
func (m *ChannelManager) Get(id uint32) (*SecureChannel, bool) {
	m.RLock()
	defer m.RUnlock()
	ch, ok := m.channelsByID[id]
	return ch, ok
}

// Delete removes the channel from the registry.
func (m *ChannelManager) Delete(ch *SecureChannel) {
	m.Lock()
	delete(m.channelsByID, ch.ChannelID())
	m.Unlock()
}

// Len returns the number of live channels.
func (m *ChannelManager) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.channelsByID)
}

// NextTokenID mints a fresh token id, monotonic for the lifetime of the
// process, skipping zero.
func (m *ChannelManager) NextTokenID() uint32 {
	m.Lock()
	defer m.Unlock()
	if m.nextTokenID == math.MaxUint32 {
		m.nextTokenID = 0
	}
	m.nextTokenID++
	return m.nextTokenID
}

// IssuedOrRenewed arms the lifetime timer for the channel's current token.
// When the timer fires, the channel is closed only if its current token id
// is still the one the timer was armed for; a renewal in between wins the
// race and the stale timer is a no-op.
func (m *ChannelManager) IssuedOrRenewed(ch *SecureChannel, lifetimeMillis uint32) {
	sec := ch.Security()
	if sec == nil {
		return
	}
	tokenID := sec.CurrentTokenID()
	time.AfterFunc(time.Duration(lifetimeMillis)*time.Millisecond, func() {
		sec := ch.Security()
		if sec == nil || sec.CurrentTokenID() != tokenID {
			return
		}
		m.logger.Infow("secure channel lifetime expired without renewal",
			"channelID", ch.ChannelID(), "tokenID", tokenID)
		m.Close(ch)
	})
}

// Close removes the channel from the registry, marks it closed and closes
// its bound transport.
func (m *ChannelManager) Close(ch *SecureChannel) {
	m.Delete(ch)
	ch.setClosed()
	if t := ch.Transport(); t != nil {
		t.Close()
	}
}

// CloseAll closes every live channel.
func (m *ChannelManager) CloseAll() {
	m.RLock()
	channels := make([]*SecureChannel, 0, len(m.channelsByID))
	for _, ch := range m.channelsByID {
		channels = append(channels, ch)
	}
	m.RUnlock()
	for _, ch := range channels {
		m.Close(ch)
	}
}
