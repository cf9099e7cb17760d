package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uamesh/uasc/ua"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestChannelManagerOpenAllocatesUniqueIDs(t *testing.T) {
	m := NewChannelManager(testLogger())
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		ch := m.Open()
		require.NotZero(t, ch.ChannelID())
		require.False(t, seen[ch.ChannelID()])
		seen[ch.ChannelID()] = true
	}
	require.Equal(t, 100, m.Len())
}

func TestChannelManagerGetAndDelete(t *testing.T) {
	m := NewChannelManager(testLogger())
	ch := m.Open()

	got, ok := m.Get(ch.ChannelID())
	require.True(t, ok)
	require.Same(t, ch, got)

	m.Delete(ch)
	_, ok = m.Get(ch.ChannelID())
	require.False(t, ok)
}

func TestNextTokenIDMonotonic(t *testing.T) {
	m := NewChannelManager(testLogger())
	var last uint32
	for i := 0; i < 1000; i++ {
		id := m.NextTokenID()
		require.NotZero(t, id)
		require.Greater(t, id, last)
		last = id
	}
}

func TestLifetimeExpiryClosesChannel(t *testing.T) {
	m := NewChannelManager(testLogger())
	ch := m.Open()
	token := ua.ChannelSecurityToken{ChannelID: ch.ChannelID(), TokenID: m.NextTokenID(), CreatedAt: time.Now(), RevisedLifetime: 20}
	ch.SetSecurity(NewChannelSecurity(nil, token))

	m.IssuedOrRenewed(ch, token.RevisedLifetime)

	require.Eventually(t, func() bool {
		_, ok := m.Get(ch.ChannelID())
		return !ok
	}, time.Second, 10*time.Millisecond)
	require.True(t, ch.Closed())
}

func TestRenewalBeatsLifetimeTimer(t *testing.T) {
	m := NewChannelManager(testLogger())
	ch := m.Open()
	token := ua.ChannelSecurityToken{ChannelID: ch.ChannelID(), TokenID: m.NextTokenID(), CreatedAt: time.Now(), RevisedLifetime: 30}
	sec := NewChannelSecurity(nil, token)
	ch.SetSecurity(sec)
	m.IssuedOrRenewed(ch, token.RevisedLifetime)

	// renew before the timer fires; the stale timer must be a no-op
	newToken := ua.ChannelSecurityToken{ChannelID: ch.ChannelID(), TokenID: m.NextTokenID(), CreatedAt: time.Now(), RevisedLifetime: 60000}
	sec.Renew(nil, newToken)
	m.IssuedOrRenewed(ch, newToken.RevisedLifetime)

	time.Sleep(150 * time.Millisecond)
	_, ok := m.Get(ch.ChannelID())
	require.True(t, ok)
	require.False(t, ch.Closed())
}
