package waf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanListBanAndExpiry(t *testing.T) {
	b := NewBanList()

	b.Ban("192.0.2.1", "scoring", 20*time.Millisecond)
	assert.True(t, b.IsBanned("192.0.2.1"))
	assert.False(t, b.IsBanned("192.0.2.2"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsBanned("192.0.2.1"), "expired bans lift lazily")
}

func TestBanListKeepsLongerBan(t *testing.T) {
	b := NewBanList()

	b.Ban("192.0.2.1", "first", time.Hour)
	b.Ban("192.0.2.1", "second", time.Minute)

	bans := b.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, "first", bans[0].Reason, "a shorter re-ban must not shorten an active ban")

	b.Ban("192.0.2.1", "extended", 2*time.Hour)
	bans = b.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, "extended", bans[0].Reason)
}

func TestBanListUnban(t *testing.T) {
	b := NewBanList()

	b.Ban("192.0.2.1", "scoring", time.Minute)
	assert.True(t, b.Unban("192.0.2.1"))
	assert.False(t, b.IsBanned("192.0.2.1"))
	assert.False(t, b.Unban("192.0.2.1"), "unban of an unknown ip reports false")

	b.Ban("192.0.2.2", "scoring", 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, b.Unban("192.0.2.2"), "unban of an expired ban reports false")
}

func TestBanListGrey(t *testing.T) {
	b := NewBanList()

	b.MarkGrey("192.0.2.1", 20*time.Millisecond)
	assert.True(t, b.IsGrey("192.0.2.1"))
	assert.False(t, b.IsGrey("192.0.2.2"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsGrey("192.0.2.1"))
}

func TestBanListBansExcludesExpired(t *testing.T) {
	b := NewBanList()

	b.Ban("192.0.2.1", "active", time.Minute)
	b.Ban("192.0.2.2", "expiring", 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	bans := b.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, "192.0.2.1", bans[0].IP)
}

func TestBanListSizesAndSweep(t *testing.T) {
	b := NewBanList()

	b.Ban("192.0.2.1", "active", time.Minute)
	b.Ban("192.0.2.2", "expiring", 5*time.Millisecond)
	b.MarkGrey("192.0.2.3", time.Minute)
	b.MarkGrey("192.0.2.4", 5*time.Millisecond)

	time.Sleep(10 * time.Millisecond)

	bans, grey := b.Sizes()
	assert.Equal(t, 1, bans)
	assert.Equal(t, 1, grey)

	b.Sweep()

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Len(t, b.bans, 1)
	assert.Len(t, b.grey, 1)
}
