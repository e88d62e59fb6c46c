package waf

import (
	"sync"
	"time"
)

// banEntry records a time-boxed client ban.
type banEntry struct {
	bannedUntil time.Time
	reason      string
}

// BanList tracks banned and grey-listed client IPs with TTL expiry.
// Entries expire lazily on read and during Sweep.
type BanList struct {
	mu   sync.RWMutex
	bans map[string]banEntry
	grey map[string]time.Time
}

// NewBanList creates an empty ban list.
func NewBanList() *BanList {
	return &BanList{
		bans: make(map[string]banEntry),
		grey: make(map[string]time.Time),
	}
}

// Ban adds or extends a ban for the IP.
func (b *BanList) Ban(ip, reason string, ttl time.Duration) {
	until := time.Now().Add(ttl)
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.bans[ip]; ok && existing.bannedUntil.After(until) {
		return
	}
	b.bans[ip] = banEntry{bannedUntil: until, reason: reason}
}

// Unban removes a ban for the IP. Returns true when an active entry existed.
func (b *BanList) Unban(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.bans[ip]
	delete(b.bans, ip)
	return ok && entry.bannedUntil.After(time.Now())
}

// IsBanned reports whether the IP has an unexpired ban.
func (b *BanList) IsBanned(ip string) bool {
	b.mu.RLock()
	entry, ok := b.bans[ip]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(entry.bannedUntil) {
		b.mu.Lock()
		// Re-check under the write lock: the entry may have been extended.
		if e, ok := b.bans[ip]; ok && time.Now().After(e.bannedUntil) {
			delete(b.bans, ip)
		}
		b.mu.Unlock()
		return false
	}
	return true
}

// MarkGrey adds the IP to the grey list.
func (b *BanList) MarkGrey(ip string, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grey[ip] = time.Now().Add(ttl)
}

// IsGrey reports whether the IP has an unexpired grey entry.
func (b *BanList) IsGrey(ip string) bool {
	b.mu.RLock()
	until, ok := b.grey[ip]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(until) {
		b.mu.Lock()
		if u, ok := b.grey[ip]; ok && time.Now().After(u) {
			delete(b.grey, ip)
		}
		b.mu.Unlock()
		return false
	}
	return true
}

// BanInfo describes an active ban.
type BanInfo struct {
	IP          string    `json:"ip"`
	BannedUntil time.Time `json:"banned_until"`
	Reason      string    `json:"reason,omitempty"`
}

// Bans returns all active ban entries.
func (b *BanList) Bans() []BanInfo {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]BanInfo, 0, len(b.bans))
	for ip, entry := range b.bans {
		if entry.bannedUntil.After(now) {
			infos = append(infos, BanInfo{IP: ip, BannedUntil: entry.bannedUntil, Reason: entry.reason})
		}
	}
	return infos
}

// Sizes returns the number of active ban and grey entries.
func (b *BanList) Sizes() (bans, grey int) {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, entry := range b.bans {
		if entry.bannedUntil.After(now) {
			bans++
		}
	}
	for _, until := range b.grey {
		if until.After(now) {
			grey++
		}
	}
	return bans, grey
}

// Sweep drops expired entries.
func (b *BanList) Sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, entry := range b.bans {
		if now.After(entry.bannedUntil) {
			delete(b.bans, ip)
		}
	}
	for ip, until := range b.grey {
		if now.After(until) {
			delete(b.grey, ip)
		}
	}
}
