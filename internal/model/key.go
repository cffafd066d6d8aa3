package model

import "time"

// DefaultValidity is how long an issued key stays valid.
const DefaultValidity = 24 * time.Hour

// Identity is the requester of a key: source address plus client fingerprint.
type Identity struct {
	IP          string `json:"ip"`
	Fingerprint string `json:"fingerprint"`
}

// Matches reports whether either half of the identity matches other.
func (id Identity) Matches(other Identity) bool {
	if id.IP != "" && id.IP == other.IP {
		return true
	}
	return id.Fingerprint != "" && id.Fingerprint == other.Fingerprint
}

type KeyRecord struct {
	Key         string     `json:"key"`
	GeneratedAt time.Time  `json:"generatedAt"`
	IP          string     `json:"ip"`
	Fingerprint string     `json:"userFingerprint"`
	Used        bool       `json:"used"`
	UsageCount  int64      `json:"usageCount"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

func (r *KeyRecord) Identity() Identity {
	return Identity{IP: r.IP, Fingerprint: r.Fingerprint}
}

func (r *KeyRecord) ExpiresAt(validity time.Duration) time.Time {
	return r.GeneratedAt.Add(validity)
}

// Expired reports whether the record's age has reached validity at now.
func (r *KeyRecord) Expired(now time.Time, validity time.Duration) bool {
	return now.Sub(r.GeneratedAt) >= validity
}

// MarkUsed records one successful validation at now.
func (r *KeyRecord) MarkUsed(now time.Time) {
	r.Used = true
	r.UsageCount++
	t := now
	r.LastUsed = &t
}

// KeyDatabase is the single persisted aggregate: every issued key by value.
type KeyDatabase struct {
	Keys map[string]*KeyRecord `json:"keys"`
}

func NewKeyDatabase() *KeyDatabase {
	return &KeyDatabase{Keys: make(map[string]*KeyRecord)}
}

// Clone returns a deep copy so a failed transaction cannot leak changes.
func (db *KeyDatabase) Clone() *KeyDatabase {
	out := &KeyDatabase{Keys: make(map[string]*KeyRecord, len(db.Keys))}
	for k, rec := range db.Keys {
		if rec == nil {
			continue
		}
		cp := *rec
		if rec.LastUsed != nil {
			t := *rec.LastUsed
			cp.LastUsed = &t
		}
		out.Keys[k] = &cp
	}
	return out
}

// RemoveExpired deletes every record whose age is at least validity and
// returns how many were dropped.
func (db *KeyDatabase) RemoveExpired(now time.Time, validity time.Duration) int {
	removed := 0
	for k, rec := range db.Keys {
		if rec.Expired(now, validity) {
			delete(db.Keys, k)
			removed++
		}
	}
	return removed
}
