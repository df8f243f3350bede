package entity

import "time"

// CacheEntry wraps an entity with the bookkeeping the sync repository needs.
// Stale is computed when the entry is emitted and is never persisted.
// RemoteKnown records that the remote has confirmed holding the id, so a
// pending update is pushed as such rather than as a create.
type CacheEntry[P any] struct {
	Entity      Entity[P] `json:"entity"`
	StoredAt    time.Time `json:"storedAt"`
	Origin      Origin    `json:"origin"`
	Checksum    string    `json:"checksum,omitempty"`
	RemoteKnown bool      `json:"remoteKnown,omitempty"`
	Stale       bool      `json:"stale,omitempty"`
}

// NewCacheEntry wraps e, computing its checksum.
func NewCacheEntry[P any](e Entity[P], origin Origin, storedAt time.Time) (CacheEntry[P], error) {
	sum, err := Fingerprint(e.Payload)
	if err != nil {
		return CacheEntry[P]{}, err
	}
	return CacheEntry[P]{
		Entity:   e,
		StoredAt: NormalizeTime(storedAt),
		Origin:   origin,
		Checksum: sum,
	}, nil
}

// ID returns the wrapped entity id.
func (c CacheEntry[P]) ID() string { return c.Entity.ID }

// Pending reports whether the entry holds a local write the remote has not confirmed.
func (c CacheEntry[P]) Pending() bool { return c.Origin == OriginLocal }

// ExpiredAt reports whether the entry is older than ttl at now. A non-positive
// ttl never expires.
func (c CacheEntry[P]) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(c.StoredAt) > ttl
}

// WithOrigin returns a copy of c with a different origin.
func (c CacheEntry[P]) WithOrigin(origin Origin) CacheEntry[P] {
	c.Origin = origin
	return c
}

// WithRemoteKnown returns a copy of c with the remote-known flag set to known.
func (c CacheEntry[P]) WithRemoteKnown(known bool) CacheEntry[P] {
	c.RemoteKnown = known
	return c
}

// MarkStale returns a copy of c flagged as a stale fallback.
func (c CacheEntry[P]) MarkStale() CacheEntry[P] {
	c.Stale = true
	return c
}
