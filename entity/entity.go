// Package entity defines the generic record model shared by the local store,
// the remote client and the sync repository.
package entity

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxIDLength bounds identifiers so they fit a primary key column and a URL path segment.
const MaxIDLength = 255

// Origin records where the current copy of a cache entry came from.
type Origin string

const (
	// OriginLocal marks a copy written locally and not yet confirmed by the remote.
	OriginLocal Origin = "local"
	// OriginRemote marks a copy served by the remote and not persisted locally.
	OriginRemote Origin = "remote"
	// OriginSynced marks a copy known to match the remote.
	OriginSynced Origin = "synced"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginLocal, OriginRemote, OriginSynced:
		return true
	}
	return false
}

// Entity is a record with an immutable identifier and a last-modified marker.
// It has value semantics: the With* helpers return modified copies.
type Entity[P any] struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Payload   P         `json:"payload"`
}

// New creates an entity stamped with updatedAt.
func New[P any](id string, payload P, updatedAt time.Time) Entity[P] {
	return Entity[P]{ID: id, Payload: payload, UpdatedAt: NormalizeTime(updatedAt)}
}

// WithPayload returns a copy of e carrying payload.
func (e Entity[P]) WithPayload(payload P) Entity[P] {
	e.Payload = payload
	return e
}

// WithUpdatedAt returns a copy of e stamped with t.
func (e Entity[P]) WithUpdatedAt(t time.Time) Entity[P] {
	e.UpdatedAt = NormalizeTime(t)
	return e
}

// WithID returns a copy of e with the given id. It is meant for assigning an id
// to a record that has none yet.
func (e Entity[P]) WithID(id string) Entity[P] {
	e.ID = id
	return e
}

// SameRecord reports whether e and other are the same logical record.
func (e Entity[P]) SameRecord(other Entity[P]) bool {
	return e.ID == other.ID
}

// NewerThan reports whether e was modified strictly after other.
func (e Entity[P]) NewerThan(other Entity[P]) bool {
	return e.UpdatedAt.After(other.UpdatedAt)
}

// Validate checks the identifier and, when the payload implements
// validation.Validatable, the payload itself.
func (e Entity[P]) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Length(1, MaxIDLength), validation.By(noControlChars)),
		validation.Field(&e.Payload),
	)
}

// ValidateID applies the identifier rules of Validate to a bare id.
func ValidateID(id string) error {
	return validation.Validate(id, validation.Required, validation.Length(1, MaxIDLength), validation.By(noControlChars))
}

func noControlChars(value any) error {
	s, _ := value.(string)
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == '/' {
			return validation.NewError("validation_id_charset", "must not contain control characters or slashes")
		}
	}
	return nil
}

// NormalizeTime converts t to UTC with microsecond precision, the finest
// resolution every supported store round-trips.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// Fingerprint hashes the canonical JSON encoding of a payload. Payloads with the
// same fingerprint are treated as identical.
func Fingerprint[P any](payload P) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}
