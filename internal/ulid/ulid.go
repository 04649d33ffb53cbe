// Package ulid provides a type-safe wrapper around github.com/oklog/ulid/v2
// with prefixed, sortable identifiers for queue items, drafts, and sync logs.
//
// ULIDs are lexicographically sortable by creation time, which the queues
// rely on for oldest-first draining without a secondary sort key.
package ulid

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"crypto/rand"
)

// Common prefixes for different parts of the application
const (
	// PrefixIncident marks a locally generated incident id. A queued
	// incident keeps this id until the server assigns a real one.
	PrefixIncident = "inc"

	// PrefixMedia marks a queued media item
	PrefixMedia = "med"

	// PrefixDraft marks an incident draft
	PrefixDraft = "drf"

	// PrefixSync marks a sync log entry
	PrefixSync = "sync"

	// PrefixSetting marks a persisted setting row
	PrefixSetting = "set"

	// PrefixSeparator is used to separate the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ULID wraps ulid.ULID with an optional domain prefix.
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp.
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a
// prefix identifying what the id represents (e.g. "inc" for an incident).
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a ULID string, handling both plain and prefixed forms
// (e.g. "inc-01AN4Z07BY79KA1307SR9X4MV3").
func Parse(id string) (ULID, error) {
	var rawID, prefix string

	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		prefix = id[:i]
		rawID = id[i+1:]
	} else {
		rawID = id
	}

	parsed, err := ulid.Parse(rawID)
	if err != nil {
		return ULID{}, err
	}

	return ULID{parsed, prefix}, nil
}

// Validate checks whether a string is a valid (optionally prefixed) ULID.
func Validate(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// HasPrefix reports whether an id string carries the given domain prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+PrefixSeparator)
}

// IsZero returns true if the ULID is the zero value.
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID.
func (u ULID) Prefix() string {
	return u.prefix
}

// String returns the string representation of the ULID, including the
// prefix if one is set.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// MarshalJSON implements the json.Marshaler interface.
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements the driver.Valuer interface for database serialization.
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (u *ULID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// Domain-specific ID generation helpers

// IncidentID generates a new local incident id
func IncidentID() string {
	return GenerateWithPrefix(PrefixIncident).String()
}

// MediaID generates a new queued media item id
func MediaID() string {
	return GenerateWithPrefix(PrefixMedia).String()
}

// DraftID generates a new draft id
func DraftID() string {
	return GenerateWithPrefix(PrefixDraft).String()
}

// SyncID generates a new sync log id
func SyncID() string {
	return GenerateWithPrefix(PrefixSync).String()
}

// SettingID generates a new setting row id
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}

// IsLocalIncidentID reports whether an incident id was generated locally
// (as opposed to assigned by the server). Media items bound to a local id
// must wait for the parent incident to sync before they can be attached.
func IsLocalIncidentID(id string) bool {
	return HasPrefix(id, PrefixIncident)
}
