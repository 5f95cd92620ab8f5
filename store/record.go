package store

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Kind names a class of record the application persists.
type Kind string

const (
	// KindClient is a client account.
	KindClient Kind = "client"
	// KindAgent is a voice agent configuration.
	KindAgent Kind = "agent"
	// KindSite is a WordPress site registration.
	KindSite Kind = "site"
)

// Kinds lists every supported record kind.
var Kinds = []Kind{KindClient, KindAgent, KindSite}

func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

var (
	idPattern    = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// ValidID reports whether id can be used as a record identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidField reports whether name can be used as a payload match field.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Record is an opaque domain entity. Its payload schema belongs to the application; the
// store only reads top-level fields for Match filters.
type Record struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedTs int64           `json:"created_ts"`
	UpdatedTs int64           `json:"updated_ts"`
}

// FindRecord is the find condition for records.
type FindRecord struct {
	Kind Kind
	ID   *string

	// Match filters on top-level payload fields by string equality.
	Match map[string]string

	// Pagination
	Limit  int
	Offset int
}

// UpsertRecord is the create-or-replace request for a record.
type UpsertRecord struct {
	Kind    Kind
	ID      string
	Payload json.RawMessage
}

// DeleteRecord is the delete request for a record.
type DeleteRecord struct {
	Kind Kind
	ID   string
}

// MaxListLimit caps the number of records returned by one ListRecords call.
const MaxListLimit = 1000

// Validate checks the find condition.
func (f *FindRecord) Validate() error {
	if f == nil {
		return fmt.Errorf("find condition is nil")
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", f.Kind)
	}
	if f.ID != nil && !ValidID(*f.ID) {
		return fmt.Errorf("invalid record id %q", *f.ID)
	}
	for field := range f.Match {
		if !ValidField(field) {
			return fmt.Errorf("invalid match field %q", field)
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	return nil
}

// Validate checks the upsert request.
func (u *UpsertRecord) Validate() error {
	if u == nil {
		return fmt.Errorf("upsert request is nil")
	}
	if !u.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", u.Kind)
	}
	if !ValidID(u.ID) {
		return fmt.Errorf("invalid record id %q", u.ID)
	}
	if len(u.Payload) == 0 || !json.Valid(u.Payload) {
		return fmt.Errorf("payload must be a JSON document")
	}
	return nil
}

// Validate checks the delete request.
func (d *DeleteRecord) Validate() error {
	if d == nil {
		return fmt.Errorf("delete request is nil")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", d.Kind)
	}
	if !ValidID(d.ID) {
		return fmt.Errorf("invalid record id %q", d.ID)
	}
	return nil
}

// EffectiveLimit returns the limit applied to a list query.
func (f *FindRecord) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
