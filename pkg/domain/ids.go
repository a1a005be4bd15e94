// Package domain holds typed identifiers and primitives shared across the
// service. IDs are distinct types over uuid.UUID so the compiler rejects
// cross-entity assignment; Parse* functions enforce validity at trust
// boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "incentra/pkg/domain-errors"
)

// OrgID identifies the organization that owns projects and subscriptions.
type OrgID uuid.UUID

// SubscriptionID identifies a webhook subscription.
type SubscriptionID uuid.UUID

// UserID identifies a dashboard user acting on the system. Only carried as
// envelope metadata; user management lives elsewhere.
type UserID uuid.UUID

func (id OrgID) String() string          { return uuid.UUID(id).String() }
func (id SubscriptionID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }

func (id OrgID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id SubscriptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }

// Defined types do not inherit uuid.UUID's method set, so each ID implements
// encoding.TextMarshaler/TextUnmarshaler explicitly to serialize as the
// canonical UUID string.

func (id OrgID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }
func (id SubscriptionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }

func (id *OrgID) UnmarshalText(b []byte) error {
	parsed, err := ParseOrgID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *SubscriptionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubscriptionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewSubscriptionID returns a fresh random subscription ID.
func NewSubscriptionID() SubscriptionID { return SubscriptionID(uuid.New()) }

// ParseOrgID validates and returns an OrgID.
func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return OrgID{}, err
	}
	return OrgID(u), nil
}

// ParseSubscriptionID validates and returns a SubscriptionID.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SubscriptionID{}, err
	}
	return SubscriptionID(u), nil
}

// ParseUserID validates and returns a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(u), nil
}

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Every ID type parses through here so validation cannot
// drift between types.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
