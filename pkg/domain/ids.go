// Package domain holds the typed identifiers shared across the audit engine.
//
// IDs are distinct named UUID types so a subject can never be passed where a
// voter or tenant is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "civicwatch/pkg/domain-errors"
)

type (
	// TenantID scopes every vote, subject and report. The nil TenantID means
	// "platform-wide" for reads and the default tenant for writes.
	TenantID uuid.UUID
	// SubjectID identifies a politician profile (the subject of votes).
	SubjectID uuid.UUID
	// VoterID identifies the citizen casting a vote.
	VoterID uuid.UUID
	// SnapshotID identifies a persisted audit snapshot.
	SnapshotID uuid.UUID
)

// parseUUID is the single validation point for every ID type.
func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID("tenant id", s)
	return TenantID(u), err
}

// ParseOptionalTenantID accepts "" as the platform-wide (nil) tenant.
func ParseOptionalTenantID(s string) (TenantID, error) {
	if s == "" {
		return TenantID{}, nil
	}
	return ParseTenantID(s)
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID("subject id", s)
	return SubjectID(u), err
}

func ParseVoterID(s string) (VoterID, error) {
	u, err := parseUUID("voter id", s)
	return VoterID(u), err
}

func ParseSnapshotID(s string) (SnapshotID, error) {
	u, err := parseUUID("snapshot id", s)
	return SnapshotID(u), err
}

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id VoterID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SnapshotID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// String renders the nil tenant as "" so platform-wide reports, cache keys and
// canonical encodings never carry the all-zero UUID.
func (id TenantID) String() string {
	if id.IsNil() {
		return ""
	}
	return uuid.UUID(id).String()
}

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id VoterID) String() string    { return uuid.UUID(id).String() }
func (id SnapshotID) String() string { return uuid.UUID(id).String() }

func (id TenantID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	parsed, err := ParseOptionalTenantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id SubjectID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = SubjectID(u)
	return nil
}

func (id SnapshotID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SnapshotID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = SnapshotID(u)
	return nil
}

func (id VoterID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *VoterID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = VoterID(u)
	return nil
}
