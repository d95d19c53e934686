//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseVoterID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseVoterID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE votes;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseVoterID(input)
		if err == nil {
			roundTrip, err2 := ParseVoterID(id.String())
			if err2 != nil {
				t.Errorf("Valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("Round-trip changed ID value")
			}
			if id.IsNil() {
				t.Error("nil ID accepted")
			}
		}

		if !utf8.ValidString(input) && err == nil {
			t.Error("Non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs ensures all ID types have consistent behavior.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errTenant := ParseTenantID(input)
		_, errSubject := ParseSubjectID(input)
		_, errVoter := ParseVoterID(input)
		_, errSnapshot := ParseSnapshotID(input)

		if (errTenant == nil) != (errSubject == nil) ||
			(errSubject == nil) != (errVoter == nil) ||
			(errVoter == nil) != (errSnapshot == nil) {
			t.Error("Inconsistent parsing across ID types")
		}
	})
}
