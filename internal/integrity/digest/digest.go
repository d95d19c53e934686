// Package digest canonicalizes audit reports and fingerprints them.
//
// The canonical form is compact JSON with a fixed key order, integers in
// plain decimal, timestamps as RFC 3339 UTC with exactly three fractional
// digits, and lists in the order the scoring engine produced them. Nothing in
// it depends on map iteration or struct tag order.
package digest

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"civicwatch/internal/integrity/models"
)

// TimeLayout is the canonical timestamp layout.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Canonical returns the canonical byte encoding of r.
func Canonical(r models.AuditReport) []byte {
	var w writer
	w.open('{')
	w.key("schema")
	w.str(r.Schema)
	w.key("tenant")
	w.str(r.Tenant.String())
	w.key("generatedAt")
	w.str(r.GeneratedAt.UTC().Format(TimeLayout))
	w.key("healthScore")
	w.int(r.HealthScore)
	w.key("riskLevel")
	w.str(string(r.RiskLevel))

	w.key("issues")
	w.open('[')
	for _, is := range r.Issues {
		w.open('{')
		w.key("code")
		w.str(is.Code)
		w.key("severity")
		w.str(string(is.Severity))
		w.key("message")
		w.str(is.Message)
		w.close('}')
	}
	w.close(']')

	s := r.Stats
	w.key("stats")
	w.open('{')
	w.key("pendingAI")
	w.optInt(s.PendingAI)
	w.key("voteAnomalies")
	w.optInt(s.VoteAnomalies)
	w.key("staleProfiles")
	w.optInt(s.StaleProfiles)
	w.key("openComplaints")
	w.optInt(s.OpenComplaints)
	w.key("governanceStability")
	w.int(s.GovernanceStability)
	w.key("projectedStability")
	w.int(s.ProjectedStability)
	w.key("healthDrift")
	w.int(s.HealthDrift)
	w.key("stateHealth")
	w.open('[')
	for _, rh := range s.StateHealth {
		w.open('{')
		w.key("state")
		w.str(rh.State)
		w.key("healthScore")
		w.int(rh.HealthScore)
		w.close('}')
	}
	w.close(']')
	w.close('}')

	w.close('}')
	return w.buf.Bytes()
}

// Of returns the SHA-256 digest of r's canonical encoding.
func Of(r models.AuditReport) models.Digest {
	sum := sha256.Sum256(Canonical(r))
	return models.Digest{Hash: hex.EncodeToString(sum[:])}
}

// Verify reports whether hash is the digest of r. Hex case is ignored.
func Verify(r models.AuditReport, hash string) bool {
	want := Of(r).Hash
	got := strings.ToLower(strings.TrimSpace(hash))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// writer tracks whether a separator is due before the next value.
type writer struct {
	buf  bytes.Buffer
	more bool
}

func (w *writer) sep() {
	if w.more {
		w.buf.WriteByte(',')
	}
}

func (w *writer) open(c byte) {
	w.sep()
	w.buf.WriteByte(c)
	w.more = false
}

func (w *writer) close(c byte) {
	w.buf.WriteByte(c)
	w.more = true
}

func (w *writer) key(k string) {
	w.sep()
	w.quote(k)
	w.buf.WriteByte(':')
	w.more = false
}

func (w *writer) str(v string) {
	w.sep()
	w.quote(v)
	w.more = true
}

func (w *writer) int(v int) {
	w.sep()
	w.buf.WriteString(strconv.Itoa(v))
	w.more = true
}

func (w *writer) optInt(v *int) {
	if v == nil {
		w.sep()
		w.buf.WriteString("null")
		w.more = true
		return
	}
	w.int(*v)
}

// quote writes s as a JSON string without HTML escaping. Bytes that are not
// valid UTF-8 are written as \udcXX (XX the byte in hex), which no valid
// string encodes to, so distinct inputs never share an encoding.
func (w *writer) quote(s string) {
	w.buf.WriteByte('"')
	for len(s) > 0 {
		n := validPrefix(s)
		if n > 0 {
			w.escape(s[:n])
			s = s[n:]
			continue
		}
		fmt.Fprintf(&w.buf, `\udc%02x`, s[0])
		s = s[1:]
	}
	w.buf.WriteByte('"')
}

func (w *writer) escape(s string) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	// encoding a valid string cannot fail
	_ = enc.Encode(s)
	out := bytes.TrimSuffix(b.Bytes(), []byte{'\n'})
	w.buf.Write(out[1 : len(out)-1])
}

// validPrefix returns the length of the longest valid UTF-8 prefix of s.
func validPrefix(s string) int {
	i := 0
	for i < len(s) {
		r, n := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && n == 1 {
			break
		}
		i += n
	}
	return i
}
