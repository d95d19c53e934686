// Package anchor publishes report digests to an external append-only medium.
//
// Publication is best effort and never blocks the audit that produced the
// digest. Each digest is anchored at most once: a durable ledger keyed by the
// hash turns a repeated publish into a lookup of the stored reference, or a
// no-op while another run holds the claim.
package anchor

import (
	"context"
	"errors"

	"civicwatch/internal/integrity/models"
)

// Status is the outcome of one anchoring attempt.
type Status string

const (
	// StatusAnchored means this attempt published the digest.
	StatusAnchored Status = "anchored"
	// StatusAlreadyAnchored means an earlier attempt published it; Reference
	// is the stored reference.
	StatusAlreadyAnchored Status = "already_anchored"
	// StatusInFlight means another attempt currently holds the claim. Nothing
	// was published by this attempt.
	StatusInFlight Status = "in_flight"
	// StatusFailed means the digest was not anchored; a later run may retry.
	StatusFailed Status = "failed"
)

// ErrCircuitOpen is reported when publication was skipped because the medium
// has been failing.
var ErrCircuitOpen = errors.New("anchor medium circuit open")

// Result is delivered on the channel returned by Dispatch.
type Result struct {
	Digest    models.Digest
	Status    Status
	Reference string
	Err       error
}

// Failed reports whether the attempt ended in anchor_publish_failed.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// Publisher writes a digest to the external medium and returns a reference
// that locates it there.
type Publisher interface {
	Publish(ctx context.Context, d models.Digest) (string, error)
}

// Ledger records which digests are claimed or anchored.
//
// Claim returns ("", nil) when the caller now owns the claim,
// (ref, sentinel.ErrAlreadyUsed) when the digest is already anchored, and
// ("", sentinel.ErrInFlight) when another owner holds a live claim.
type Ledger interface {
	Claim(ctx context.Context, hash string) (string, error)
	Complete(ctx context.Context, hash, reference string) error
	Release(ctx context.Context, hash string) error
}
