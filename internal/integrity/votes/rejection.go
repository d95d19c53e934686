package votes

import (
	"fmt"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

// RejectionReason is why a well-formed vote was not accepted.
type RejectionReason string

const (
	ReasonAlreadyVoted      RejectionReason = "already_voted"
	ReasonRateLimitExceeded RejectionReason = "rate_limit_exceeded"
)

// Code maps the reason onto the domain error taxonomy.
func (r RejectionReason) Code() dErrors.Code {
	if r == ReasonRateLimitExceeded {
		return dErrors.CodeRateLimited
	}
	return dErrors.CodeConflict
}

// Rejection is returned by CastVote when the vote was refused. No state
// changed. It unwraps to a coded domain error so dErrors.HasCode works on it.
type Rejection struct {
	Reason  RejectionReason
	Subject id.SubjectID
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("vote rejected for subject %s: %s", r.Subject, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return dErrors.New(r.Reason.Code(), string(r.Reason))
}
