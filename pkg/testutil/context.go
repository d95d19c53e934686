package testutil

import (
	"context"
	"net/http"
	"time"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// WithVoter puts voterID on the request context, as the voter auth middleware
// would. An unparsable voterID leaves the request unchanged.
func WithVoter(req *http.Request, voterID string) *http.Request {
	parsed, err := id.ParseVoterID(voterID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithVoterID(req.Context(), parsed))
}

// At returns a background context whose request time is t.
func At(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

// WithRequestTime pins the request-scoped clock for req.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
