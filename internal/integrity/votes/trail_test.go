package votes

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

func entry(idn int64, t models.VoteType, prev, next, delta int) models.VoteAuditEntry {
	return models.VoteAuditEntry{ID: idn, VoteType: t, PreviousCount: prev, NewCount: next, Delta: delta}
}

func TestCheckTrail(t *testing.T) {
	subject := id.SubjectID(uuid.New())

	t.Run("consistent chain on both sides", func(t *testing.T) {
		r := CheckTrail(subject, []models.VoteAuditEntry{
			entry(1, models.VoteUp, 0, 1, 1),
			entry(2, models.VoteDown, 4, 5, 1),
			entry(3, models.VoteUp, 1, 2, 1),
			entry(4, models.VoteDown, 5, 6, 1),
		})
		assert.True(t, r.Consistent())
		assert.Equal(t, 4, r.Entries)
	})

	t.Run("empty trail", func(t *testing.T) {
		r := CheckTrail(subject, nil)
		assert.True(t, r.Consistent())
		assert.NotNil(t, r.Violations)
	})

	t.Run("arithmetic mismatch", func(t *testing.T) {
		r := CheckTrail(subject, []models.VoteAuditEntry{entry(7, models.VoteUp, 3, 5, 1)})
		require.Len(t, r.Violations, 1)
		assert.Equal(t, int64(7), r.Violations[0].EntryID)
		assert.Contains(t, r.Violations[0].Reason, "new count 5")
	})

	t.Run("delta outside range", func(t *testing.T) {
		r := CheckTrail(subject, []models.VoteAuditEntry{entry(1, models.VoteUp, 0, 2, 2)})
		require.Len(t, r.Violations, 1)
		assert.Contains(t, r.Violations[0].Reason, "delta 2")
	})

	t.Run("broken chain", func(t *testing.T) {
		r := CheckTrail(subject, []models.VoteAuditEntry{
			entry(1, models.VoteUp, 0, 1, 1),
			entry(2, models.VoteUp, 3, 4, 1),
		})
		require.Len(t, r.Violations, 1)
		assert.Equal(t, int64(2), r.Violations[0].EntryID)
		assert.Contains(t, r.Violations[0].Reason, "up chain broken")
	})
}

func TestRejection(t *testing.T) {
	subject := id.SubjectID(uuid.New())
	var err error = &Rejection{Reason: ReasonRateLimitExceeded, Subject: subject}

	assert.True(t, dErrors.HasCode(err, dErrors.CodeRateLimited))
	assert.Contains(t, err.Error(), "rate_limit_exceeded")
	assert.Contains(t, err.Error(), subject.String())

	var rej *Rejection
	assert.True(t, errors.As(err, &rej))
	assert.Equal(t, dErrors.CodeConflict, ReasonAlreadyVoted.Code())
}
