package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/votes"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
)

func TestInMemory_RollsBackOnError(t *testing.T) {
	s := NewInMemory()
	tenant, subject := id.TenantID(uuid.New()), id.SubjectID(uuid.New())
	s.AddSubject(tenant, subject, models.Counters{ApprovalRating: 50})
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx votes.TxStore) error {
		require.NoError(t, tx.InsertVote(ctx, models.VoteRecord{TenantID: tenant, SubjectID: subject, VoterID: id.VoterID(uuid.New())}))
		require.NoError(t, tx.UpdateCounters(ctx, tenant, subject, models.Counters{VotesUp: 1, ApprovalRating: 100}))
		_, err := tx.AppendEntry(ctx, models.VoteAuditEntry{SubjectID: subject, NewCount: 1, Delta: 1})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	c, _ := s.Counters(subject)
	assert.Equal(t, 0, c.VotesUp)
	assert.Zero(t, s.VoteCount())
	assert.Empty(t, s.Entries())
}

func TestInMemory_StagedWritesVisibleInsideTx(t *testing.T) {
	s := NewInMemory()
	tenant, subject := id.TenantID(uuid.New()), id.SubjectID(uuid.New())
	s.AddSubject(tenant, subject, models.Counters{ApprovalRating: 50})
	voter := id.VoterID(uuid.New())
	now := time.Now()

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx votes.TxStore) error {
		rec := models.VoteRecord{TenantID: tenant, SubjectID: subject, VoterID: voter}
		require.NoError(t, tx.InsertVote(ctx, rec))
		assert.ErrorIs(t, tx.InsertVote(ctx, rec), sentinel.ErrAlreadyUsed)

		require.NoError(t, tx.UpdateCounters(ctx, tenant, subject, models.Counters{VotesUp: 1}))
		c, err := tx.LockCounters(ctx, tenant, subject)
		require.NoError(t, err)
		assert.Equal(t, 1, c.VotesUp)

		e, err := tx.AppendEntry(ctx, models.VoteAuditEntry{SubjectID: subject, NewCount: 1, Delta: 1, CreatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.ID)
		n, err := tx.CountEntriesSince(ctx, subject, now.Add(-time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, s.Entries(), 1)
}

func TestInMemory_LockCountersChecksTenant(t *testing.T) {
	s := NewInMemory()
	subject := id.SubjectID(uuid.New())
	s.AddSubject(id.TenantID(uuid.New()), subject, models.Counters{})

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx votes.TxStore) error {
		_, err := tx.LockCounters(ctx, id.TenantID(uuid.New()), subject)
		return err
	})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
