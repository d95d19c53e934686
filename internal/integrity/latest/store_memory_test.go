package latest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

func TestInMemory_NoneYet(t *testing.T) {
	s := NewInMemory()
	_, ok, err := s.Get(context.Background(), id.TenantID(uuid.New()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemory_KeepsNewest(t *testing.T) {
	s := NewInMemory()
	tenant := id.TenantID(uuid.New())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := models.LatestAudit{Digest: models.Digest{Hash: "b"}, ComputedAt: now.Add(time.Minute)}
	older := models.LatestAudit{Digest: models.Digest{Hash: "a"}, ComputedAt: now}

	require.NoError(t, s.Put(context.Background(), tenant, newer))
	require.NoError(t, s.Put(context.Background(), tenant, older))

	got, ok, err := s.Get(context.Background(), tenant)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.Digest.Hash)

	_, ok, _ = s.Get(context.Background(), id.TenantID{})
	assert.False(t, ok, "tenants are isolated")
}

func TestInMemory_Invalidate(t *testing.T) {
	s := NewInMemory()
	tenant := id.TenantID(uuid.New())
	require.NoError(t, s.Put(context.Background(), tenant, models.LatestAudit{Digest: models.Digest{Hash: "a"}}))

	require.NoError(t, s.Invalidate(context.Background(), tenant))
	_, ok, err := s.Get(context.Background(), tenant)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Invalidate(context.Background(), tenant), "invalidating nothing is fine")
}
