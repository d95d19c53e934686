package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "civicwatch/pkg/domain-errors"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("operator-token")
	require.NoError(t, err)
	require.NoError(t, CheckHash(hash))

	t.Run("matching secret", func(t *testing.T) {
		assert.NoError(t, Verify("operator-token", hash))
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := Verify("guess", hash)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("malformed hash", func(t *testing.T) {
		err := Verify("operator-token", "plaintext")
		require.Error(t, err)
		assert.False(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestHash_RejectsEmpty(t *testing.T) {
	_, err := Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCheckHash(t *testing.T) {
	assert.Error(t, CheckHash(""))
	assert.Error(t, CheckHash("test-admin-token"))
}
