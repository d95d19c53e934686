package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "civicwatch/pkg/domain-errors"
)

func TestApprovalRating(t *testing.T) {
	tests := []struct {
		name     string
		up, down int
		want     int
	}{
		{"no votes defaults to 50", 0, 0, 50},
		{"all up", 3, 0, 100},
		{"all down", 0, 4, 0},
		{"two thirds rounds up", 2, 1, 67},
		{"one third rounds down", 1, 2, 33},
		{"exact half", 5, 5, 50},
		{"half rounds up", 1, 7, 13}, // 12.5
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApprovalRating(tt.up, tt.down))
		})
	}
}

func TestCountersApply(t *testing.T) {
	c := Counters{VotesUp: 1, VotesDown: 1, ApprovalRating: 50}

	up := c.Apply(VoteUp)
	assert.Equal(t, Counters{VotesUp: 2, VotesDown: 1, ApprovalRating: 67}, up)
	assert.Equal(t, 2, up.Side(VoteUp))

	down := c.Apply(VoteDown)
	assert.Equal(t, Counters{VotesUp: 1, VotesDown: 2, ApprovalRating: 33}, down)
	assert.Equal(t, 2, down.Side(VoteDown))

	assert.Equal(t, 1, c.VotesUp, "receiver must not be mutated")
}

func TestParseVoteType(t *testing.T) {
	v, err := ParseVoteType("down")
	require.NoError(t, err)
	assert.Equal(t, VoteDown, v)

	_, err = ParseVoteType("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = ParseVoteType("sideways")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}
