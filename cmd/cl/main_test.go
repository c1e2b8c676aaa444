package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/domain"
)

func TestParseMentions(t *testing.T) {
	got, err := parseMentions([]string{"p1=3", " p2 = 0 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 3, "p2": 0}, got)

	_, err = parseMentions([]string{"p1"})
	require.Error(t, err)
	_, err = parseMentions([]string{"=2"})
	require.Error(t, err)
	_, err = parseMentions([]string{"p1=high"})
	require.Error(t, err)
}

func TestEndTime(t *testing.T) {
	at, err := endTime("2030-01-02T03:04:05Z", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), at)

	before := time.Now()
	at, err = endTime("", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Hour), at, time.Minute)

	_, err = endTime("", 0)
	require.Error(t, err)
	_, err = endTime("tomorrow", 0)
	require.Error(t, err)
}

func TestParseOptionalTime(t *testing.T) {
	got, err := parseOptionalTime("--ends-after", " ")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseOptionalTime("--ends-after", "2030-01-02T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2030, got.Year())

	_, err = parseOptionalTime("--ends-before", "soon")
	assert.ErrorContains(t, err, "--ends-before")
}

func TestDescribePayload(t *testing.T) {
	assert.Equal(t, "AGREE", describePayload(domain.BallotPayload{Value: domain.Agree}))
	assert.Equal(t, `OBJECTION "too costly"`, describePayload(domain.BallotPayload{Objection: domain.Objection, Text: "too costly"}))
	assert.Equal(t, "proposal=p2", describePayload(domain.BallotPayload{ProposalID: "p2"}))
}

func TestDeref(t *testing.T) {
	s := "x"
	assert.Equal(t, "x", deref(&s))
	assert.Equal(t, "", deref[string](nil))
}
