package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 6, 2, hour, min, 0, 0, time.UTC)
}

func TestParseSessions(t *testing.T) {
	sessions, err := ParseSessions("07:00-16:00, 13:30-20:00")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.True(t, sessions[0].Contains(at(7, 0)))   // start inclusive
	assert.True(t, sessions[0].Contains(at(15, 59))) // just before end
	assert.False(t, sessions[0].Contains(at(16, 0))) // end exclusive
	assert.True(t, sessions[1].Contains(at(13, 30)))
	assert.False(t, sessions[1].Contains(at(20, 0)))
}

func TestParseSessions_Errors(t *testing.T) {
	for _, bad := range []string{"07:00", "07:00-25:00", "07:00-07:00", "seven-eight"} {
		_, err := ParseSessions(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSessions_Empty(t *testing.T) {
	sessions, err := ParseSessions("")
	require.NoError(t, err)
	assert.Nil(t, sessions)
	// No windows means always active.
	assert.True(t, InAnySession(sessions, at(3, 0)))
}

func TestSession_WrapsMidnight(t *testing.T) {
	sessions, err := ParseSessions("22:00-02:00")
	require.NoError(t, err)

	assert.True(t, sessions[0].Contains(at(23, 30)))
	assert.True(t, sessions[0].Contains(at(1, 0)))
	assert.False(t, sessions[0].Contains(at(12, 0)))
}

func TestInAnySession(t *testing.T) {
	sessions, err := ParseSessions("07:00-16:00,13:30-20:00")
	require.NoError(t, err)

	assert.True(t, InAnySession(sessions, at(19, 0)))  // second window only
	assert.True(t, InAnySession(sessions, at(8, 0)))   // first window only
	assert.False(t, InAnySession(sessions, at(21, 0))) // neither
}
