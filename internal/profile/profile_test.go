package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileOrdering(t *testing.T) {
	assert.True(t, PowerSaver.Less(Balanced))
	assert.True(t, Balanced.Less(Performance))
	assert.False(t, Performance.Less(PowerSaver))
	assert.Equal(t, PowerSaver, Min(PowerSaver, Performance))
}

func TestParse(t *testing.T) {
	p, err := Parse("balanced")
	require.NoError(t, err)
	assert.Equal(t, Balanced, p)

	_, err = Parse("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestDegradationSetString(t *testing.T) {
	set := make(DegradationSet)
	assert.Equal(t, "", set.String())

	set.Add(DegradationHighOperatingTemp)
	set.Add(DegradationLapDetected)
	set.Add("")

	assert.Equal(t, "high-operating-temperature,lap-detected", set.String())
}

func TestCookiesNeverReturnsZero(t *testing.T) {
	c := NewCookieAllocator()

	first := c.Next()
	assert.NotZero(t, first)

	second := c.Next()
	assert.NotEqual(t, first, second)
}
