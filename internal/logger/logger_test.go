package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetLevelAppliesToExistingLoggers(t *testing.T) {
	t.Cleanup(func() { SetLevel(zerolog.InfoLevel) })
	require.NoError(t, Init(Config{Level: "warn"}))
	l := WithComponent("test")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetLevel(zerolog.DebugLevel)
	assert.True(t, l.Debug().Enabled())
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init(Config{Level: "verbose"}))
}
