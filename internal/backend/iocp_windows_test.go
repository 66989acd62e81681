//go:build windows

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOCPUsesDeeperSendBuffer(t *testing.T) {
	b := NewIOCP()
	assert.Equal(t, TypeIOCP, b.Type())
	assert.Equal(t, iocpBufferBytes, b.sndbuf)
	assert.Greater(t, b.sndbuf, NewStandard().sndbuf)

	require.NoError(t, b.Init())
	assert.NoError(t, b.Cleanup())
}
