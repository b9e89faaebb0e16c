package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	err := NewAppError(ErrCodeChain, "Failed to fetch", "timeout")
	assert.Equal(t, "CHAIN_ERROR: Failed to fetch (timeout)", err.Error())
	assert.NotZero(t, err.Line)

	bare := NewAppError(ErrCodeVCS, "Nothing staged")
	assert.Equal(t, "VCS_ERROR: Nothing staged", bare.Error())

	wrapped := fmt.Errorf("run failed: %w", err)
	assert.Equal(t, ErrCodeChain, ErrorCode(wrapped))
	assert.Equal(t, ErrCodeInternal, ErrorCode(errors.New("plain")))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"total_staked_nil":100}`))
	b := Fingerprint([]byte(`{"total_staked_nil":100}`))
	c := Fingerprint([]byte(`{"total_staked_nil":105}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 66)
}

func TestGenerateID(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
}

func TestInitLogger(t *testing.T) {
	require.Error(t, InitLogger("loud", "json", "stdout", ""))
	require.Error(t, InitLogger("info", "json", "file", ""))

	file := filepath.Join(t.TempDir(), "logs", "stats.log")
	require.NoError(t, InitLogger("debug", "text", "file", file))
	ComponentLogger("test").Debug("hello")
	assert.FileExists(t, file)

	require.NoError(t, InitLogger("info", "json", "stdout", ""))
}
