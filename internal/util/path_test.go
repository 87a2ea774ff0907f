package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserPath(t *testing.T) {
	path, err := GetUserPath()
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.True(t, filepath.IsAbs(path), "home directory should be absolute: %s", path)
}
