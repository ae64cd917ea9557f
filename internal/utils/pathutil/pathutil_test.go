package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path, err := ExpandPath("~/captioner.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "captioner.yaml"), path)

	path, err = ExpandPath("./captioner.yaml")
	require.NoError(t, err)
	assert.Equal(t, "./captioner.yaml", path)
}

func TestTrimExt(t *testing.T) {
	assert.Equal(t, "scans/chest", TrimExt("scans/chest.PNG"))
	assert.Equal(t, "scans/chest.v2", TrimExt("scans/chest.v2.jpg"))
	assert.Equal(t, "scans/chest", TrimExt("scans/chest"))
}
