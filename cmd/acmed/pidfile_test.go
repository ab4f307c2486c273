package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePIDFileWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acmed.pid")
	require.NoError(t, writePIDFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestWritePIDFileEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, writePIDFile(""))
}
