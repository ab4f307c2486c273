package logging

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	entry, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, entry.Logger.Level)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "bogus"})
	require.Error(t, err)
}

func TestNewDefaultsToStderr(t *testing.T) {
	entry, err := New(Options{Level: "info"})
	require.NoError(t, err)
	require.Equal(t, os.Stderr, entry.Logger.Out)
}
