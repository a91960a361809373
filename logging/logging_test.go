package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, err := New(Config{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("connected")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"connected"`)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}
