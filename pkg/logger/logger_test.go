package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWithFile(t *testing.T) {
	dir := t.TempDir()
	err := Init(LogConfig{Level: "debug", Filename: filepath.Join(dir, "medilink.log")})
	require.NoError(t, err)
	defer Set(nil)

	Info("alert submitted", zap.String("alert_id", "a1"))
	Sync()
	assert.NotNil(t, L())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
