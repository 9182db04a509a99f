package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	var s Store = NewLocalStore(t.TempDir())

	require.NoError(t, s.Write(ctx, "backups/a.db", strings.NewReader("snapshot"), 8))
	ok, err := s.Exists(ctx, "backups/a.db")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, size, err := s.Read(ctx, "backups/a.db")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.EqualValues(t, 8, size)
	assert.Equal(t, "snapshot", string(data))

	require.NoError(t, s.Delete(ctx, "backups/a.db"))
	require.NoError(t, s.Delete(ctx, "backups/a.db"))
	ok, _ = s.Exists(ctx, "backups/a.db")
	assert.False(t, ok)
}

func TestMinioStoreDisabledWithoutEndpoint(t *testing.T) {
	s, err := NewMinioStore(MinioConfig{})
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestMinioPublicURL(t *testing.T) {
	s, err := NewMinioStore(MinioConfig{Endpoint: "minio.local:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local:9000/b/x.db", s.PublicURL("x.db"))

	s.cfg.BaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/x.db", s.PublicURL("x.db"))
}
