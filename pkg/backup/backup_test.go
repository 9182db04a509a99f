package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MediLink/pkg/storage"
	"MediLink/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   uint
	Name string
}

func TestRunSnapshotAndUpload(t *testing.T) {
	db, err := util.InitDatabase(util.DBOptions{DSN: filepath.Join(t.TempDir(), "src.db")})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.Create(&row{Name: "alert"}).Error)

	remote := storage.NewLocalStore(t.TempDir())
	b := New(db, Options{Dir: t.TempDir()}, remote)
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	key, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "medilink_backup_20260102_030405.db", key)

	ok, err := remote.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunKeepsLocalWithoutStore(t *testing.T) {
	db, err := util.InitDatabase(util.DBOptions{DSN: filepath.Join(t.TempDir(), "src.db")})
	require.NoError(t, err)

	b := New(db, Options{Dir: t.TempDir()}, nil)
	path, err := b.Run(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRunRejectsOtherDrivers(t *testing.T) {
	b := New(nil, Options{Driver: "mysql"}, nil)
	_, err := b.Run(context.Background())
	assert.Error(t, err)
}
