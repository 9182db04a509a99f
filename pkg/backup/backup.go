package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"MediLink/pkg/logger"
	"MediLink/pkg/scheduler"
	"MediLink/pkg/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 备份参数
type Options struct {
	Driver   string // 仅支持 sqlite（含空值）
	Dir      string // 本地快照目录
	Schedule string // cron 表达式或 @daily 之类描述符
	Keep     bool   // 上传后是否保留本地文件
}

// Backup 数据库快照，可选上传到对象存储
type Backup struct {
	db    *gorm.DB
	opts  Options
	store storage.Store
	now   func() time.Time
}

// New store 为 nil 时只保留本地快照
func New(db *gorm.DB, opts Options, store storage.Store) *Backup {
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	if opts.Schedule == "" {
		opts.Schedule = "@daily"
	}
	return &Backup{db: db, opts: opts, store: store, now: time.Now}
}

// Start 注册到 cron，失败只记日志
func (b *Backup) Start(cr *scheduler.Cron) error {
	_, err := cr.AddWithCtx(b.opts.Schedule, func(ctx context.Context) {
		path, err := b.Run(ctx)
		if err != nil {
			logger.Warn("backup failed", zap.Error(err))
			return
		}
		logger.Info("backup completed", zap.String("path", path))
	})
	return err
}

// Run 执行一次备份，返回本地快照路径（已删除时为对象键）
func (b *Backup) Run(ctx context.Context) (string, error) {
	switch b.opts.Driver {
	case "", "sqlite":
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER for backup: %s", b.opts.Driver)
	}
	if err := os.MkdirAll(b.opts.Dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	name := fmt.Sprintf("medilink_backup_%s.db", b.now().Format("20060102_150405"))
	dst := filepath.Join(b.opts.Dir, name)

	// VACUUM INTO 得到一致快照，不受写入中的 WAL 影响
	if err := b.db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error; err != nil {
		return "", fmt.Errorf("snapshot sqlite database: %w", err)
	}
	if b.store == nil {
		return dst, nil
	}
	if err := b.upload(ctx, name, dst); err != nil {
		return dst, err
	}
	if !b.opts.Keep {
		_ = os.Remove(dst)
		return name, nil
	}
	return dst, nil
}

func (b *Backup) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := b.store.Write(ctx, key, f, st.Size()); err != nil {
		return fmt.Errorf("upload backup %s: %w", key, err)
	}
	return nil
}
