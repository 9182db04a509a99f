package storage

import (
	"context"
	"io"
	"strings"

	"MediLink/pkg/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET"`
	UseSSL    bool   `env:"MINIO_USE_SSL"`
	BaseURL   string `env:"MINIO_PUBLIC_BASE"` // 对外访问域名，可选
}

// MinioConfigFromEnv 读取 MINIO_* 环境变量
func MinioConfigFromEnv() MinioConfig {
	return MinioConfig{
		Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
		AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
		SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
		Bucket:    util.GetEnvOr("MINIO_BUCKET", "medilink-backups"),
		UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
		BaseURL:   util.GetEnv("MINIO_PUBLIC_BASE"),
	}
}

type MinioStore struct {
	cfg MinioConfig
	cli *minio.Client
}

// NewMinioStore 客户端只创建一次；Endpoint 为空时返回 nil, nil
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{cfg: cfg, cli: cli}, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.cli.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return m.cli.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (m *MinioStore) Read(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := m.cli.GetObject(ctx, m.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, err
	}
	return obj, st.Size, nil
}

func (m *MinioStore) Write(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := m.cli.PutObject(ctx, m.cfg.Bucket, key, r, size, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	return m.cli.RemoveObject(ctx, m.cfg.Bucket, key, minio.RemoveObjectOptions{})
}

func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.cli.StatObject(ctx, m.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MinioStore) PublicURL(key string) string {
	if m.cfg.BaseURL != "" {
		return strings.TrimRight(m.cfg.BaseURL, "/") + "/" + key
	}
	// 回退使用 endpoint（直连需配置公共读策略）
	scheme := "http://"
	if m.cfg.UseSSL {
		scheme = "https://"
	}
	return scheme + m.cfg.Endpoint + "/" + m.cfg.Bucket + "/" + key
}
