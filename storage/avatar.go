package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// AvatarPrefix 头像对象的目录
const AvatarPrefix = "profile_pics/"

// AvatarStore 头像存储
type AvatarStore interface {
	// Put 保存图片并返回对象 key
	Put(ctx context.Context, userID int64, filename, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
	// URL 返回对象的访问地址
	URL(key string) string
}

// AvatarKey 生成头像对象 key，保留原扩展名
func AvatarKey(userID int64, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("%s%d/%s%s", AvatarPrefix, userID, uuid.NewString(), ext)
}

// ObjectURL 拼接公共访问地址
func ObjectURL(publicURL, bucket, key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/" + bucket + "/" + key
}

// MinioAvatarStore MinIO 实现
type MinioAvatarStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioAvatarStore 创建 MinIO 头像存储
func NewMinioAvatarStore(client *minio.Client, bucket, publicURL string) *MinioAvatarStore {
	return &MinioAvatarStore{client: client, bucket: bucket, publicURL: publicURL}
}

func (s *MinioAvatarStore) Put(ctx context.Context, userID int64, filename, contentType string, r io.Reader, size int64) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("MinIO 客户端未初始化")
	}
	key := AvatarKey(userID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传头像失败: %w", err)
	}
	return key, nil
}

func (s *MinioAvatarStore) Remove(ctx context.Context, key string) error {
	if s.client == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除头像失败: %w", err)
	}
	return nil
}

func (s *MinioAvatarStore) URL(key string) string {
	return ObjectURL(s.publicURL, s.bucket, key)
}
