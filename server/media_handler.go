package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MusicFlow/config"
	"MusicFlow/logger"
	"MusicFlow/storage"

	"github.com/minio/minio-go/v7"
)

// MediaHandler 从 MinIO 读取头像文件
type MediaHandler struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMediaHandler 创建 MediaHandler 实例
func NewMediaHandler(cfg *config.Config, client *minio.Client) *MediaHandler {
	return &MediaHandler{
		client: client,
		bucket: cfg.MinioBucket,
		prefix: mediaPrefix(cfg),
	}
}

// mediaPrefix 是头像 URL 中存储桶之前的路径，例如 /media/musicflow/
func mediaPrefix(cfg *config.Config) string {
	base := "/" + strings.Trim(cfg.MinioPublicURL, "/")
	if strings.Contains(cfg.MinioPublicURL, "://") || base == "/" {
		base = "/media"
	}
	return base + "/" + cfg.MinioBucket + "/"
}

// ServeHTTP 实现 http.Handler 接口
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, h.prefix)
	if !strings.HasPrefix(objectPath, storage.AvatarPrefix) || strings.Contains(objectPath, "..") {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if h.client == nil {
		http.Error(w, "MinIO client not available", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	object, err := h.client.GetObject(ctx, h.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	contentType := info.ContentType
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, object); err != nil {
		logger.Error("[Media] 读取文件失败", logger.String("key", objectPath), logger.ErrorField(err))
	}
}
