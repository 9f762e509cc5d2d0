// Package objstore 封装 MinIO 对象存储客户端（封面、预告片、学生证）
package objstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bookwise/internal/config"
)

// objectAPI Client 用到的 MinIO 方法
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Client MinIO 客户端封装
type Client struct {
	mc      objectAPI
	bucket  string
	baseURL string
}

// NewClient 创建 MinIO 客户端
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newClient(mc, cfg), nil
}

func newClient(mc objectAPI, cfg config.MinIOConfig) *Client {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "bookwise"
	}
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, bucket)
	}
	return &Client{mc: mc, bucket: bucket, baseURL: base}
}

// EnsureBucket 确保 bucket 存在
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[minio] Created bucket: %s", c.bucket)
	}
	return nil
}

// ProgressFunc 上传进度回调
type ProgressFunc func(uploaded, total int64)

// UploadRequest 上传请求
type UploadRequest struct {
	Folder      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	Progress    ProgressFunc
}

// UploadResult 上传结果
type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// ObjectKey 生成不重复的对象名：{folder}/{uuid}-{name}
func ObjectKey(folder, fileName string) string {
	return strings.Trim(folder, "/") + "/" + uuid.NewString()[:8] + "-" + sanitizeFileName(fileName)
}

// URL 对象的公开访问地址
func (c *Client) URL(key string) string {
	return c.baseURL + "/" + key
}

// Upload 校验并上传媒体文件
//
// 失败时返回 *UploadError；ctx 取消时为 KindAborted。
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Body == nil {
		return nil, invalidRequest("file body is required")
	}
	if verr := ValidateMedia(req.Folder, req.ContentType, req.Size); verr != nil {
		return nil, verr
	}

	key := ObjectKey(req.Folder, req.FileName)
	opts := minio.PutObjectOptions{ContentType: req.ContentType}
	if req.Progress != nil {
		opts.Progress = &progressReader{total: req.Size, fn: req.Progress}
	}

	info, err := c.mc.PutObject(ctx, c.bucket, key, req.Body, req.Size, opts)
	if err != nil {
		return nil, classify(ctx, "put "+key, err)
	}
	size := info.Size
	if size == 0 {
		size = req.Size
	}
	return &UploadResult{Key: key, URL: c.URL(key), Size: size, ContentType: req.ContentType}, nil
}

// UploadCredentials 客户端直传凭据
type UploadCredentials struct {
	Method    string    `json:"method"`
	UploadURL string    `json:"upload_url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"public_url"`
	Expire    time.Time `json:"expire"`
}

// PresignUpload 为客户端直传签发预签名 PUT 地址
func (c *Client) PresignUpload(ctx context.Context, folder, fileName string, ttl time.Duration) (*UploadCredentials, error) {
	if _, ok := FolderKind(folder); !ok {
		return nil, invalidRequest("unknown folder %q", folder)
	}
	if ttl <= 0 || ttl > 7*24*time.Hour {
		ttl = 15 * time.Minute
	}
	key := ObjectKey(folder, fileName)
	u, err := c.mc.PresignedPutObject(ctx, c.bucket, key, ttl)
	if err != nil {
		return nil, classify(ctx, "presign "+key, err)
	}
	return &UploadCredentials{
		Method:    "PUT",
		UploadURL: u.String(),
		Key:       key,
		PublicURL: c.URL(key),
		Expire:    time.Now().Add(ttl).UTC(),
	}, nil
}

// Exists 检查对象是否存在
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete 删除对象
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

// progressReader MinIO 通过 Read 报告已上传字节数
type progressReader struct {
	total    int64
	uploaded atomic.Int64
	fn       ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	p.fn(p.uploaded.Add(int64(n)), p.total)
	return n, nil
}
