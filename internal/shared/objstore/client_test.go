package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookwise/internal/config"
)

// fakeAPI 内存实现，可注入 PutObject 错误
type fakeAPI struct {
	buckets map[string]bool
	objects map[string][]byte
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if err := ctx.Err(); err != nil {
		return minio.UploadInfo{}, err
	}
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if opts.Progress != nil {
		opts.Progress.Read(make([]byte, len(data)))
	}
	f.objects[key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeAPI) PresignedPutObject(ctx context.Context, bucket, key string, expires time.Duration) (*url.URL, error) {
	return url.Parse("http://minio.local/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func (f *fakeAPI) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if _, ok := f.objects[key]; !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	}
	return minio.ObjectInfo{Key: key}, nil
}

func (f *fakeAPI) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	delete(f.objects, key)
	return nil
}

func newTestClient(api *fakeAPI) *Client {
	return newClient(api, config.MinIOConfig{Endpoint: "minio.local:9000", Bucket: "media"})
}

func TestValidateMedia(t *testing.T) {
	tests := []struct {
		name        string
		folder      string
		contentType string
		size        int64
		wantErr     bool
	}{
		{"jpeg cover", FolderCovers, "image/jpeg", 1 << 20, false},
		{"webp id card", FolderIDCards, "image/webp", 1024, false},
		{"mp4 trailer", FolderTrailers, "video/mp4", 40 << 20, false},
		{"quicktime with params", FolderTrailers, "video/quicktime; codecs=avc1", 1024, false},
		{"image too large", FolderCovers, "image/png", MaxImageSize + 1, true},
		{"video too large", FolderTrailers, "video/mp4", MaxVideoSize + 1, true},
		{"video in image folder", FolderCovers, "video/mp4", 1024, true},
		{"gif not allowed", FolderCovers, "image/gif", 1024, true},
		{"empty file", FolderCovers, "image/png", 0, true},
		{"unknown folder", "docs", "image/png", 1024, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMedia(tt.folder, tt.contentType, tt.size)
			if tt.wantErr {
				require.NotNil(t, err)
				assert.Equal(t, KindInvalidRequest, err.Kind)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("/images/cover/", "../../etc/My Cover!.png")
	assert.True(t, strings.HasPrefix(key, "images/cover/"), key)
	assert.True(t, strings.HasSuffix(key, "-My_Cover_.png"), key)
	assert.NotContains(t, key, "..")
}

func TestUploadSuccessWithProgress(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(api)
	body := bytes.Repeat([]byte("x"), 2048)

	var lastUploaded, lastTotal int64
	res, err := c.Upload(context.Background(), UploadRequest{
		Folder:      FolderCovers,
		FileName:    "cover.jpg",
		ContentType: "image/jpeg",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
		Progress: func(uploaded, total int64) {
			lastUploaded, lastTotal = uploaded, total
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), res.Size)
	assert.Equal(t, "http://minio.local:9000/media/"+res.Key, res.URL)
	assert.Equal(t, int64(2048), lastUploaded)
	assert.Equal(t, int64(2048), lastTotal)

	ok, err := c.Exists(context.Background(), res.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(context.Background(), res.Key))
	ok, err = c.Exists(context.Background(), res.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		putErr error
		cancel bool
		want   UploadErrorKind
	}{
		{"aborted", nil, true, KindAborted},
		{"rejected by server", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false, KindInvalidRequest},
		{"server failure", minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, false, KindServer},
		{"network", errors.New("dial tcp 10.0.0.1:9000: connect: connection refused"), false, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.putErr = tt.putErr
			c := newTestClient(api)

			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancel {
				cancel()
			} else {
				defer cancel()
			}

			_, err := c.Upload(ctx, UploadRequest{
				Folder: FolderCovers, FileName: "a.png", ContentType: "image/png",
				Size: 3, Body: strings.NewReader("png"),
			})
			ue, ok := AsUploadError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.want, ue.Kind)
		})
	}
}

func TestUploadValidationError(t *testing.T) {
	c := newTestClient(newFakeAPI())
	_, err := c.Upload(context.Background(), UploadRequest{
		Folder: FolderCovers, FileName: "a.mp4", ContentType: "video/mp4",
		Size: 3, Body: strings.NewReader("mp4"),
	})
	ue, ok := AsUploadError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidRequest, ue.Kind)
	assert.Equal(t, http.StatusBadRequest, ue.HTTPStatus())
	assert.False(t, ue.Retryable())
}

func TestPresignUpload(t *testing.T) {
	c := newClient(newFakeAPI(), config.MinIOConfig{Endpoint: "minio.local:9000", Bucket: "media", PublicURL: "https://cdn.example.com/"})

	creds, err := c.PresignUpload(context.Background(), FolderTrailers, "trailer.mp4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "PUT", creds.Method)
	assert.True(t, strings.HasPrefix(creds.Key, "videos/trailer/"))
	assert.Contains(t, creds.UploadURL, "X-Amz-Signature")
	assert.Equal(t, "https://cdn.example.com/"+creds.Key, creds.PublicURL)
	assert.WithinDuration(t, time.Now().Add(time.Hour), creds.Expire, 5*time.Second)

	_, err = c.PresignUpload(context.Background(), "other", "x", time.Hour)
	ue, ok := AsUploadError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidRequest, ue.Kind)
}

func TestEnsureBucket(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(api)
	require.NoError(t, c.EnsureBucket(context.Background()))
	assert.True(t, api.buckets["media"])
	require.NoError(t, c.EnsureBucket(context.Background()))
}
