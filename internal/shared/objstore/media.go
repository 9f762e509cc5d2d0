package objstore

import (
	"path"
	"regexp"
	"strings"
)

// MediaKind 媒体类型
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// 上传大小限制
const (
	MaxImageSize int64 = 5 << 20
	MaxVideoSize int64 = 50 << 20
)

// 上传目录
const (
	FolderCovers   = "images/cover"
	FolderTrailers = "videos/trailer"
	FolderIDCards  = "ids"
)

var folderKinds = map[string]MediaKind{
	FolderCovers:   MediaImage,
	FolderTrailers: MediaVideo,
	FolderIDCards:  MediaImage,
}

var contentTypes = map[string]MediaKind{
	"image/jpeg":      MediaImage,
	"image/png":       MediaImage,
	"image/webp":      MediaImage,
	"video/mp4":       MediaVideo,
	"video/quicktime": MediaVideo,
}

// FolderKind 返回目录允许的媒体类型
func FolderKind(folder string) (MediaKind, bool) {
	k, ok := folderKinds[strings.Trim(folder, "/")]
	return k, ok
}

// MaxSize 媒体类型的大小上限
func (k MediaKind) MaxSize() int64 {
	if k == MediaVideo {
		return MaxVideoSize
	}
	return MaxImageSize
}

// ValidateMedia 校验目录、内容类型与大小
func ValidateMedia(folder, contentType string, size int64) *UploadError {
	want, ok := FolderKind(folder)
	if !ok {
		return invalidRequest("unknown folder %q", folder)
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	got, ok := contentTypes[ct]
	if !ok || got != want {
		return invalidRequest("content type %q is not allowed in %s", contentType, folder)
	}
	if size <= 0 {
		return invalidRequest("file is empty")
	}
	if size > want.MaxSize() {
		return invalidRequest("%s exceeds %d MB limit", want, want.MaxSize()>>20)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeFileName 去掉目录与不安全字符
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
