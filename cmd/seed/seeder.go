package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/internal/shared/objstore"
	"bookwise/internal/shared/storage"
	"bookwise/pkg/logging"
)

// seedBook 图书 JSON 条目
type seedBook struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Rating      int    `json:"rating"`
	CoverURL    string `json:"coverUrl"`
	CoverColor  string `json:"coverColor"`
	Description string `json:"description"`
	TotalCopies int    `json:"totalCopies"`
	VideoURL    string `json:"videoUrl"`
	Summary     string `json:"summary"`
}

// uploader 对象存储上传
type uploader interface {
	Upload(ctx context.Context, req objstore.UploadRequest) (*objstore.UploadResult, error)
}

type seeder struct {
	store  storage.BookStore
	media  uploader
	client *http.Client
	logger *logging.Logger
	now    func() time.Time
}

func newSeeder(store storage.BookStore, media uploader, logger *logging.Logger) *seeder {
	return &seeder{
		store:  store,
		media:  media,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: logger,
		now:    time.Now,
	}
}

// Seed 依次导入图书，遇到错误即停止，返回已导入数量
func (s *seeder) Seed(ctx context.Context, books []seedBook) (int, error) {
	seeded := 0
	for _, b := range books {
		log := s.logger.With("title", b.Title)
		exists, err := s.exists(ctx, b.Title)
		if err != nil {
			return seeded, fmt.Errorf("lookup %q: %w", b.Title, err)
		}
		if exists {
			log.Info("Book already seeded, skipping")
			continue
		}

		coverURL, err := s.mirror(ctx, b.CoverURL, b.Title, objstore.FolderCovers)
		if err != nil {
			return seeded, fmt.Errorf("cover of %q: %w", b.Title, err)
		}
		log.Info("Cover uploaded", "url", coverURL)

		videoURL, err := s.mirror(ctx, b.VideoURL, b.Title, objstore.FolderTrailers)
		if err != nil {
			return seeded, fmt.Errorf("trailer of %q: %w", b.Title, err)
		}
		log.Info("Trailer uploaded", "url", videoURL)

		now := s.now().UTC()
		book := &model.Book{
			ID:              model.NewID(model.PrefixBook),
			Title:           b.Title,
			Author:          b.Author,
			Genre:           b.Genre,
			Rating:          b.Rating,
			Description:     b.Description,
			Summary:         b.Summary,
			CoverURL:        coverURL,
			CoverColor:      b.CoverColor,
			VideoURL:        videoURL,
			TotalCopies:     b.TotalCopies,
			AvailableCopies: b.TotalCopies,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.CreateBook(ctx, book); err != nil {
			return seeded, fmt.Errorf("insert %q: %w", b.Title, err)
		}
		log.Info("Book seeded", "book_id", book.ID)
		seeded++
	}
	return seeded, nil
}

func (s *seeder) exists(ctx context.Context, title string) (bool, error) {
	books, err := s.store.ListBooks(ctx, model.BookFilter{Query: title})
	if err != nil {
		return false, err
	}
	for _, b := range books {
		if strings.EqualFold(b.Title, title) {
			return true, nil
		}
	}
	return false, nil
}

// mirror 下载 src 并上传到 folder，返回对象存储中的访问地址
func (s *seeder) mirror(ctx context.Context, src, title, folder string) (string, error) {
	kind, _ := objstore.FolderKind(folder)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", src, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, kind.MaxSize()+1))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", src, err)
	}
	ext := path.Ext(urlPath(src))
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = typeByExtension(ext)
	}

	res, err := s.media.Upload(ctx, objstore.UploadRequest{
		Folder:      folder,
		FileName:    title + ext,
		ContentType: contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

// 系统 mime 表不一定包含视频类型
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
}

func typeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
