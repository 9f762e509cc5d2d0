package book

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"bookwise/internal/shared/model"
)

// bookRequest 新增/更新图书的请求体
type bookRequest struct {
	Title       string `json:"title" validate:"min=2,max=100"`
	Author      string `json:"author" validate:"min=2,max=100"`
	Genre       string `json:"genre" validate:"min=2,max=50"`
	Rating      int    `json:"rating" validate:"min=1,max=5"`
	Description string `json:"description" validate:"min=10,max=1000"`
	Summary     string `json:"summary" validate:"min=10"`
	CoverURL    string `json:"cover_url" validate:"required"`
	CoverColor  string `json:"cover_color" validate:"covercolor"`
	VideoURL    string `json:"video_url" validate:"required"`
	TotalCopies int    `json:"total_copies" validate:"min=1,max=10000"`
}

var bookMessages = map[string]string{
	"title":        "title must be 2-100 characters",
	"author":       "author must be 2-100 characters",
	"genre":        "genre must be 2-50 characters",
	"rating":       "rating must be between 1 and 5",
	"description":  "description must be 10-1000 characters",
	"summary":      "summary must be at least 10 characters",
	"cover_url":    "cover_url is required",
	"cover_color":  "cover_color must be a hex color like #1c1f40",
	"video_url":    "video_url is required",
	"total_copies": "total_copies must be between 1 and 10000",
}

var coverColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	// 封面主色只接受 #RRGGBB
	v.RegisterValidation("covercolor", func(fl validator.FieldLevel) bool {
		return coverColorRe.MatchString(fl.Field().String())
	})
	return v
}

// normalize 去掉文本字段首尾空白
func (r *bookRequest) normalize() {
	for _, f := range []*string{&r.Title, &r.Author, &r.Genre, &r.Description, &r.Summary,
		&r.CoverURL, &r.CoverColor, &r.VideoURL} {
		*f = strings.TrimSpace(*f)
	}
}

// validate 返回第一条校验错误，合法时返回空串
func (r *bookRequest) validate() string {
	r.normalize()
	err := validate.Struct(r)
	if err == nil {
		return ""
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		if msg, ok := bookMessages[errs[0].Field()]; ok {
			return msg
		}
		return "invalid " + errs[0].Field()
	}
	return "invalid request body"
}

func (r *bookRequest) toModel(id string) *model.Book {
	return &model.Book{
		ID:          id,
		Title:       r.Title,
		Author:      r.Author,
		Genre:       r.Genre,
		Rating:      r.Rating,
		Description: r.Description,
		Summary:     r.Summary,
		CoverURL:    r.CoverURL,
		CoverColor:  r.CoverColor,
		VideoURL:    r.VideoURL,
		TotalCopies: r.TotalCopies,
	}
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
