// Package intake validates incoming upload batches and stages accepted files
// under collision-proof names.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
	"github.com/google/uuid"
)

type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
)

var (
	ErrUnknownCategory = errors.New("intake: unknown category")
	ErrNoFiles         = errors.New("intake: no files uploaded")
	ErrUnsupportedType = errors.New("intake: unsupported file type")
	ErrTooLarge        = errors.New("intake: file exceeds size limit")
	ErrUnsafeName      = errors.New("intake: unusable file name")
)

func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(s)) {
	case CategoryImage:
		return CategoryImage, nil
	case CategoryVideo:
		return CategoryVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// ValidationError rejects a whole request. File is the first offending
// upload, empty when the request as a whole is unusable.
type ValidationError struct {
	File string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Upload is one file of an incoming request. Open may be nil when only
// Validate is used.
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

func FromMultipart(headers []*multipart.FileHeader) []Upload {
	uploads := make([]Upload, 0, len(headers))
	for _, h := range headers {
		uploads = append(uploads, Upload{
			Name: h.Filename,
			Size: h.Size,
			Open: func() (io.ReadCloser, error) { return h.Open() },
		})
	}
	return uploads
}

// File is an accepted upload. Path is set once the file has been staged.
type File struct {
	OriginalName string   `json:"originalName"`
	StoredName   string   `json:"storedName"`
	Size         int64    `json:"size"`
	Category     Category `json:"category"`
	Path         string   `json:"-"`
}

type Rule struct {
	Extensions []string
	MaxSize    int64
}

func (r Rule) allows(ext string) bool {
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

type Validator struct {
	rules map[Category]Rule
	dir   string
}

// NewValidator stages accepted files in dir.
func NewValidator(dir string, maxImageSize, maxVideoSize int64) *Validator {
	return &Validator{
		dir: dir,
		rules: map[Category]Rule{
			CategoryImage: {Extensions: []string{".jpg", ".jpeg"}, MaxSize: maxImageSize},
			CategoryVideo: {Extensions: []string{".mp4"}, MaxSize: maxVideoSize},
		},
	}
}

func (v *Validator) Dir() string {
	return v.dir
}

func (v *Validator) Rule(category Category) (Rule, bool) {
	r, ok := v.rules[category]
	return r, ok
}

// Validate checks every upload against the category's allow-list and size
// ceiling. Any rejection rejects the whole batch.
func (v *Validator) Validate(category Category, uploads []Upload) ([]File, error) {
	rule, ok := v.rules[category]
	if !ok {
		return nil, &ValidationError{Err: fmt.Errorf("%w: %q", ErrUnknownCategory, category)}
	}
	if len(uploads) == 0 {
		return nil, &ValidationError{Err: ErrNoFiles}
	}

	files := make([]File, 0, len(uploads))
	for _, u := range uploads {
		name := filepath.Base(strings.ReplaceAll(u.Name, "\\", "/"))
		if name == "" || name == "." || name == "/" {
			return nil, &ValidationError{File: u.Name, Err: ErrUnsafeName}
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !rule.allows(ext) {
			return nil, &ValidationError{
				File: u.Name,
				Err:  fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType, ext, strings.Join(rule.Extensions, ", ")),
			}
		}
		if u.Size > rule.MaxSize {
			return nil, &ValidationError{
				File: u.Name,
				Err:  fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, u.Size, rule.MaxSize),
			}
		}

		files = append(files, File{
			OriginalName: u.Name,
			StoredName:   uuid.NewString() + ext,
			Size:         u.Size,
			Category:     category,
		})
	}
	return files, nil
}

// Accept validates the batch and copies every upload into the staging
// directory. Either every file is staged or none is.
func (v *Validator) Accept(ctx context.Context, category Category, uploads []Upload) ([]File, error) {
	log := logger.FromContext(ctx)

	files, err := v.Validate(category, uploads)
	if err != nil {
		metrics.RecordUpload(string(category), "rejected", 0)
		return nil, err
	}

	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create intake dir: %w", err)
	}

	rule := v.rules[category]
	for i := range files {
		if err := ctx.Err(); err != nil {
			v.Discard(files[:i])
			return nil, err
		}

		path := filepath.Join(v.dir, files[i].StoredName)
		n, err := stage(path, uploads[i], rule.MaxSize)
		if err != nil {
			_ = os.Remove(path)
			v.Discard(files[:i])
			if errors.Is(err, ErrTooLarge) {
				metrics.RecordUpload(string(category), "rejected", 0)
				return nil, &ValidationError{File: files[i].OriginalName, Err: err}
			}
			return nil, fmt.Errorf("stage %s: %w", files[i].OriginalName, err)
		}
		files[i].Path = path
		files[i].Size = n
	}

	for _, f := range files {
		metrics.RecordUpload(string(category), "accepted", f.Size)
	}
	log.Info("uploads accepted", "category", category, "count", len(files))
	return files, nil
}

func stage(path string, u Upload, maxSize int64) (int64, error) {
	if u.Open == nil {
		return 0, errors.New("upload has no content")
	}
	src, err := u.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	// Header sizes are client supplied, so the ceiling is enforced on the
	// bytes actually written.
	n, err := io.Copy(dst, io.LimitReader(src, maxSize+1))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	if n > maxSize {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return n, nil
}

// Discard removes staged files, ignoring ones already gone.
func (v *Validator) Discard(files []File) {
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Default().Warn("failed to discard staged upload", "path", f.Path, "error", err)
		}
	}
}
