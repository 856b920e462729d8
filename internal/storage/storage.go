// Package storage keeps uploaded chat attachments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"talentlink/internal/config"
	"talentlink/internal/domain"
)

// Storage persists an upload and returns the URL it is served from.
type Storage interface {
	Save(ctx context.Context, ownerID, name string, r io.Reader) (File, error)
}

// File describes a stored upload.
type File struct {
	URL  string `json:"file_url"`
	Name string `json:"file_name"`
	Kind string `json:"file_type"`
	Size int64  `json:"file_size"`
}

var ErrTooLarge = errors.New("file size exceeds limit")

var kinds = map[string][]string{
	"image":    {".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"},
	"document": {".pdf", ".doc", ".docx", ".txt", ".rtf"},
	"video":    {".mp4", ".avi", ".mov", ".wmv", ".flv"},
	"audio":    {".mp3", ".wav", ".ogg", ".m4a"},
	"archive":  {".zip", ".rar", ".tar", ".gz"},
}

// Kind classifies a file name by extension; ok is false for extensions not on the allowlist.
func Kind(name string) (kind string, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	for k, exts := range kinds {
		for _, e := range exts {
			if e == ext {
				return k, true
			}
		}
	}
	return "", false
}

// LocalStore writes uploads below Dir and serves them under BaseURL.
type LocalStore struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
	Now      func() time.Time
}

func NewLocalStore(cfg config.StorageConfig) *LocalStore {
	return &LocalStore{Dir: cfg.Dir, BaseURL: cfg.BaseURL, MaxBytes: cfg.MaxBytes, Now: time.Now}
}

func (s *LocalStore) Save(ctx context.Context, ownerID, name string, r io.Reader) (File, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return File{}, domain.ValidationError{Field: "file", Reason: "file name required"}
	}
	kind, ok := Kind(name)
	if !ok {
		return File{}, domain.ValidationError{Field: "file", Reason: "file type not allowed"}
	}
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	stored := fmt.Sprintf("%s_%s%s", strings.ReplaceAll(uuid.NewString(), "-", ""), now().UTC().Format("20060102_150405"), filepath.Ext(name))
	rel := path.Join("chat_files", ownerID, stored)
	full := filepath.Join(s.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return File{}, fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return File{}, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = domain.ValidationError{Field: "file", Reason: fmt.Sprintf("%s (%d bytes)", ErrTooLarge, limit)}
	}
	if err != nil {
		os.Remove(full)
		return File{}, err
	}
	return File{
		URL:  strings.TrimSuffix(s.BaseURL, "/") + "/" + rel,
		Name: name,
		Kind: kind,
		Size: n,
	}, nil
}
