package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ifuryst/crosspost/internal/service/poster"
)

// FileStore loads submission files from a directory on disk.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) resolve(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	path := filepath.Join(f.root, clean)
	if !strings.HasPrefix(path, filepath.Clean(f.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("file reference %q escapes the file root", ref)
	}
	return path, nil
}

// Load implements poster.FileLoader.
func (f *FileStore) Load(ctx context.Context, ref string) (poster.PostFile, error) {
	if err := ctx.Err(); err != nil {
		return poster.PostFile{}, err
	}
	if ref == "" {
		return poster.PostFile{}, fmt.Errorf("empty file reference")
	}

	path, err := f.resolve(ref)
	if err != nil {
		return poster.PostFile{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return poster.PostFile{}, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	return poster.PostFile{
		Name:     filepath.Base(path),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}
