package filestorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFileStorage writes files next to their source, creating directories
// as needed.
type LocalFileStorage struct{}

func NewLocalFileStorage() *LocalFileStorage {
	return &LocalFileStorage{}
}

func (u *LocalFileStorage) Upload(ctx context.Context, file FileInfo) (string, error) {
	filedest := fmt.Sprintf("%s%s", file.Name, file.Extension)
	if err := os.MkdirAll(filepath.Dir(filedest), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filedest, file.Content, os.FileMode(0644)); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filedest, err)
	}

	return filedest, nil
}
