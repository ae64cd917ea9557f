package filestorage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cozy-creator/captioner/internal/config"
)

// FileInfo is one result file. Name is the destination path without the
// extension.
type FileInfo struct {
	Name      string
	Extension string
	Content   []byte
}

type FileStorage interface {
	Upload(ctx context.Context, file FileInfo) (string, error)
}

func NewFileInfo(name string, extension string, content []byte) FileInfo {
	return FileInfo{
		Name:      name,
		Extension: extension,
		Content:   content,
	}
}

func NewFileStorage(ctx context.Context, cfg *config.Config) (FileStorage, error) {
	switch strings.ToLower(cfg.Client.Storage) {
	case config.StorageLocal:
		return NewLocalFileStorage(), nil
	case config.StorageS3:
		return NewS3FileStorage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStorage, cfg.Client.Storage)
	}
}
