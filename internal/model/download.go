package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cozy-creator/hf-hub/hub"
	"go.uber.org/zap"
)

// Downloader prefetches model weights from the Hugging Face hub into the
// local cache so a worker can start without network access.
type Downloader struct {
	hubClient *hub.Client
	logger    *zap.Logger
}

func NewDownloader(logger *zap.Logger) *Downloader {
	return &Downloader{
		hubClient: hub.DefaultClient(),
		logger:    logger.Named("download"),
	}
}

func (d *Downloader) Download(repoID string) error {
	if d.IsDownloaded(repoID) {
		d.logger.Info("model already cached", zap.String("model", repoID))
		return nil
	}

	d.logger.Info("downloading model", zap.String("model", repoID))
	params := hub.DownloadParams{
		Repo: &hub.Repo{
			Id:       repoID,
			Type:     hub.ModelRepoType,
			Revision: hub.DefaultRevision,
		},
	}
	if _, err := d.hubClient.Download(&params); err != nil {
		return err
	}

	d.logger.Info("downloaded model", zap.String("model", repoID))
	return nil
}

// IsDownloaded reports whether the main revision of the repo has a snapshot
// in the cache.
func (d *Downloader) IsDownloaded(repoID string) bool {
	storageFolder := filepath.Join(d.hubClient.CacheDir, repoFolderName(repoID, "model"))
	commitHash, err := os.ReadFile(filepath.Join(storageFolder, "refs", "main"))
	if err != nil {
		return false
	}

	snapshot := filepath.Join(storageFolder, "snapshots", strings.TrimSpace(string(commitHash)))
	entries, err := os.ReadDir(snapshot)
	return err == nil && len(entries) > 0
}

// repoFolderName converts "org/repo" to "models--org--repo".
func repoFolderName(repoID string, repoType string) string {
	parts := append([]string{repoType + "s"}, strings.Split(repoID, "/")...)
	return strings.Join(parts, "--")
}
